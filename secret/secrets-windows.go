//go:build windows

package secret

import (
	"context"
	"errors"
	"strconv"

	"github.com/danieljoos/wincred"

	"github.com/quexten/bio-secure-store/errs"
)

const platformBackend = "wincred"

func openPlatform(opts Options) (Adapter, error) {
	return &WindowsSecretStore{service: opts.Service}, nil
}

// WindowsSecretStore keeps entries as generic credentials in the Windows
// Credential Manager, scoped to this machine.
type WindowsSecretStore struct {
	service string
}

func (s *WindowsSecretStore) Name() string { return platformBackend }

func (s *WindowsSecretStore) target(key string) string {
	return s.service + "-" + key
}

func (s *WindowsSecretStore) Put(ctx context.Context, key string, data []byte, p Protection) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if p.Tier > TierOS {
		return errs.New(errs.HardwareBackingUnavailable, "credential manager offers %s, %s requested", TierOS, p.Tier)
	}
	cred := wincred.NewGenericCredential(s.target(key))
	cred.CredentialBlob = data
	cred.UserName = key
	cred.Persist = wincred.PersistLocalMachine
	cred.Attributes = []wincred.CredentialAttribute{
		{Keyword: "biometric", Value: []byte(strconv.FormatBool(p.RequireBiometric))},
	}
	if err := cred.Write(); err != nil {
		return errs.Wrap(errs.PlatformStorageError, err, "write credential")
	}
	return nil
}

func (s *WindowsSecretStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	cred, err := wincred.GetGenericCredential(s.target(key))
	if errors.Is(err, wincred.ErrElementNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.PlatformStorageError, err, "read credential")
	}
	return cred.CredentialBlob, nil
}

func (s *WindowsSecretStore) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	cred, err := wincred.GetGenericCredential(s.target(key))
	if errors.Is(err, wincred.ErrElementNotFound) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.PlatformStorageError, err, "read credential")
	}
	if err := cred.Delete(); err != nil && !errors.Is(err, wincred.ErrElementNotFound) {
		return errs.Wrap(errs.PlatformStorageError, err, "delete credential")
	}
	return nil
}

func (s *WindowsSecretStore) ProbeHardware(ctx context.Context) (HardwareTier, error) {
	return TierOS, nil
}
