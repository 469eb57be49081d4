//go:build linux || freebsd || openbsd || netbsd || dragonfly

package secret

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/keybase/dbus"
	"github.com/keybase/go-keychain/secretservice"

	"github.com/quexten/bio-secure-store/errs"
)

const platformBackend = "secretservice"

const collection = dbus.ObjectPath(secretservice.DefaultCollection)

func openPlatform(opts Options) (Adapter, error) {
	return OpenSecretService(opts.Service)
}

// SecretServiceStore keeps entries in the session keyring (GNOME Keyring,
// KWallet) over the org.freedesktop.secrets D-Bus API.
type SecretServiceStore struct {
	// mu serializes D-Bus calls; keyring prompts are not safe for concurrent use.
	mu      sync.Mutex
	name    string
	service *secretservice.SecretService
	session *secretservice.Session
}

func OpenSecretService(name string) (*SecretServiceStore, error) {
	service, err := secretservice.NewService()
	if err != nil {
		return nil, errs.Wrap(errs.PlatformStorageError, err, "connect to secret service")
	}
	if err := service.Unlock([]dbus.ObjectPath{collection}); err != nil {
		return nil, translateSecretServiceError(err, "unlock default collection")
	}
	session, err := service.OpenSession(secretservice.AuthenticationDHAES)
	if err != nil {
		return nil, errs.Wrap(errs.PlatformStorageError, err, "open secret service session")
	}
	return &SecretServiceStore{name: name, service: service, session: session}, nil
}

func (s *SecretServiceStore) Name() string { return platformBackend }

// Close ends the encrypted session.
func (s *SecretServiceStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.service.CloseSession(s.session)
}

func (s *SecretServiceStore) attributes(key string) secretservice.Attributes {
	return secretservice.Attributes{"service": s.name, "account": key}
}

func (s *SecretServiceStore) Put(ctx context.Context, key string, data []byte, p Protection) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if p.Tier > TierOS {
		return errs.New(errs.HardwareBackingUnavailable, "secret service offers %s, %s requested", TierOS, p.Tier)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, err := s.session.NewSecret(data)
	if err != nil {
		return errs.Wrap(errs.PlatformStorageError, err, "encrypt for session")
	}
	attrs := map[string]string(s.attributes(key))
	attrs["biometric"] = strconv.FormatBool(p.RequireBiometric)
	props := secretservice.NewSecretProperties(fmt.Sprintf("%s: %s", s.name, key), attrs)
	if _, err := s.service.CreateItem(collection, props, secret, secretservice.ReplaceBehaviorReplace); err != nil {
		return translateSecretServiceError(err, "create item")
	}
	return nil
}

func (s *SecretServiceStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.service.SearchCollection(collection, s.attributes(key))
	if err != nil {
		return nil, translateSecretServiceError(err, "search collection")
	}
	if len(items) == 0 {
		return nil, nil
	}
	if err := s.service.Unlock(items[:1]); err != nil {
		return nil, translateSecretServiceError(err, "unlock item")
	}
	data, err := s.service.GetSecret(items[0], *s.session)
	if err != nil {
		return nil, translateSecretServiceError(err, "get secret")
	}
	return data, nil
}

func (s *SecretServiceStore) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.service.SearchCollection(collection, s.attributes(key))
	if err != nil {
		return translateSecretServiceError(err, "search collection")
	}
	for _, item := range items {
		if err := s.service.DeleteItem(item); err != nil {
			return translateSecretServiceError(err, "delete item")
		}
	}
	return nil
}

func (s *SecretServiceStore) ProbeHardware(ctx context.Context) (HardwareTier, error) {
	return TierOS, nil
}

func translateSecretServiceError(err error, op string) error {
	var dismissed secretservice.PromptDismissedError
	if errors.As(err, &dismissed) {
		return errs.Wrap(errs.AuthenticationCancelled, err, op)
	}
	var de dbus.Error
	var pde *dbus.Error
	switch {
	case errors.As(err, &de) && de.Name == "org.freedesktop.Secret.Error.IsLocked",
		errors.As(err, &pde) && pde.Name == "org.freedesktop.Secret.Error.IsLocked":
		return errs.Wrap(errs.AuthenticationNotAvailable, err, op)
	}
	return errs.Wrap(errs.PlatformStorageError, err, op)
}
