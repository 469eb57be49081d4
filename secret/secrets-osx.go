//go:build darwin

package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/keybase/go-keychain"

	"github.com/quexten/bio-secure-store/errs"
)

const platformBackend = "keychain"

func openPlatform(opts Options) (Adapter, error) {
	return &KeychainStore{service: opts.Service}, nil
}

// KeychainStore keeps entries as generic passwords in the login keychain.
// Items never sync to iCloud; biometric entries are only readable while the
// device is unlocked.
type KeychainStore struct {
	service string
}

func (s *KeychainStore) Name() string { return platformBackend }

func (s *KeychainStore) query(key string) keychain.Item {
	item := keychain.NewItem()
	item.SetSecClass(keychain.SecClassGenericPassword)
	item.SetService(s.service)
	item.SetAccount(key)
	return item
}

func (s *KeychainStore) Put(ctx context.Context, key string, data []byte, p Protection) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if p.Tier > TierOS {
		return errs.New(errs.HardwareBackingUnavailable, "keychain items are %s protected, %s requested", TierOS, p.Tier)
	}
	var accessible keychain.Accessible = keychain.AccessibleWhenUnlocked
	if p.RequireBiometric {
		accessible = keychain.AccessibleWhenUnlockedThisDeviceOnly
	}

	item := s.query(key)
	item.SetLabel(fmt.Sprintf("%s: %s", s.service, key))
	item.SetData(data)
	item.SetSynchronizable(keychain.SynchronizableNo)
	item.SetAccessible(accessible)
	err := keychain.AddItem(item)
	if errors.Is(err, keychain.ErrorDuplicateItem) {
		update := keychain.NewItem()
		update.SetData(data)
		update.SetAccessible(accessible)
		err = keychain.UpdateItem(s.query(key), update)
	}
	return translateKeychainError(err, "store item")
}

func (s *KeychainStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	query := s.query(key)
	query.SetMatchLimit(keychain.MatchLimitOne)
	query.SetReturnData(true)
	results, err := keychain.QueryItem(query)
	if errors.Is(err, keychain.ErrorItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateKeychainError(err, "query item")
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0].Data, nil
}

func (s *KeychainStore) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	err := keychain.DeleteItem(s.query(key))
	if errors.Is(err, keychain.ErrorItemNotFound) {
		return nil
	}
	return translateKeychainError(err, "delete item")
}

func (s *KeychainStore) ProbeHardware(ctx context.Context) (HardwareTier, error) {
	return TierOS, nil
}

func translateKeychainError(err error, op string) error {
	if err == nil {
		return nil
	}
	var kerr keychain.Error
	if !errors.As(err, &kerr) {
		return errs.Wrap(errs.PlatformStorageError, err, op)
	}
	switch kerr {
	case keychain.ErrorUserCanceled:
		return errs.Wrap(errs.AuthenticationCancelled, err, op)
	case keychain.ErrorAuthFailed:
		return errs.Wrap(errs.AuthenticationFailed, err, op)
	case keychain.ErrorInteractionNotAllowed, keychain.ErrorNotAvailable:
		return errs.Wrap(errs.AuthenticationNotAvailable, err, op)
	case keychain.ErrorNoAccessForItem, keychain.ErrorInvalidItemRef:
		return errs.Wrap(errs.EntryInvalidated, err, op)
	}
	return errs.Wrap(errs.PlatformStorageError, err, op)
}
