// Package securestore persists small secrets behind an OS-backed store and
// gates access to them with a biometric or user-presence check.
//
// Operations on one key are serialized from authentication through the
// backend write or read; operations on different keys run concurrently.
// Successful reads are remembered per key for the validity window in force
// when the prompt succeeded; writes always prompt. Nothing is retried implicitly: every failure is
// returned as an *errs.Error whose Kind tells the caller whether trying again
// makes sense.
package securestore

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/quexten/bio-secure-store/biometrics"
	"github.com/quexten/bio-secure-store/errs"
	"github.com/quexten/bio-secure-store/secret"
)

// DefaultPrompt is shown when neither the call nor the store configure one.
var DefaultPrompt = biometrics.Prompt{
	Title:       "Authentication required",
	Description: "Confirm your identity to access a stored secret",
	CancelLabel: "Cancel",
}

// Store is the secure secret store. It holds no durable copy of any secret.
type Store struct {
	adapter       secret.Adapter
	gate          biometrics.Gate
	logger        zerolog.Logger
	now           func() time.Time
	defaultPrompt biometrics.Prompt

	cache  *authCache
	locks  *keyLocks
	probes singleflight.Group
}

// Option configures New.
type Option func(*Store)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock replaces the time source of the validity window.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithDefaultPrompt(p biometrics.Prompt) Option {
	return func(s *Store) { s.defaultPrompt = p }
}

// New wires a store to a backend and a gate.
func New(adapter secret.Adapter, gate biometrics.Gate, opts ...Option) *Store {
	s := &Store{
		adapter:       adapter,
		gate:          gate,
		logger:        zerolog.Nop(),
		now:           time.Now,
		defaultPrompt: DefaultPrompt,
		cache:         newAuthCache(),
		locks:         newKeyLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreSecret creates or replaces the entry for key. A non-nil policy that
// requires authentication prompts before anything is written, regardless of
// any earlier unlock of the key; a StrongBox
// request fails with HardwareBackingUnavailable on backends without a secure
// element unless the policy allows software fallback.
func (s *Store) StoreSecret(ctx context.Context, key string, value []byte, policy *AuthPolicy) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ValidateSecret(value); err != nil {
		return err
	}
	log := s.logger.With().Str("op", "storeSecret").Str("key", key).Logger()

	protection, err := s.protectionFor(ctx, policy, log)
	if err != nil {
		return err
	}

	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return errs.Wrap(errs.AuthenticationCancelled, err, "cancelled while waiting for key")
	}
	defer unlock()

	if protection.RequireBiometric {
		if err := s.prompt(ctx, key, protection.ValiditySeconds, policy, log); err != nil {
			return err
		}
	} else {
		s.cache.forget(key)
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.AuthenticationCancelled, err, "cancelled before write")
	}

	buf := encodeEnvelope(entry{protection: protection, created: s.now(), secret: value})
	defer buf.Release()
	if err := s.adapter.Put(ctx, key, buf.Bytes(), protection); err != nil {
		log.Error().Err(err).Str("backend", s.adapter.Name()).Msg("Backend write failed")
		return errs.Wrap(errs.PlatformStorageError, err, "write entry")
	}
	log.Debug().
		Bool("biometric", protection.RequireBiometric).
		Int64("validity_seconds", protection.ValiditySeconds).
		Str("tier", protection.Tier.String()).
		Msg("Secret stored")
	return nil
}

// GetSecret returns the secret for key, or nil when there is none. Entries
// stored with biometric protection authenticate unless the key was unlocked
// within its validity window. The window is the stricter of the stored one
// and the one in policy. The caller owns the returned slice.
func (s *Store) GetSecret(ctx context.Context, key string, policy *AuthPolicy) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	log := s.logger.With().Str("op", "getSecret").Str("key", key).Logger()

	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return nil, errs.Wrap(errs.AuthenticationCancelled, err, "cancelled while waiting for key")
	}
	defer unlock()

	raw, err := s.adapter.Get(ctx, key)
	if err != nil {
		if errs.IsKind(err, errs.EntryInvalidated) {
			s.cache.forget(key)
			log.Warn().Msg("Entry was invalidated by the platform and must be stored again")
		}
		return nil, errs.Wrap(errs.PlatformStorageError, err, "read entry")
	}
	if raw == nil {
		return nil, nil
	}
	defer secret.Wipe(raw)

	e, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if e.protection.RequireBiometric {
		window := e.protection.ValiditySeconds
		if policy != nil {
			window = stricterWindow(window, policy.ValiditySeconds())
		}
		if err := s.authenticate(ctx, key, window, policy, log); err != nil {
			return nil, err
		}
	}

	out := make([]byte, len(e.secret))
	copy(out, e.secret)
	return out, nil
}

// RemoveSecret deletes the entry for key and forgets its authentication.
// Removing a missing entry succeeds.
func (s *Store) RemoveSecret(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return errs.Wrap(errs.AuthenticationCancelled, err, "cancelled while waiting for key")
	}
	defer unlock()

	s.cache.forget(key)
	if err := s.adapter.Delete(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Backend delete failed")
		return errs.Wrap(errs.PlatformStorageError, err, "delete entry")
	}
	s.logger.Debug().Str("op", "removeSecret").Str("key", key).Msg("Secret removed")
	return nil
}

// IsBiometryAvailable probes the gate without prompting. Concurrent probes
// share one platform query, which outlives any single caller giving up.
func (s *Store) IsBiometryAvailable(ctx context.Context) (bool, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.probes.DoChan("available", func() (any, error) {
		return s.gate.Available(shared)
	})
	select {
	case <-ctx.Done():
		return false, errs.Wrap(errs.PlatformProbeError, ctx.Err(), "probe biometrics")
	case res := <-ch:
		if res.Err != nil {
			return false, errs.Wrap(errs.PlatformProbeError, res.Err, "probe biometrics")
		}
		return res.Val.(bool), nil
	}
}

// ResetAuthentication forgets every cached authentication, for example when
// the application locks itself.
func (s *Store) ResetAuthentication() {
	s.cache.reset()
}

func (s *Store) protectionFor(ctx context.Context, policy *AuthPolicy, log zerolog.Logger) (secret.Protection, error) {
	p := secret.Protection{ValiditySeconds: NoValidityWindow, Tier: secret.TierSoftware}
	if policy == nil {
		return p, nil
	}
	p.RequireBiometric = policy.RequiresAuthentication()
	p.ValiditySeconds = policy.ValiditySeconds()
	if !policy.StrongBox() {
		return p, nil
	}

	tier, err := s.adapter.ProbeHardware(ctx)
	if err != nil {
		return p, errs.Wrap(errs.PlatformStorageError, err, "probe hardware")
	}
	if tier >= secret.TierSecureElement {
		p.Tier = secret.TierSecureElement
		return p, nil
	}
	if !policy.SoftwareFallback() {
		return p, errs.New(errs.HardwareBackingUnavailable, "%s backend offers %s protection, secure element requested",
			s.adapter.Name(), tier)
	}
	log.Warn().Str("tier", tier.String()).Msg("Secure element unavailable, falling back")
	p.Tier = tier
	return p, nil
}

// authenticate reuses an unlock of key younger than window or prompts. It
// must be called with the key lock held.
func (s *Store) authenticate(ctx context.Context, key string, window int64, policy *AuthPolicy, log zerolog.Logger) error {
	if s.cache.valid(key, window, s.now()) {
		log.Debug().Msg("Reusing cached authentication")
		return nil
	}
	return s.prompt(ctx, key, window, policy, log)
}

// prompt always asks the gate and records a success under window.
func (s *Store) prompt(ctx context.Context, key string, window int64, policy *AuthPolicy, log zerolog.Logger) error {
	prompt := s.defaultPrompt
	if policy != nil {
		if p, ok := policy.Prompt(); ok {
			prompt = p
		}
	}

	token, err := s.gate.Authenticate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			err = errs.Wrap(errs.AuthenticationCancelled, err, "prompt aborted")
		}
		err = errs.Wrap(errs.AuthenticationFailed, err, "authenticate")
		log.Info().Str("kind", errs.KindOf(err).String()).Msg("Authentication did not succeed")
		return err
	}
	s.cache.record(key, s.now(), window)
	log.Debug().Str("token", token.ID).Str("method", token.Method).Msg("Authenticated")
	return nil
}

func stricterWindow(a, b int64) int64 {
	if a == NoValidityWindow || b == NoValidityWindow {
		return NoValidityWindow
	}
	return min(a, b)
}
