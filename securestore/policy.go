package securestore

import (
	"time"

	"github.com/quexten/bio-secure-store/biometrics"
	"github.com/quexten/bio-secure-store/errs"
)

// NoValidityWindow makes every access authenticate.
const NoValidityWindow int64 = -1

// AuthPolicy is the per-call protection request. It is immutable; build it
// with NewPolicy. A nil *AuthPolicy requests no biometric protection.
type AuthPolicy struct {
	requireAuth      bool
	validitySeconds  int64
	strongBox        bool
	softwareFallback bool
	prompt           biometrics.Prompt
	hasPrompt        bool
}

// PolicyOption configures NewPolicy.
type PolicyOption func(*AuthPolicy)

// WithPrompt overrides the store's default prompt for this call.
func WithPrompt(p biometrics.Prompt) PolicyOption {
	return func(a *AuthPolicy) {
		a.prompt = p
		a.hasPrompt = true
	}
}

// WithValidity lets one authentication unlock the entry for d. Sub-second
// parts are dropped; zero or negative durations disable caching.
func WithValidity(d time.Duration) PolicyOption {
	return func(a *AuthPolicy) {
		a.validitySeconds = int64(d / time.Second)
		if a.validitySeconds <= 0 {
			a.validitySeconds = NoValidityWindow
		}
	}
}

// WithValiditySeconds takes the raw seconds value, -1 meaning no caching.
func WithValiditySeconds(seconds int64) PolicyOption {
	return func(a *AuthPolicy) { a.validitySeconds = seconds }
}

// WithStrongBox requires a dedicated secure element.
func WithStrongBox() PolicyOption {
	return func(a *AuthPolicy) { a.strongBox = true }
}

// WithSoftwareFallback lets a StrongBox request degrade to whatever tier the
// backend offers instead of failing.
func WithSoftwareFallback() PolicyOption {
	return func(a *AuthPolicy) { a.softwareFallback = true }
}

// WithoutAuthentication stores the entry without a biometric gate while still
// applying the hardware preference.
func WithoutAuthentication() PolicyOption {
	return func(a *AuthPolicy) { a.requireAuth = false }
}

// NewPolicy builds a validated policy. Defaults: authentication required,
// validity -1, no StrongBox, no fallback, store default prompt.
func NewPolicy(opts ...PolicyOption) (*AuthPolicy, error) {
	p := &AuthPolicy{requireAuth: true, validitySeconds: NoValidityWindow}
	for _, opt := range opts {
		opt(p)
	}
	if p.validitySeconds < NoValidityWindow || p.validitySeconds == 0 {
		return nil, errs.New(errs.InvalidArgument, "validity must be -1 or positive seconds, got %d", p.validitySeconds)
	}
	if p.hasPrompt {
		if err := p.prompt.Validate(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *AuthPolicy) RequiresAuthentication() bool { return p.requireAuth }

func (p *AuthPolicy) ValiditySeconds() int64 { return p.validitySeconds }

func (p *AuthPolicy) StrongBox() bool { return p.strongBox }

func (p *AuthPolicy) SoftwareFallback() bool { return p.softwareFallback }

// Prompt returns the override prompt; ok is false when the call uses the
// store default.
func (p *AuthPolicy) Prompt() (prompt biometrics.Prompt, ok bool) {
	return p.prompt, p.hasPrompt
}
