package securestore

import (
	"github.com/quexten/bio-secure-store/biometrics"
	"github.com/quexten/bio-secure-store/errs"
)

// ValidateKey rejects empty key identifiers.
func ValidateKey(key string) error {
	if key == "" {
		return errs.New(errs.InvalidArgument, "key must not be empty")
	}
	return nil
}

// ValidateSecret rejects empty secrets.
func ValidateSecret(value []byte) error {
	if len(value) == 0 {
		return errs.New(errs.InvalidArgument, "secret must not be empty")
	}
	return nil
}

// RawPrompt is the loosely typed prompt as it arrives from a caller.
type RawPrompt struct {
	Title                *string `json:"title" yaml:"title"`
	Subtitle             *string `json:"subtitle,omitempty" yaml:"subtitle,omitempty"`
	Description          *string `json:"description,omitempty" yaml:"description,omitempty"`
	CancelLabel          *string `json:"cancelLabel" yaml:"cancelLabel"`
	ConfirmationRequired *bool   `json:"confirmationRequired,omitempty" yaml:"confirmationRequired,omitempty"`
}

// RawOptions is the loosely typed option bundle as it arrives from a caller.
// Nil fields take their defaults.
type RawOptions struct {
	PromptInfo                            *RawPrompt `json:"promptInfo,omitempty"`
	AuthenticationValidityDurationSeconds *int64     `json:"authenticationValidityDurationSeconds,omitempty"`
	EnableStrongBox                       *bool      `json:"enableStrongBox,omitempty"`
	AllowSoftwareFallback                 *bool      `json:"allowSoftwareFallback,omitempty"`
	AuthenticationRequired                *bool      `json:"authenticationRequired,omitempty"`
}

// DecodeOptions normalizes raw options into a policy. Nil raw options mean
// no protection was requested and yield a nil policy.
func DecodeOptions(raw *RawOptions) (*AuthPolicy, error) {
	if raw == nil {
		return nil, nil
	}
	var opts []PolicyOption
	if raw.PromptInfo != nil {
		p, err := decodePrompt(raw.PromptInfo)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPrompt(p))
	}
	if raw.AuthenticationValidityDurationSeconds != nil {
		opts = append(opts, WithValiditySeconds(*raw.AuthenticationValidityDurationSeconds))
	}
	if raw.EnableStrongBox != nil && *raw.EnableStrongBox {
		opts = append(opts, WithStrongBox())
	}
	if raw.AllowSoftwareFallback != nil && *raw.AllowSoftwareFallback {
		opts = append(opts, WithSoftwareFallback())
	}
	if raw.AuthenticationRequired != nil && !*raw.AuthenticationRequired {
		opts = append(opts, WithoutAuthentication())
	}
	return NewPolicy(opts...)
}

// EncodeOptions is the inverse of DecodeOptions.
func EncodeOptions(p *AuthPolicy) *RawOptions {
	if p == nil {
		return nil
	}
	validity, strongBox, fallback, required := p.validitySeconds, p.strongBox, p.softwareFallback, p.requireAuth
	raw := &RawOptions{
		AuthenticationValidityDurationSeconds: &validity,
		EnableStrongBox:                       &strongBox,
		AllowSoftwareFallback:                 &fallback,
		AuthenticationRequired:                &required,
	}
	if prompt, ok := p.Prompt(); ok {
		raw.PromptInfo = &RawPrompt{
			Title:                &prompt.Title,
			Subtitle:             &prompt.Subtitle,
			Description:          &prompt.Description,
			CancelLabel:          &prompt.CancelLabel,
			ConfirmationRequired: &prompt.ConfirmationRequired,
		}
	}
	return raw
}

func decodePrompt(raw *RawPrompt) (biometrics.Prompt, error) {
	if raw.Title == nil {
		return biometrics.Prompt{}, errs.New(errs.InvalidArgument, "prompt title is required")
	}
	if raw.CancelLabel == nil {
		return biometrics.Prompt{}, errs.New(errs.InvalidArgument, "prompt cancel label is required")
	}
	p := biometrics.Prompt{Title: *raw.Title, CancelLabel: *raw.CancelLabel}
	if raw.Subtitle != nil {
		p.Subtitle = *raw.Subtitle
	}
	if raw.Description != nil {
		p.Description = *raw.Description
	}
	if raw.ConfirmationRequired != nil {
		p.ConfirmationRequired = *raw.ConfirmationRequired
	}
	return p, p.Validate()
}
