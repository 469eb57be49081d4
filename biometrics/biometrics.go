// Package biometrics provides the user-presence gates that protect secret
// access: the platform biometric prompt, a terminal confirmation fallback,
// and a gate for machines without any.
package biometrics

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quexten/bio-secure-store/errs"
)

// ActionID is the polkit action guarding secret access on Linux.
const ActionID = "com.quexten.bio-secure-store.unlock"

//go:embed policies/com.quexten.bio-secure-store.policy
var policyFile []byte

// PolicyFile returns the polkit policy declaring ActionID.
func PolicyFile() []byte {
	return append([]byte(nil), policyFile...)
}

// Prompt describes the authentication dialog shown to the user.
type Prompt struct {
	Title                string
	Subtitle             string
	Description          string
	CancelLabel          string
	ConfirmationRequired bool
}

// Validate checks the required fields.
func (p Prompt) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errs.New(errs.InvalidArgument, "prompt title is required")
	}
	if strings.TrimSpace(p.CancelLabel) == "" {
		return errs.New(errs.InvalidArgument, "prompt cancel label is required")
	}
	return nil
}

// Reason joins title and description into the single line most platform
// dialogs accept.
func (p Prompt) Reason() string {
	parts := []string{p.Title}
	if p.Subtitle != "" {
		parts = append(parts, p.Subtitle)
	}
	if p.Description != "" {
		parts = append(parts, p.Description)
	}
	return strings.Join(parts, ": ")
}

// Token is proof of one successful authentication.
type Token struct {
	ID       string
	Method   string
	IssuedAt time.Time
}

func newToken(method string) Token {
	return Token{ID: uuid.NewString(), Method: method, IssuedAt: time.Now()}
}

// Gate authenticates the user before a protected secret is touched.
type Gate interface {
	// Authenticate blocks until the user answers the prompt. Cancelling ctx
	// aborts the pending prompt and returns AuthenticationCancelled.
	Authenticate(ctx context.Context, prompt Prompt) (Token, error)

	// Available probes for usable hardware and enrollment without prompting.
	Available(ctx context.Context) (bool, error)
}

// Unavailable is a Gate for machines with no way to authenticate a user.
type Unavailable struct{}

func (Unavailable) Authenticate(ctx context.Context, prompt Prompt) (Token, error) {
	return Token{}, errs.New(errs.AuthenticationNotAvailable, "no authentication method configured")
}

func (Unavailable) Available(ctx context.Context) (bool, error) {
	return false, nil
}

// cancelled converts a context error into the taxonomy.
func cancelled(ctx context.Context) error {
	return errs.Wrap(errs.AuthenticationCancelled, ctx.Err(), "prompt aborted")
}
