//go:build darwin

package biometrics

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	touchid "github.com/lox/go-touchid"

	"github.com/quexten/bio-secure-store/errs"
)

// SystemGate authenticates with Touch ID.
type SystemGate struct{}

func NewSystemGate() *SystemGate {
	return &SystemGate{}
}

// Authenticate shows the Touch ID sheet. LocalAuthentication offers no way
// to withdraw the sheet from here, so a cancelled ctx returns immediately and
// the late answer is discarded.
func (g *SystemGate) Authenticate(ctx context.Context, prompt Prompt) (Token, error) {
	if err := prompt.Validate(); err != nil {
		return Token{}, err
	}

	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ok, err := touchid.Authenticate(prompt.Reason())
		done <- outcome{ok, err}
	}()

	select {
	case <-ctx.Done():
		return Token{}, cancelled(ctx)
	case o := <-done:
		if o.err != nil {
			return Token{}, touchIDError(o.err)
		}
		if !o.ok {
			return Token{}, errs.New(errs.AuthenticationFailed, "touch id rejected")
		}
		return newToken("touchid"), nil
	}
}

// touchIDError maps LocalAuthentication error descriptions.
func touchIDError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "cancel"):
		return errs.Wrap(errs.AuthenticationCancelled, err, "touch id")
	case strings.Contains(msg, "lockout"), strings.Contains(msg, "locked out"):
		return errs.Wrap(errs.AuthenticationLockedOut, err, "touch id")
	case strings.Contains(msg, "enrolled"):
		return errs.Wrap(errs.NoBiometricEnrolled, err, "touch id")
	case strings.Contains(msg, "not available"), strings.Contains(msg, "unavailable"):
		return errs.Wrap(errs.AuthenticationNotAvailable, err, "touch id")
	}
	return errs.Wrap(errs.AuthenticationFailed, err, "touch id")
}

var templateCount = regexp.MustCompile(`(\d+)\s+biometric template`)

// Available counts the current user's fingerprint templates with bioutil.
func (g *SystemGate) Available(ctx context.Context) (bool, error) {
	out, err := exec.CommandContext(ctx, "/usr/bin/bioutil", "-c").Output()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		if ctx.Err() != nil {
			return false, errs.Wrap(errs.PlatformProbeError, ctx.Err(), "bioutil")
		}
		return false, nil
	}
	m := templateCount.FindSubmatch(out)
	if m == nil {
		return false, nil
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return false, errs.Wrap(errs.PlatformProbeError, err, "bioutil output")
	}
	return n > 0, nil
}
