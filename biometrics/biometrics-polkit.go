//go:build linux || freebsd || openbsd || netbsd || dragonfly

package biometrics

import (
	"context"
	"errors"
	"os/user"
	"strings"
	"sync"

	"github.com/amenzhinsky/go-polkit"
	"github.com/google/uuid"
	"github.com/keybase/dbus"

	"github.com/quexten/bio-secure-store/errs"
)

const (
	fprintdService = "net.reactivated.Fprint"
	fprintdManager = dbus.ObjectPath("/net/reactivated/Fprint/Manager")
)

// SystemGate authenticates through polkit, which in turn runs the PAM stack
// (fprintd when a fingerprint is enrolled).
type SystemGate struct {
	mu        sync.Mutex
	authority *polkit.Authority
}

func NewSystemGate() *SystemGate {
	return &SystemGate{}
}

func (g *SystemGate) getAuthority() (*polkit.Authority, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authority != nil {
		return g.authority, nil
	}
	authority, err := polkit.NewAuthority()
	if err != nil {
		return nil, err
	}
	g.authority = authority
	return authority, nil
}

func (g *SystemGate) Authenticate(ctx context.Context, prompt Prompt) (Token, error) {
	if err := prompt.Validate(); err != nil {
		return Token{}, err
	}
	authority, err := g.getAuthority()
	if err != nil {
		return Token{}, errs.Wrap(errs.AuthenticationNotAvailable, err, "polkit authority")
	}

	type outcome struct {
		result *polkit.PKAuthorizationResult
		err    error
	}
	cancellationID := uuid.NewString()
	done := make(chan outcome, 1)
	go func() {
		result, err := authority.CheckAuthorization(
			ActionID,
			map[string]string{"polkit.message": prompt.Reason()},
			polkit.CheckAuthorizationAllowUserInteraction, cancellationID,
		)
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		_ = authority.CancelCheckAuthorization(cancellationID)
		return Token{}, cancelled(ctx)
	case o := <-done:
		if o.err != nil {
			// go-polkit carries its own dbus binding, so match on the error name text.
			if strings.Contains(o.err.Error(), "org.freedesktop.PolicyKit1.Error.Cancelled") {
				return Token{}, errs.Wrap(errs.AuthenticationCancelled, o.err, "polkit")
			}
			return Token{}, errs.Wrap(errs.AuthenticationFailed, o.err, "polkit")
		}
		if o.result.IsAuthorized {
			return newToken("polkit"), nil
		}
		if o.result.Details["polkit.dismissed"] != "" {
			return Token{}, errs.New(errs.AuthenticationCancelled, "prompt dismissed")
		}
		return Token{}, errs.New(errs.AuthenticationFailed, "not authorized")
	}
}

// Available asks fprintd whether the current user has an enrolled finger.
// A missing daemon or reader means no biometry, not a probe failure.
func (g *SystemGate) Available(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errs.Wrap(errs.PlatformProbeError, err, "probe aborted")
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return false, nil
	}
	u, err := user.Current()
	if err != nil {
		return false, errs.Wrap(errs.PlatformProbeError, err, "current user")
	}

	var device dbus.ObjectPath
	err = conn.Object(fprintdService, fprintdManager).
		Call("net.reactivated.Fprint.Manager.GetDefaultDevice", 0).
		Store(&device)
	if err != nil {
		return probeResult(err)
	}

	var fingers []string
	err = conn.Object(fprintdService, device).
		Call("net.reactivated.Fprint.Device.ListEnrolledFingers", 0, u.Username).
		Store(&fingers)
	if err != nil {
		return probeResult(err)
	}
	return len(fingers) > 0, nil
}

func probeResult(err error) (bool, error) {
	switch dbusErrorName(err) {
	case "org.freedesktop.DBus.Error.ServiceUnknown",
		"org.freedesktop.DBus.Error.NameHasNoOwner",
		"net.reactivated.Fprint.Error.NoSuchDevice",
		"net.reactivated.Fprint.Error.NoEnrolledPrints":
		return false, nil
	}
	return false, errs.Wrap(errs.PlatformProbeError, err, "fprintd")
}

func dbusErrorName(err error) string {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}
	var pe *dbus.Error
	if errors.As(err, &pe) {
		return pe.Name
	}
	return ""
}
