//go:build !darwin && !linux && !freebsd && !openbsd && !netbsd && !dragonfly

package biometrics

// SystemGate has no biometric backend on this platform.
type SystemGate struct {
	Unavailable
}

func NewSystemGate() *SystemGate {
	return &SystemGate{}
}
