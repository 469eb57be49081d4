//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package secret

import "errors"

var errNoMlock = errors.New("memory locking not supported")

func lockMemory(b []byte) error   { return errNoMlock }
func unlockMemory(b []byte) error { return nil }
