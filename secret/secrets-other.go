//go:build !darwin && !windows && !linux && !freebsd && !openbsd && !netbsd && !dragonfly

package secret

import "github.com/quexten/bio-secure-store/errs"

const platformBackend = "none"

func openPlatform(opts Options) (Adapter, error) {
	return nil, errs.New(errs.InvalidArgument, "no OS credential store on this platform, use the file backend")
}
