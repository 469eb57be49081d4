// Package secret holds the storage backends behind the secure store. Each
// backend stores opaque byte blobs under a string key and reports the
// hardware tier protecting them; native failures are translated into the
// errs taxonomy before they leave the backend.
package secret

import (
	"context"
	"fmt"

	"github.com/quexten/bio-secure-store/errs"
)

const DefaultService = "com.quexten.bio-secure-store"

// HardwareTier ranks the protection a backend can give stored bytes.
type HardwareTier int

const (
	// TierSoftware is process or file level protection only.
	TierSoftware HardwareTier = iota
	// TierOS is an OS credential store unlocked with the user session.
	TierOS
	// TierSecureElement is a dedicated chip (Secure Enclave, StrongBox).
	TierSecureElement
)

func (t HardwareTier) String() string {
	switch t {
	case TierSoftware:
		return "software"
	case TierOS:
		return "os"
	case TierSecureElement:
		return "secure-element"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Protection describes how an entry must be guarded. Backends map it onto
// native item flags where they have them.
type Protection struct {
	RequireBiometric bool
	// ValiditySeconds is how long one authentication unlocks the entry;
	// -1 means every access authenticates.
	ValiditySeconds int64
	Tier            HardwareTier
}

// Adapter is a secure storage backend.
type Adapter interface {
	// Put creates or replaces the entry for key.
	Put(ctx context.Context, key string, data []byte, p Protection) error
	// Get returns nil, nil when no entry exists.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete succeeds when the entry does not exist.
	Delete(ctx context.Context, key string) error
	ProbeHardware(ctx context.Context) (HardwareTier, error)
	Name() string
}

// Options configures Open.
type Options struct {
	// Service scopes entries in shared OS stores.
	Service string
	// FilePath and Passphrase configure the file backend.
	FilePath   string
	Passphrase []byte
}

// Open returns the named backend: "auto" (the OS store of this platform),
// "keychain", "secretservice", "wincred", "file" or "memory".
func Open(name string, opts Options) (Adapter, error) {
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if name == "" || name == "auto" || name == platformBackend {
		return openPlatform(opts)
	}
	switch name {
	case "file":
		return OpenFileStore(opts.FilePath, opts.Passphrase)
	case "memory":
		return NewMemoryStore(TierSoftware), nil
	case "keychain", "secretservice", "wincred":
		return nil, errs.New(errs.InvalidArgument, "backend %q is not supported on this platform", name)
	}
	return nil, errs.New(errs.InvalidArgument, "unknown backend %q", name)
}

func checkContext(ctx context.Context) error {
	return errs.Wrap(errs.PlatformStorageError, ctx.Err(), "operation aborted")
}
