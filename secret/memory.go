package secret

import (
	"context"
	"sync"

	"github.com/quexten/bio-secure-store/errs"
)

type memoryEntry struct {
	data        []byte
	protection  Protection
	invalidated bool
}

// MemoryStore keeps entries in process memory. It serves ephemeral sessions
// and stands in for a platform store in tests, including platform-side
// invalidation of entries.
type MemoryStore struct {
	sync.RWMutex
	tier    HardwareTier
	entries map[string]*memoryEntry
}

// NewMemoryStore returns a store that reports tier from ProbeHardware.
func NewMemoryStore(tier HardwareTier) *MemoryStore {
	return &MemoryStore{tier: tier, entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, p Protection) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if p.Tier > s.tier {
		return errs.New(errs.HardwareBackingUnavailable, "memory store offers %s, %s requested", s.tier, p.Tier)
	}
	stored := make([]byte, len(data))
	copy(stored, data)

	s.Lock()
	defer s.Unlock()
	if old, ok := s.entries[key]; ok {
		Wipe(old.data)
	}
	s.entries[key] = &memoryEntry{data: stored, protection: p}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.RLock()
	defer s.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if e.invalidated {
		return nil, errs.New(errs.EntryInvalidated, "entry %q was invalidated by the platform", key)
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	if e, ok := s.entries[key]; ok {
		Wipe(e.data)
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) ProbeHardware(ctx context.Context) (HardwareTier, error) {
	return s.tier, nil
}

// Invalidate marks every biometric-protected entry unusable, the way a
// keystore drops keys after a biometric enrollment change. With a key given,
// only that entry is marked. It returns the number of entries affected.
func (s *MemoryStore) Invalidate(keys ...string) int {
	s.Lock()
	defer s.Unlock()
	n := 0
	mark := func(e *memoryEntry) {
		if !e.invalidated {
			Wipe(e.data)
			e.invalidated = true
			n++
		}
	}
	if len(keys) > 0 {
		for _, k := range keys {
			if e, ok := s.entries[k]; ok {
				mark(e)
			}
		}
		return n
	}
	for _, e := range s.entries {
		if e.protection.RequireBiometric {
			mark(e)
		}
	}
	return n
}

// Protection returns the protection an entry was stored with.
func (s *MemoryStore) Protection(key string) (Protection, bool) {
	s.RLock()
	defer s.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Protection{}, false
	}
	return e.protection, true
}
