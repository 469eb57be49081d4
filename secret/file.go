package secret

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/quexten/bio-secure-store/errs"
)

const (
	fileVersion = 1
	checkPhrase = "bio-secure-store"
)

type kdfParams struct {
	Salt    []byte `json:"salt"`
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

type fileEntry struct {
	Sealed    []byte `json:"sealed"`
	Biometric bool   `json:"biometric,omitempty"`
}

type fileData struct {
	Version int                  `json:"version"`
	KDF     kdfParams            `json:"kdf"`
	Check   []byte               `json:"check"`
	Entries map[string]fileEntry `json:"entries"`
}

// FileStore is a software backend for machines without an OS credential
// store. Entries are sealed with XChaCha20-Poly1305 under a key derived from
// a passphrase with Argon2id, bound to their key name as associated data.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  *Buffer
}

// OpenFileStore opens or creates the store at path.
func OpenFileStore(path string, passphrase []byte) (*FileStore, error) {
	if path == "" {
		return nil, errs.New(errs.InvalidArgument, "file backend needs a path")
	}
	if len(passphrase) == 0 {
		return nil, errs.New(errs.InvalidArgument, "file backend needs a passphrase")
	}

	data, err := readFileData(path)
	if err != nil {
		return nil, err
	}
	fresh := data == nil
	if fresh {
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, errs.Wrap(errs.PlatformStorageError, err, "generate salt")
		}
		data = &fileData{
			Version: fileVersion,
			KDF:     kdfParams{Salt: salt, Time: 1, Memory: 64 * 1024, Threads: 4},
			Entries: make(map[string]fileEntry),
		}
	}
	if data.Version != fileVersion {
		return nil, errs.New(errs.PlatformStorageError, "unsupported store version %d", data.Version)
	}

	derived := argon2.IDKey(passphrase, data.KDF.Salt, data.KDF.Time, data.KDF.Memory, data.KDF.Threads, chacha20poly1305.KeySize)
	s := &FileStore{path: path, key: NewBuffer(derived)}
	Wipe(derived)

	if fresh {
		if data.Check, err = s.seal([]byte(checkPhrase), "check"); err != nil {
			s.Close()
			return nil, err
		}
		if err := s.save(data); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
	if _, err := s.open(data.Check, "check"); err != nil {
		s.Close()
		return nil, errs.New(errs.AuthenticationFailed, "wrong passphrase for %s", path)
	}
	return s, nil
}

func (s *FileStore) Name() string { return "file" }

// Close wipes the derived key. The store is unusable afterwards.
func (s *FileStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key.Release()
}

func (s *FileStore) Put(ctx context.Context, key string, plain []byte, p Protection) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if p.Tier > TierSoftware {
		return errs.New(errs.HardwareBackingUnavailable, "file store is software only, %s requested", p.Tier)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	sealed, err := s.seal(plain, key)
	if err != nil {
		return err
	}
	data.Entries[key] = fileEntry{Sealed: sealed, Biometric: p.RequireBiometric}
	return s.save(data)
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	e, ok := data.Entries[key]
	if !ok {
		return nil, nil
	}
	plain, err := s.open(e.Sealed, key)
	if err != nil {
		return nil, errs.Wrap(errs.PlatformStorageError, err, fmt.Sprintf("entry %q is corrupt", key))
	}
	return plain, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data.Entries[key]; !ok {
		return nil
	}
	delete(data.Entries, key)
	return s.save(data)
}

func (s *FileStore) ProbeHardware(ctx context.Context) (HardwareTier, error) {
	return TierSoftware, nil
}

func (s *FileStore) seal(plain []byte, aad string) ([]byte, error) {
	if s.key.Bytes() == nil {
		return nil, errs.New(errs.PlatformStorageError, "file store is closed")
	}
	aead, err := chacha20poly1305.NewX(s.key.Bytes())
	if err != nil {
		return nil, errs.Wrap(errs.PlatformStorageError, err, "init cipher")
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.Wrap(errs.PlatformStorageError, err, "generate nonce")
	}
	return aead.Seal(nonce, nonce, plain, []byte(aad)), nil
}

func (s *FileStore) open(sealed []byte, aad string) ([]byte, error) {
	if s.key.Bytes() == nil {
		return nil, errs.New(errs.PlatformStorageError, "file store is closed")
	}
	aead, err := chacha20poly1305.NewX(s.key.Bytes())
	if err != nil {
		return nil, err
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, []byte(aad))
}

func (s *FileStore) load() (*fileData, error) {
	data, err := readFileData(s.path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errs.New(errs.PlatformStorageError, "store file %s disappeared", s.path)
	}
	if data.Entries == nil {
		data.Entries = make(map[string]fileEntry)
	}
	return data, nil
}

func readFileData(path string) (*fileData, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errs.Wrap(errs.PlatformStorageError, err, "open store file")
	}
	defer f.Close()
	var data fileData
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return nil, errs.Wrap(errs.PlatformStorageError, err, "decode store file")
	}
	return &data, nil
}

// save replaces the store file atomically so a crash never leaves a partial
// write behind.
func (s *FileStore) save(data *fileData) error {
	bs, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		return errs.Wrap(errs.PlatformStorageError, err, "encode store file")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errs.Wrap(errs.PlatformStorageError, err, "create store dir")
	}
	tmp, err := os.CreateTemp(dir, ".secure-store-*")
	if err != nil {
		return errs.Wrap(errs.PlatformStorageError, err, "create temp file")
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errs.Wrap(errs.PlatformStorageError, err, "chmod temp file")
	}
	if _, err := tmp.Write(append(bs, '\n')); err != nil {
		tmp.Close()
		return errs.Wrap(errs.PlatformStorageError, err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Wrap(errs.PlatformStorageError, err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.PlatformStorageError, err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errs.Wrap(errs.PlatformStorageError, err, "replace store file")
	}
	return nil
}
