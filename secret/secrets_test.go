package secret_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quexten/bio-secure-store/errs"
	"github.com/quexten/bio-secure-store/secret"
)

// exerciseAdapter runs the contract every backend must honour.
func exerciseAdapter(t *testing.T, store secret.Adapter) {
	t.Helper()
	ctx := context.Background()
	key := "bio-secure-store-test"
	t.Cleanup(func() { _ = store.Delete(ctx, key) })

	err := store.Put(ctx, key, []byte("test"), secret.Protection{ValiditySeconds: -1})
	require.NoError(t, err)

	value, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("test"), value)

	err = store.Put(ctx, key, []byte("replaced"), secret.Protection{RequireBiometric: true, ValiditySeconds: 30})
	require.NoError(t, err)

	value, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), value)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key), "delete of a missing entry must succeed")

	value, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMemoryStore(t *testing.T) {
	exerciseAdapter(t, secret.NewMemoryStore(secret.TierSoftware))
}

func TestMemoryStoreInvalidate(t *testing.T) {
	ctx := context.Background()
	store := secret.NewMemoryStore(secret.TierOS)
	require.NoError(t, store.Put(ctx, "bio", []byte("a"), secret.Protection{RequireBiometric: true}))
	require.NoError(t, store.Put(ctx, "plain", []byte("b"), secret.Protection{}))

	assert.Equal(t, 1, store.Invalidate())

	_, err := store.Get(ctx, "bio")
	assert.True(t, errs.IsKind(err, errs.EntryInvalidated), "got %v", err)

	value, err := store.Get(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), value)

	require.NoError(t, store.Delete(ctx, "bio"))
	value, err = store.Get(ctx, "bio")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestMemoryStoreRejectsHigherTier(t *testing.T) {
	store := secret.NewMemoryStore(secret.TierOS)
	err := store.Put(context.Background(), "k", []byte("v"), secret.Protection{Tier: secret.TierSecureElement})
	assert.True(t, errs.IsKind(err, errs.HardwareBackingUnavailable), "got %v", err)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := secret.OpenFileStore(path, []byte("correct horse"))
	require.NoError(t, err)
	defer store.Close()

	exerciseAdapter(t, store)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestFileStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := secret.OpenFileStore(path, []byte("correct horse"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", []byte("v"), secret.Protection{}))
	store.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"v"`)

	_, err = secret.OpenFileStore(path, []byte("wrong"))
	assert.True(t, errs.IsKind(err, errs.AuthenticationFailed), "got %v", err)

	reopened, err := secret.OpenFileStore(path, []byte("correct horse"))
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	tier, err := reopened.ProbeHardware(ctx)
	require.NoError(t, err)
	assert.Equal(t, secret.TierSoftware, tier)
}

func TestFileStoreArguments(t *testing.T) {
	_, err := secret.OpenFileStore("", []byte("x"))
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
	_, err = secret.OpenFileStore(filepath.Join(t.TempDir(), "s"), nil)
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := secret.Open("floppy", secret.Options{})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	store, err := secret.Open("memory", secret.Options{})
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Name())
}

func TestBufferRelease(t *testing.T) {
	src := []byte("private key")
	buf := secret.NewBuffer(src)
	assert.Equal(t, src, buf.Bytes())

	b := buf.Bytes()
	buf.Release()
	assert.Equal(t, make([]byte, len(src)), b)
	assert.Nil(t, buf.Bytes())
	buf.Release()
}

func TestPlatformStore(t *testing.T) {
	if os.Getenv("SECURE_STORE_PLATFORM_TESTS") != "1" {
		t.Skip("set SECURE_STORE_PLATFORM_TESTS=1 to run against the OS credential store")
	}
	store, err := secret.Open("auto", secret.Options{})
	require.NoError(t, err)
	exerciseAdapter(t, store)
}
