package securestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quexten/bio-secure-store/errs"
	"github.com/quexten/bio-secure-store/secret"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	created := time.Unix(1700000000, 0)
	in := entry{
		protection: secret.Protection{RequireBiometric: true, ValiditySeconds: 45, Tier: secret.TierOS},
		created:    created,
		secret:     []byte("hunter2"),
	}
	buf := encodeEnvelope(in)
	raw := append([]byte(nil), buf.Bytes()...)
	buf.Release()

	out, err := decodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, in.protection, out.protection)
	assert.True(t, created.Equal(out.created))
	assert.Equal(t, []byte("hunter2"), out.secret)
}

func TestEnvelopeRejectsGarbage(t *testing.T) {
	good := encodeEnvelope(entry{protection: secret.Protection{ValiditySeconds: NoValidityWindow}, secret: []byte("x")})
	raw := append([]byte(nil), good.Bytes()...)
	good.Release()

	cases := map[string][]byte{
		"short":    raw[:10],
		"magic":    append([]byte("XSS\x01"), raw[4:]...),
		"flags":    func() []byte { b := append([]byte(nil), raw...); b[4] = 0x80; return b }(),
		"validity": func() []byte { b := append([]byte(nil), raw...); copy(b[6:14], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe}); return b }(),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeEnvelope(b)
			assert.True(t, errs.IsKind(err, errs.PlatformStorageError), "got %v", err)
		})
	}
}

func TestAuthCacheWindow(t *testing.T) {
	c := newAuthCache()
	t0 := time.Unix(1000, 0)
	c.record("k", t0, 10)

	assert.True(t, c.valid("k", 10, t0.Add(9*time.Second)))
	assert.False(t, c.valid("k", 10, t0.Add(10*time.Second)))
	assert.False(t, c.valid("k", NoValidityWindow, t0))
	assert.False(t, c.valid("k", 10, t0.Add(-time.Second)), "clock moved backwards")
	assert.False(t, c.valid("other", 10, t0))

	c.forget("k")
	assert.False(t, c.valid("k", 10, t0))

	c.record("a", t0, 10)
	c.record("b", t0, 10)
	c.reset()
	assert.False(t, c.valid("a", 10, t0))
	assert.False(t, c.valid("b", 10, t0))
}

func TestAuthCacheUsesRecordedWindow(t *testing.T) {
	c := newAuthCache()
	t0 := time.Unix(1000, 0)

	c.record("k", t0, 30)
	assert.True(t, c.valid("k", 3600, t0.Add(29*time.Second)))
	assert.False(t, c.valid("k", 3600, t0.Add(31*time.Second)), "a wider request cannot stretch the recorded window")
	assert.False(t, c.valid("k", 5, t0.Add(6*time.Second)))

	c.record("k", t0, NoValidityWindow)
	assert.False(t, c.valid("k", 3600, t0), "a success made under -1 is never reused")
}

func TestKeyLocks(t *testing.T) {
	l := newKeyLocks()
	ctx := context.Background()

	unlockA, err := l.lock(ctx, "a")
	require.NoError(t, err)
	unlockB, err := l.lock(ctx, "b")
	require.NoError(t, err, "different keys do not block each other")
	assert.Equal(t, 2, l.size())

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.lock(waitCtx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		unlock, err := l.lock(ctx, "a")
		if err == nil {
			unlock()
		}
		close(acquired)
	}()
	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}

	unlockB()
	assert.Zero(t, l.size(), "idle locks are dropped")
}

func TestStricterWindow(t *testing.T) {
	assert.Equal(t, NoValidityWindow, stricterWindow(NoValidityWindow, 30))
	assert.Equal(t, NoValidityWindow, stricterWindow(30, NoValidityWindow))
	assert.Equal(t, int64(10), stricterWindow(30, 10))
}
