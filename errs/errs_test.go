package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quexten/bio-secure-store/errs"
)

func TestWrapKeepsExistingKind(t *testing.T) {
	inner := errs.New(errs.AuthenticationCancelled, "prompt dismissed")
	wrapped := errs.Wrap(errs.PlatformStorageError, inner, "write failed")

	assert.Equal(t, errs.AuthenticationCancelled, errs.KindOf(wrapped))
	assert.Nil(t, errs.Wrap(errs.PlatformStorageError, nil, "noop"))
}

func TestKindSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("store: %w", errs.New(errs.EntryInvalidated, "key %q", "k"))

	assert.True(t, errs.IsKind(err, errs.EntryInvalidated))
	assert.True(t, errors.Is(err, &errs.Error{Kind: errs.EntryInvalidated}))
	assert.False(t, errors.Is(err, &errs.Error{Kind: errs.PlatformStorageError}))
	assert.Equal(t, errs.Unknown, errs.KindOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := errs.Wrap(errs.PlatformStorageError, cause, "put \"k\"")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, `platform_storage_error: put "k": disk full`, err.Error())
	assert.Equal(t, "invalid_argument", (&errs.Error{Kind: errs.InvalidArgument}).Error())
}

func TestRetryable(t *testing.T) {
	retryable := map[errs.Kind]bool{
		errs.AuthenticationFailed:    true,
		errs.AuthenticationCancelled: true,
		errs.PlatformStorageError:    true,
		errs.PlatformProbeError:      true,
	}
	for _, k := range errs.Kinds {
		assert.Equal(t, retryable[k], k.Retryable(), k.String())
	}
}
