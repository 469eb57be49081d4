package securestore_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quexten/bio-secure-store/biometrics"
	"github.com/quexten/bio-secure-store/errs"
	"github.com/quexten/bio-secure-store/securestore"
)

func TestNewPolicyDefaults(t *testing.T) {
	p, err := securestore.NewPolicy()
	require.NoError(t, err)
	assert.True(t, p.RequiresAuthentication())
	assert.Equal(t, securestore.NoValidityWindow, p.ValiditySeconds())
	assert.False(t, p.StrongBox())
	assert.False(t, p.SoftwareFallback())
	_, ok := p.Prompt()
	assert.False(t, ok)
}

func TestNewPolicyValidation(t *testing.T) {
	_, err := securestore.NewPolicy(securestore.WithValiditySeconds(0))
	assert.True(t, errs.IsKind(err, errs.InvalidArgument), "got %v", err)

	_, err = securestore.NewPolicy(securestore.WithValiditySeconds(-5))
	assert.True(t, errs.IsKind(err, errs.InvalidArgument), "got %v", err)

	_, err = securestore.NewPolicy(securestore.WithPrompt(biometrics.Prompt{Title: "t"}))
	assert.True(t, errs.IsKind(err, errs.InvalidArgument), "got %v", err)

	p, err := securestore.NewPolicy(securestore.WithValidity(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ValiditySeconds())

	p, err = securestore.NewPolicy(securestore.WithValidity(0))
	require.NoError(t, err)
	assert.Equal(t, securestore.NoValidityWindow, p.ValiditySeconds())
}

func TestDecodeOptions(t *testing.T) {
	p, err := securestore.DecodeOptions(nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	var raw securestore.RawOptions
	require.NoError(t, json.Unmarshal([]byte(`{
		"promptInfo": {"title": "Unlock wallet", "cancelLabel": "Cancel", "description": "Sign"},
		"authenticationValidityDurationSeconds": 30,
		"enableStrongBox": true,
		"allowSoftwareFallback": true
	}`), &raw))

	p, err = securestore.DecodeOptions(&raw)
	require.NoError(t, err)
	assert.True(t, p.RequiresAuthentication())
	assert.Equal(t, int64(30), p.ValiditySeconds())
	assert.True(t, p.StrongBox())
	assert.True(t, p.SoftwareFallback())
	prompt, ok := p.Prompt()
	require.True(t, ok)
	assert.Equal(t, biometrics.Prompt{Title: "Unlock wallet", CancelLabel: "Cancel", Description: "Sign"}, prompt)

	p, err = securestore.DecodeOptions(&securestore.RawOptions{})
	require.NoError(t, err)
	assert.True(t, p.RequiresAuthentication(), "an empty options object still asks for authentication")
}

func TestDecodeOptionsRejectsIncompletePrompt(t *testing.T) {
	title := "Unlock"
	_, err := securestore.DecodeOptions(&securestore.RawOptions{PromptInfo: &securestore.RawPrompt{Title: &title}})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument), "got %v", err)

	zero := int64(0)
	_, err = securestore.DecodeOptions(&securestore.RawOptions{AuthenticationValidityDurationSeconds: &zero})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument), "got %v", err)
}

func TestEncodeOptionsInvertsDecode(t *testing.T) {
	assert.Nil(t, securestore.EncodeOptions(nil))

	in, err := securestore.NewPolicy(
		securestore.WithValidity(time.Minute),
		securestore.WithStrongBox(),
		securestore.WithoutAuthentication(),
		securestore.WithPrompt(biometrics.Prompt{Title: "t", CancelLabel: "c", ConfirmationRequired: true}),
	)
	require.NoError(t, err)

	out, err := securestore.DecodeOptions(securestore.EncodeOptions(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestValidateKeyAndSecret(t *testing.T) {
	assert.NoError(t, securestore.ValidateKey("k"))
	assert.True(t, errs.IsKind(securestore.ValidateKey(""), errs.InvalidArgument))
	assert.NoError(t, securestore.ValidateSecret([]byte{0}))
	assert.True(t, errs.IsKind(securestore.ValidateSecret([]byte{}), errs.InvalidArgument))
}
