package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quexten/bio-secure-store/bridge"
)

func setupEnv(t *testing.T, backend, gate string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SECURE_STORE_CONFIG_DIR", dir)
	t.Setenv("SECURE_STORE_BACKEND", backend)
	t.Setenv("SECURE_STORE_GATE", gate)
	t.Setenv("SECURE_STORE_LOG_LEVEL", "")
	t.Setenv("SECURE_STORE_PASSPHRASE", "correct horse battery staple")
	return dir
}

func run(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = main1(args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestStoreGetRemove(t *testing.T) {
	dir := setupEnv(t, "file", "none")

	code, _, stderr := run(t, "api-token-value\n", "store", "api")
	require.Equal(t, 0, code, stderr)
	assert.FileExists(t, filepath.Join(dir, "secrets.json"))

	code, stdout, stderr := run(t, "", "get", "api")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "api-token-value", stdout)

	code, _, stderr = run(t, "", "remove", "api")
	require.Equal(t, 0, code, stderr)

	code, _, stderr = run(t, "", "get", "api")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no secret stored")
}

func TestBiometricStoreWithoutGate(t *testing.T) {
	setupEnv(t, "file", "none")
	code, _, stderr := run(t, "v", "store", "k", "--biometric")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "authentication_not_available")
}

func TestStrongBoxOnSoftwareBackend(t *testing.T) {
	setupEnv(t, "file", "none")
	code, _, stderr := run(t, "v", "store", "k", "--strongbox")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "hardware_backing_unavailable")

	code, _, stderr = run(t, "v", "store", "k", "--strongbox", "--fallback")
	assert.Equal(t, 0, code, stderr)
}

func TestUsageErrors(t *testing.T) {
	setupEnv(t, "memory", "none")

	code, _, _ := run(t, "", "get")
	assert.Equal(t, 2, code)

	code, _, _ = run(t, "", "store", "k", "--no-such-flag")
	assert.Equal(t, 2, code)

	code, _, _ = run(t, "", "probe", "extra")
	assert.Equal(t, 2, code)
}

func TestEmptySecretRejected(t *testing.T) {
	setupEnv(t, "memory", "none")
	code, _, stderr := run(t, "\n", "store", "k")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid_argument")
}

func TestProbe(t *testing.T) {
	setupEnv(t, "memory", "none")
	code, stdout, stderr := run(t, "", "probe")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `backend   = "memory"`)
	assert.Contains(t, stdout, `tier      = "software"`)
	assert.Contains(t, stdout, "available = false")
}

func TestBadConfig(t *testing.T) {
	setupEnv(t, "memory", "retina")
	code, _, stderr := run(t, "", "probe")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown gate")
}

func TestServeFromBrowserLaunch(t *testing.T) {
	setupEnv(t, "memory", "none")

	var in bytes.Buffer
	for _, req := range []bridge.Request{
		{ID: "1", Method: bridge.MethodStoreSecret, Key: "k", Secret: []byte("v")},
		{ID: "2", Method: bridge.MethodIsBiometryAvailable},
	} {
		raw, err := json.Marshal(req)
		require.NoError(t, err)
		require.NoError(t, bridge.WriteFrame(&in, raw))
	}

	code, stdout, stderr := run(t, in.String(), "chrome-extension://abcdefgh/")
	require.Equal(t, 0, code, stderr)

	r := strings.NewReader(stdout)
	ids := map[string]bridge.Reply{}
	for {
		msg, err := bridge.ReadFrame(r)
		if err != nil {
			break
		}
		var rep bridge.Reply
		require.NoError(t, json.Unmarshal(msg, &rep))
		ids[rep.ID] = rep
	}
	require.Contains(t, ids, "1")
	assert.Nil(t, ids["1"].Error)
	require.Contains(t, ids, "2")
	assert.JSONEq(t, "false", string(ids["2"].Result))
}

func TestServeRefusesTerminalGate(t *testing.T) {
	setupEnv(t, "memory", "terminal")
	code, _, _ := run(t, "", "serve")
	assert.Equal(t, 2, code)
}

func TestInstallManifests(t *testing.T) {
	home := t.TempDir()
	chrome := filepath.Join(home, ".config", "google-chrome", "NativeMessagingHosts")
	firefox := filepath.Join(home, ".mozilla", "native-messaging-hosts")
	deep := filepath.Join(home, ".config", "a", "b", "c", "NativeMessagingHosts")
	for _, d := range []string{chrome, firefox, deep} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	flags := installFlags{extensions: []string{"vault@example.org"}, origins: []string{"chrome-extension://abc/"}}
	var out bytes.Buffer
	for _, start := range []string{".config", ".mozilla"} {
		require.NoError(t, installManifests(&out, home, start, "/opt/secure-store", flags))
	}
	assert.Contains(t, out.String(), "chrome-like")
	assert.Contains(t, out.String(), "mozilla-like")

	var m manifest
	data, err := os.ReadFile(filepath.Join(chrome, hostName+".json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "/opt/secure-store", m.Path)
	assert.Equal(t, []string{"chrome-extension://abc/"}, m.AllowedOrigins)
	assert.Empty(t, m.AllowedExtensions)

	data, err = os.ReadFile(filepath.Join(firefox, hostName+".json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, []string{"vault@example.org"}, m.AllowedExtensions)

	assert.NoFileExists(t, filepath.Join(deep, hostName+".json"), "too deep below home")

	assert.NoError(t, installManifests(&out, home, ".missing", "/opt/secure-store", flags))
}
