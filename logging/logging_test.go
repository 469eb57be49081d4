package logging_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quexten/bio-secure-store/logging"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(func() { _ = logging.SetLevel("info") })

	require.NoError(t, logging.SetLevel("warn"))
	logging.Infof("hidden %d", 1)
	assert.Empty(t, buf.String())

	logging.Warnf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")

	assert.Error(t, logging.SetLevel("loud"))
	assert.NoError(t, logging.SetLevel(""))
}
