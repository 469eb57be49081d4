package biometrics

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quexten/bio-secure-store/errs"
)

// promptWriter signals every time a prompt finishes printing.
type promptWriter struct {
	shown chan struct{}
}

func (w *promptWriter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), "to confirm") {
		w.shown <- struct{}{}
	}
	return len(p), nil
}

var confirmPrompt = Prompt{Title: "Unlock", CancelLabel: "Cancel"}

func cancelledPrompt(t *testing.T, g *TerminalGate, out *promptWriter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Authenticate(ctx, confirmPrompt)
		done <- err
	}()
	<-out.shown
	cancel()
	err := <-done
	require.True(t, errs.IsKind(err, errs.AuthenticationCancelled), "got %v", err)
}

func TestTerminalGateDropsAnswerToDismissedPrompt(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	out := &promptWriter{shown: make(chan struct{}, 4)}
	g := NewTerminalGate(r, out, 5, time.Minute)

	cancelledPrompt(t, g, out)

	_, err := w.Write([]byte("yes\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(g.pending) == 1 }, time.Second, time.Millisecond)

	go func() {
		<-out.shown
		_, _ = w.Write([]byte("no\n"))
	}()
	_, err = g.Authenticate(context.Background(), confirmPrompt)
	assert.True(t, errs.IsKind(err, errs.AuthenticationFailed), "late yes must not approve, got %v", err)
}

func TestTerminalGatePendingReadAnswersNextPrompt(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	out := &promptWriter{shown: make(chan struct{}, 4)}
	g := NewTerminalGate(r, out, 5, time.Minute)

	cancelledPrompt(t, g, out)

	go func() {
		<-out.shown
		_, _ = w.Write([]byte("yes\n"))
	}()
	_, err := g.Authenticate(context.Background(), confirmPrompt)
	assert.NoError(t, err)
}
