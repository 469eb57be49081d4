package biometrics

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/quexten/bio-secure-store/errs"
)

const (
	DefaultMaxAttempts = 5
	DefaultCooldown    = 30 * time.Second
)

type lineResult struct {
	line string
	err  error
}

// TerminalGate confirms user presence by asking for an explicit answer on a
// terminal. It is the fallback for machines without a biometric reader.
// Consecutive wrong answers lock the gate for a cooldown.
type TerminalGate struct {
	in     io.Reader
	reader *bufio.Reader
	out    io.Writer
	fd     int
	tty    bool

	maxAttempts int
	cooldown    time.Duration
	now         func() time.Time

	// sem serializes prompts; the fields below are only touched while holding it.
	sem         chan struct{}
	pending     chan lineResult
	failures    int
	lockedUntil time.Time
}

// NewTerminalGate reads answers from in and writes prompts to out. When in
// is an *os.File it must be a terminal, otherwise the gate is unavailable.
func NewTerminalGate(in io.Reader, out io.Writer, maxAttempts int, cooldown time.Duration) *TerminalGate {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	g := &TerminalGate{
		in:          in,
		reader:      bufio.NewReader(in),
		out:         out,
		fd:          -1,
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
		now:         time.Now,
		sem:         make(chan struct{}, 1),
	}
	if f, ok := in.(*os.File); ok {
		g.fd = int(f.Fd())
		g.tty = term.IsTerminal(g.fd)
	}
	return g
}

// SetClock replaces the time source used for lockouts.
func (g *TerminalGate) SetClock(now func() time.Time) {
	g.now = now
}

func (g *TerminalGate) attached() bool {
	return g.fd < 0 || g.tty
}

func (g *TerminalGate) Available(ctx context.Context) (bool, error) {
	return g.attached(), nil
}

func (g *TerminalGate) Authenticate(ctx context.Context, prompt Prompt) (Token, error) {
	if err := prompt.Validate(); err != nil {
		return Token{}, err
	}
	if !g.attached() {
		return Token{}, errs.New(errs.AuthenticationNotAvailable, "stdin is not a terminal")
	}

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return Token{}, cancelled(ctx)
	}
	defer func() { <-g.sem }()

	if now := g.now(); now.Before(g.lockedUntil) {
		return Token{}, errs.New(errs.AuthenticationLockedOut, "too many attempts, retry in %s",
			g.lockedUntil.Sub(now).Round(time.Second))
	}

	if g.pending != nil {
		// An answer typed for a dismissed prompt never approves this one.
		select {
		case <-g.pending:
			g.pending = nil
		default:
		}
	}
	g.printPrompt(prompt)
	if g.pending == nil {
		g.pending = g.readLine()
	}

	var res lineResult
	select {
	case <-ctx.Done():
		// The read stays pending; only input typed after the next prompt is
		// shown can answer it.
		fmt.Fprintln(g.out)
		return Token{}, cancelled(ctx)
	case res = <-g.pending:
		g.pending = nil
	}

	answer := strings.ToLower(strings.TrimSpace(res.line))
	if res.err != nil && res.err != io.EOF {
		return Token{}, errs.Wrap(errs.AuthenticationFailed, res.err, "read answer")
	}
	if answer == "" {
		return Token{}, errs.New(errs.AuthenticationCancelled, "prompt dismissed")
	}
	if answer == "yes" || (answer == "y" && !prompt.ConfirmationRequired) {
		g.failures = 0
		return newToken("terminal"), nil
	}

	g.failures++
	if g.failures >= g.maxAttempts {
		g.failures = 0
		g.lockedUntil = g.now().Add(g.cooldown)
		return Token{}, errs.New(errs.AuthenticationLockedOut, "too many attempts, retry in %s", g.cooldown)
	}
	return Token{}, errs.New(errs.AuthenticationFailed, "confirmation not given")
}

func (g *TerminalGate) printPrompt(p Prompt) {
	fmt.Fprintf(g.out, "\n%s\n", p.Title)
	if p.Subtitle != "" {
		fmt.Fprintln(g.out, p.Subtitle)
	}
	if p.Description != "" {
		fmt.Fprintln(g.out, p.Description)
	}
	fmt.Fprintf(g.out, "Type \"yes\" to confirm, or press Enter to %s: ", strings.ToLower(p.CancelLabel))
}

func (g *TerminalGate) readLine() chan lineResult {
	ch := make(chan lineResult, 1)
	go func() {
		if g.tty {
			b, err := term.ReadPassword(g.fd)
			fmt.Fprintln(g.out)
			ch <- lineResult{string(b), err}
			return
		}
		line, err := g.reader.ReadString('\n')
		ch <- lineResult{line, err}
	}()
	return ch
}
