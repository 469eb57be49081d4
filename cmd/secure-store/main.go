package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quexten/bio-secure-store/biometrics"
	"github.com/quexten/bio-secure-store/config"
	"github.com/quexten/bio-secure-store/errs"
	"github.com/quexten/bio-secure-store/logging"
	"github.com/quexten/bio-secure-store/secret"
	"github.com/quexten/bio-secure-store/securestore"
)

const cliName = "secure-store"

func main() { os.Exit(main1(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)) }

// main1 returns 0 on success or user cancellation, 2 on usage errors and 1
// otherwise.
func main1(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.close()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled), errs.IsKind(err, errs.AuthenticationCancelled):
		return 0
	case isUsageError(err):
		fmt.Fprintln(stderr, "error:", err)
		fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", cliName)
		return 2
	}
	fmt.Fprintln(stderr, "error:", err)
	return 1
}

type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

func isUsageError(err error) bool {
	var u usageError
	return errors.As(err, &u) || strings.HasPrefix(err.Error(), "unknown command")
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// app carries what the subcommands share. The store is opened lazily so
// install and help work without a usable backend.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	cfg     *config.Config
	adapter secret.Adapter
	store   *securestore.Store
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   cliName,
		Short: "Biometric-gated secret storage",
		Long: `secure-store keeps small secrets in the OS credential store and asks for
biometric or user-presence confirmation before releasing protected ones.

Started without a command, or by a browser with its extension origin as the
argument, it serves the native messaging protocol on stdin and stdout.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context())
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
	root.AddCommand(
		a.serveCmd(),
		a.storeCmd(),
		a.getCmd(),
		a.removeCmd(),
		a.probeCmd(),
		a.installCmd(),
	)
	return root
}

func (a *app) loadConfig() error {
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.SetOutput(a.stderr)
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) openStore() (*securestore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	adapter, err := a.cfg.OpenBackend()
	if err != nil {
		return nil, err
	}
	a.adapter = adapter
	a.store = securestore.New(adapter, a.gate(),
		securestore.WithLogger(logging.Logger()),
		securestore.WithDefaultPrompt(a.cfg.Prompt()),
	)
	logging.Debugf("Opened %s backend with %s gate", adapter.Name(), a.cfg.Gate)
	return a.store, nil
}

func (a *app) gate() biometrics.Gate {
	switch a.cfg.Gate {
	case config.GateTerminal:
		return biometrics.NewTerminalGate(a.stdin, a.stderr, a.cfg.MaxAttempts, a.cfg.Lockout())
	case config.GateNone:
		return biometrics.Unavailable{}
	}
	return biometrics.NewSystemGate()
}

func (a *app) close() {
	if c, ok := a.adapter.(interface{ Close() }); ok {
		c.Close()
	}
}
