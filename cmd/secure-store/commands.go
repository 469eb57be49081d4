package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quexten/bio-secure-store/bridge"
	"github.com/quexten/bio-secure-store/config"
	"github.com/quexten/bio-secure-store/errs"
	"github.com/quexten/bio-secure-store/logging"
	"github.com/quexten/bio-secure-store/secret"
	"github.com/quexten/bio-secure-store/securestore"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the native messaging protocol on stdin and stdout",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context())
		},
	}
}

func (a *app) runServe(ctx context.Context) error {
	if a.cfg.Gate == config.GateTerminal {
		return usageError{fmt.Errorf("the terminal gate reads stdin, which serve uses for messages")}
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	logging.Infof("Serving %s on stdio", bridge.AppID)
	return bridge.NewServer(store, logging.Logger()).Serve(ctx, a.stdin, a.stdout)
}

type policyFlags struct {
	biometric bool
	validity  time.Duration
	strongBox bool
	fallback  bool
}

// policy returns nil when no flag asks for protection.
func (f *policyFlags) policy(cmd *cobra.Command) (*securestore.AuthPolicy, error) {
	if !f.biometric && !f.strongBox && !cmd.Flags().Changed("validity") {
		return nil, nil
	}
	var opts []securestore.PolicyOption
	if !f.biometric {
		opts = append(opts, securestore.WithoutAuthentication())
	}
	if cmd.Flags().Changed("validity") {
		opts = append(opts, securestore.WithValidity(f.validity))
	}
	if f.strongBox {
		opts = append(opts, securestore.WithStrongBox())
	}
	if f.fallback {
		opts = append(opts, securestore.WithSoftwareFallback())
	}
	return securestore.NewPolicy(opts...)
}

func (a *app) storeCmd() *cobra.Command {
	var flags policyFlags
	cmd := &cobra.Command{
		Use:   "store KEY",
		Short: "Store a secret read from the terminal or stdin",
		Example: `  secure-store store signing-key --biometric --validity 30s
  printf 'token' | secure-store store api-token`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := flags.policy(cmd)
			if err != nil {
				return usageError{err}
			}
			value, err := a.readSecret()
			if err != nil {
				return err
			}
			defer secret.Wipe(value)

			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.StoreSecret(cmd.Context(), args[0], value, policy); err != nil {
				return err
			}
			fmt.Fprintf(a.stderr, "Stored %q\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.biometric, "biometric", false, "require authentication to read the secret")
	cmd.Flags().DurationVar(&flags.validity, "validity", 0, "how long one authentication unlocks the secret")
	cmd.Flags().BoolVar(&flags.strongBox, "strongbox", false, "require a secure element")
	cmd.Flags().BoolVar(&flags.fallback, "fallback", false, "allow --strongbox to fall back to weaker storage")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var validity time.Duration
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print a stored secret",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var policy *securestore.AuthPolicy
			if cmd.Flags().Changed("validity") {
				p, err := securestore.NewPolicy(securestore.WithValidity(validity))
				if err != nil {
					return usageError{err}
				}
				policy = p
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			value, err := store.GetSecret(cmd.Context(), args[0], policy)
			if err != nil {
				return err
			}
			if value == nil {
				return fmt.Errorf("no secret stored for %q", args[0])
			}
			defer secret.Wipe(value)
			_, err = a.stdout.Write(value)
			return err
		},
	}
	cmd.Flags().DurationVar(&validity, "validity", 0, "accept an authentication at most this old")
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove KEY",
		Short: "Remove a stored secret",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			return store.RemoveSecret(cmd.Context(), args[0])
		},
	}
}

func (a *app) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report biometric availability and backend protection",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			available, err := store.IsBiometryAvailable(cmd.Context())
			if err != nil {
				return err
			}
			tier, err := a.adapter.ProbeHardware(cmd.Context())
			if err != nil {
				return errs.Wrap(errs.PlatformProbeError, err, "probe hardware")
			}
			fmt.Fprintf(a.stdout, "backend   = %q\n", a.adapter.Name())
			fmt.Fprintf(a.stdout, "tier      = %q\n", tier)
			fmt.Fprintf(a.stdout, "gate      = %q\n", a.cfg.Gate)
			fmt.Fprintf(a.stdout, "available = %t\n", available)
			return nil
		},
	}
}

// readSecret prompts without echo on a terminal and otherwise reads stdin to
// the end, dropping one trailing newline.
func (a *app) readSecret() ([]byte, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.stderr, "Secret: ")
		value, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.stderr)
		if err == nil && len(value) == 0 {
			err = io.ErrUnexpectedEOF
		}
		return value, err
	}
	value, err := io.ReadAll(a.stdin)
	if err != nil {
		return nil, err
	}
	value = bytes.TrimSuffix(value, []byte("\n"))
	value = bytes.TrimSuffix(value, []byte("\r"))
	if len(value) == 0 {
		return nil, errs.New(errs.InvalidArgument, "secret must not be empty")
	}
	return value, nil
}
