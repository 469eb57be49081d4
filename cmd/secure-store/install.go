package main

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quexten/bio-secure-store/biometrics"
	"github.com/quexten/bio-secure-store/logging"
)

const (
	polkitActionsDir = "/usr/share/polkit-1/actions"
	// Native messaging host names only allow lowercase, digits, dots and
	// underscores.
	hostName = "com.quexten.bio_secure_store"
)

type installFlags struct {
	skipPolkit bool
	extensions []string
	origins    []string
}

func (a *app) installCmd() *cobra.Command {
	var flags installFlags
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the polkit policy and browser native messaging manifests",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(a.stdout, "Installing...")
			if runtime.GOOS == "linux" && !flags.skipPolkit {
				if err := a.installPolicy(); err != nil {
					return err
				}
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "Detecting browsers...")
			for _, start := range []string{".config", ".mozilla"} {
				if err := installManifests(a.stdout, home, start, exe, flags); err != nil {
					return fmt.Errorf("failed to install browser manifests: %w", err)
				}
			}
			fmt.Fprintln(a.stdout, "Done!")
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.skipPolkit, "skip-polkit", false, "do not install the polkit policy")
	cmd.Flags().StringSliceVar(&flags.extensions, "extension", nil, "Firefox extension id allowed to connect")
	cmd.Flags().StringSliceVar(&flags.origins, "origin", nil, "Chromium extension origin allowed to connect")
	return cmd
}

// installPolicy copies the embedded polkit policy into the system actions
// directory through pkexec.
func (a *app) installPolicy() error {
	fmt.Fprintln(a.stdout, "Copying polkit policy...")
	tmp, err := os.CreateTemp("", biometrics.ActionID+"-*.policy")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(biometrics.PolicyFile()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}

	target := filepath.Join(polkitActionsDir, biometrics.ActionID+".policy")
	cmd := exec.Command("pkexec", "cp", tmp.Name(), target)
	cmd.Stdin = os.Stdin
	cmd.Stdout = a.stdout
	cmd.Stderr = a.stderr
	if err := cmd.Run(); err != nil {
		logging.Warnf("pkexec failed: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("failed to copy polkit policy: %w", err)
	}
	return nil
}

type manifest struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Path              string   `json:"path"`
	Type              string   `json:"type"`
	AllowedExtensions []string `json:"allowed_extensions,omitempty"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
}

// installManifests walks at most three levels below home/start and writes a
// manifest into every native messaging host directory it finds.
func installManifests(out io.Writer, home, start, exe string, flags installFlags) error {
	root := filepath.Join(home, start)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(home, path)
		if relErr != nil || strings.HasPrefix(rel, "..") {
			return nil
		}
		depth := strings.Count(filepath.ToSlash(rel), "/")
		if d.IsDir() && depth > 3 {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}

		m := manifest{
			Name:        hostName,
			Description: "Biometric-gated secret store",
			Path:        exe,
			Type:        "stdio",
		}
		switch d.Name() {
		case "native-messaging-hosts":
			fmt.Fprintf(out, "Found mozilla-like browser: %s\n", path)
			m.AllowedExtensions = flags.extensions
		case "NativeMessagingHosts":
			fmt.Fprintf(out, "Found chrome-like browser: %s\n", path)
			m.AllowedOrigins = flags.origins
		default:
			return nil
		}

		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		data = append(data, '\n')
		return os.WriteFile(filepath.Join(path, hostName+".json"), data, 0o644)
	})
}
