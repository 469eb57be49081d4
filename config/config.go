// Package config loads the secure-store settings from a flat key/value file,
// either ini style or YAML, and applies environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kenshaw/ini"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/quexten/bio-secure-store/biometrics"
	"github.com/quexten/bio-secure-store/logging"
	"github.com/quexten/bio-secure-store/secret"
	"github.com/quexten/bio-secure-store/securestore"
)

const (
	GateSystem   = "system"
	GateTerminal = "terminal"
	GateNone     = "none"
)

// Config is the complete runtime configuration.
type Config struct {
	Backend  string `yaml:"backend"`
	Gate     string `yaml:"gate"`
	Service  string `yaml:"service"`
	FilePath string `yaml:"file_path"`
	LogLevel string `yaml:"log_level"`

	PromptTitle       string `yaml:"prompt_title"`
	PromptSubtitle    string `yaml:"prompt_subtitle"`
	PromptDescription string `yaml:"prompt_description"`
	PromptCancel      string `yaml:"prompt_cancel"`

	MaxAttempts    int `yaml:"max_attempts"`
	LockoutSeconds int `yaml:"lockout_seconds"`

	// Passphrase unlocks the file backend. It only comes from the
	// environment.
	Passphrase []byte `yaml:"-"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `yaml:"-"`
}

// Default returns the configuration used when no file exists.
func Default(dir string) *Config {
	return &Config{
		Backend:           "auto",
		Gate:              GateSystem,
		Service:           secret.DefaultService,
		FilePath:          filepath.Join(dir, "secrets.json"),
		LogLevel:          "info",
		PromptTitle:       securestore.DefaultPrompt.Title,
		PromptDescription: securestore.DefaultPrompt.Description,
		PromptCancel:      securestore.DefaultPrompt.CancelLabel,
		MaxAttempts:       biometrics.DefaultMaxAttempts,
		LockoutSeconds:    int(biometrics.DefaultCooldown / time.Second),
	}
}

// Dir returns $SECURE_STORE_CONFIG_DIR, or bio-secure-store under the user
// config directory.
func Dir() (string, error) {
	if dir := os.Getenv("SECURE_STORE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bio-secure-store"), nil
}

// Load reads config.yaml, config.yml or config from dir, whichever exists
// first, applies the environment and validates the result.
func Load(dir string) (*Config, error) {
	for _, name := range []string{"config.yaml", "config.yml", "config"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	logging.Debugf("No config file in %s, using defaults", dir)
	cfg := Default(dir)
	return cfg, cfg.finish()
}

// LoadFile reads one config file. Files ending in .yaml or .yml are YAML;
// anything else is parsed as ini without sections.
func LoadFile(path string) (*Config, error) {
	cfg := Default(filepath.Dir(path))
	cfg.Path = path

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = cfg.loadYAML(path)
	default:
		err = cfg.loadINI(path)
	}
	if err != nil {
		return nil, err
	}
	return cfg, cfg.finish()
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file at %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadINI(path string) error {
	file, err := ini.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file at %s: %w", path, err)
	}
	for _, section := range file.AllSections() {
		if section.Name() != "" {
			return fmt.Errorf("%s: sections are not used in config files", path)
		}
		for _, key := range section.Keys() {
			// keys arrive lowercased
			value := section.Get(key)
			switch key {
			case "backend":
				c.Backend = value
			case "gate":
				c.Gate = value
			case "service":
				c.Service = value
			case "file_path":
				c.FilePath = value
			case "log_level":
				c.LogLevel = value
			case "prompt_title":
				c.PromptTitle = value
			case "prompt_subtitle":
				c.PromptSubtitle = value
			case "prompt_description":
				c.PromptDescription = value
			case "prompt_cancel":
				c.PromptCancel = value
			case "max_attempts":
				if c.MaxAttempts, err = strconv.Atoi(value); err != nil {
					return fmt.Errorf("%s: max_attempts: %w", path, err)
				}
			case "lockout_seconds":
				if c.LockoutSeconds, err = strconv.Atoi(value); err != nil {
					return fmt.Errorf("%s: lockout_seconds: %w", path, err)
				}
			case "passphrase":
				return fmt.Errorf("%s: passphrase is only read from SECURE_STORE_PASSPHRASE", path)
			default:
				return fmt.Errorf("%s: unknown config key: %q", path, key)
			}
		}
	}
	return nil
}

func (c *Config) finish() error {
	c.applyEnv()
	return c.Validate()
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env   string
		field *string
	}{
		{"SECURE_STORE_BACKEND", &c.Backend},
		{"SECURE_STORE_GATE", &c.Gate},
		{"SECURE_STORE_LOG_LEVEL", &c.LogLevel},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			logging.Debugf("Overriding config value from %s", o.env)
			*o.field = v
		}
	}
	if v := os.Getenv("SECURE_STORE_PASSPHRASE"); v != "" {
		c.Passphrase = []byte(v)
	}
}

// Validate checks values that can be checked without touching the platform.
func (c *Config) Validate() error {
	switch c.Gate {
	case GateSystem, GateTerminal, GateNone:
	default:
		return fmt.Errorf("unknown gate %q, want %s, %s or %s", c.Gate, GateSystem, GateTerminal, GateNone)
	}
	if c.Backend == "" {
		return fmt.Errorf("backend must not be empty")
	}
	if c.Backend == "file" && c.FilePath == "" {
		return fmt.Errorf("file backend needs file_path")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.LockoutSeconds < 0 {
		return fmt.Errorf("lockout_seconds must not be negative, got %d", c.LockoutSeconds)
	}
	if err := c.Prompt().Validate(); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	return nil
}

// Prompt is the store default prompt.
func (c *Config) Prompt() biometrics.Prompt {
	return biometrics.Prompt{
		Title:       c.PromptTitle,
		Subtitle:    c.PromptSubtitle,
		Description: c.PromptDescription,
		CancelLabel: c.PromptCancel,
	}
}

func (c *Config) Lockout() time.Duration {
	return time.Duration(c.LockoutSeconds) * time.Second
}

// OpenBackend opens the configured storage backend.
func (c *Config) OpenBackend() (secret.Adapter, error) {
	return secret.Open(c.Backend, secret.Options{
		Service:    c.Service,
		FilePath:   c.FilePath,
		Passphrase: c.Passphrase,
	})
}
