// Package config loads passvault settings.
//
// Values are layered, later sources winning: built-in defaults, the YAML
// file in the vault directory, a .env file in the working directory, then
// PASSVAULT_* environment variables. Command-line flags are applied on top
// by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/forest6511/passvault/pkg/clipboard"
	"github.com/forest6511/passvault/pkg/storage"
	"github.com/forest6511/passvault/pkg/vault"
)

// FileName is the name of the config file inside the vault directory.
const FileName = "config.yaml"

// DirName is the default vault directory under the user's home.
const DirName = ".passvault"

// Errors
var (
	ErrInvalidBackend  = errors.New("config: backend must be file or sqlite")
	ErrInvalidLogLevel = errors.New("config: unknown log level")
	ErrInvalidTimeout  = errors.New("config: durations must not be negative")
)

// Config holds the runtime settings.
type Config struct {
	Dir               string        `yaml:"dir" env:"PASSVAULT_DIR"`
	Backend           string        `yaml:"backend" env:"PASSVAULT_BACKEND"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"PASSVAULT_IDLE_TIMEOUT"`
	ClipboardClear    time.Duration `yaml:"clipboard_clear" env:"PASSVAULT_CLIPBOARD_CLEAR"`
	LogLevel          string        `yaml:"log_level" env:"PASSVAULT_LOG_LEVEL"`
	Audit             bool          `yaml:"audit" env:"PASSVAULT_AUDIT"`
	MinPasswordLength int           `yaml:"min_password_length" env:"PASSVAULT_MIN_PASSWORD_LENGTH"`
}

// Default returns the built-in settings. Dir is empty when the home
// directory cannot be determined.
func Default() *Config {
	cfg := &Config{
		Backend:           storage.BackendFile,
		IdleTimeout:       vault.DefaultIdleTimeout,
		ClipboardClear:    clipboard.DefaultClearAfter,
		LogLevel:          "warn",
		Audit:             true,
		MinPasswordLength: vault.MinPasswordLength,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.Dir = filepath.Join(home, DirName)
	}
	return cfg
}

// Load builds the configuration from every source except flags.
//
// The vault directory is resolved from the environment before the YAML file
// is read, so PASSVAULT_DIR also selects which config file applies.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if dir := os.Getenv("PASSVAULT_DIR"); dir != "" {
		cfg.Dir = dir
	}

	if cfg.Dir != "" {
		if err := cfg.loadFile(filepath.Join(cfg.Dir, FileName)); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges the YAML file at path into cfg. A missing file is not an
// error.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate normalises and checks the settings.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case storage.BackendFile, storage.BackendSQLite:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Backend)
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}

	if c.IdleTimeout < 0 || c.ClipboardClear < 0 {
		return ErrInvalidTimeout
	}
	if c.MinPasswordLength < vault.MinPasswordLength {
		c.MinPasswordLength = vault.MinPasswordLength
	}
	return nil
}

// Save writes the settings to the config file in c.Dir.
func (c *Config) Save() error {
	if c.Dir == "" {
		return errors.New("config: vault directory is not set")
	}
	if err := os.MkdirAll(c.Dir, storage.DirMode); err != nil {
		return fmt.Errorf("config: failed to create %s: %w", c.Dir, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to encode: %w", err)
	}
	path := filepath.Join(c.Dir, FileName)
	if err := os.WriteFile(path, data, storage.FileMode); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", path, err)
	}
	return nil
}
