package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/forest6511/passvault/internal/config"
	"github.com/forest6511/passvault/internal/logging"
	"github.com/forest6511/passvault/pkg/audit"
	"github.com/forest6511/passvault/pkg/storage"
	"github.com/forest6511/passvault/pkg/vault"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// auditDirName is the audit log directory inside the vault directory.
const auditDirName = "audit"

var (
	cfg    *config.Config
	logger = zap.NewNop().Sugar()
	store  storage.Store
	v      *vault.Vault
)

// Global flags. They override the config file and environment.
var (
	flagDir         string
	flagBackend     string
	flagIdleTimeout time.Duration
	flagLogLevel    string
	flagNoAudit     bool
)

// commands that never touch the vault
var noVaultCommands = map[string]bool{
	"generate":                      true,
	"completion":                    true,
	"help":                          true,
	"keygen":                        true,
	cobra.ShellCompRequestCmd:       true,
	cobra.ShellCompNoDescRequestCmd: true,
}

var rootCmd = &cobra.Command{
	Use:           "passvault",
	Short:         "passvault is a local, encrypted password manager",
	Long:          `Store website logins encrypted under a single master password.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	// PersistentPreRunE runs before the root command and all subcommands.
	// It loads the configuration and opens the vault storage.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.LogLevel)
		if err != nil {
			return err
		}

		if noVaultCommands[cmd.Name()] {
			return nil
		}
		if cfg.Dir == "" {
			return errors.New("cannot determine vault directory: set PASSVAULT_DIR or --dir")
		}

		store, err = storage.Open(cmd.Context(), cfg.Backend, cfg.Dir)
		if err != nil {
			return fmt.Errorf("failed to open vault storage: %w", err)
		}
		v = newVault(auditSource(cmd))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		_ = logger.Sync()
		if store != nil {
			return store.Close()
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDir, "dir", "", "Vault directory (default ~/.passvault)")
	pf.StringVar(&flagBackend, "backend", "", "Storage backend: file, sqlite")
	pf.DurationVar(&flagIdleTimeout, "idle-timeout", 0, "Lock an unlocked vault after this much inactivity (0 disables)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&flagNoAudit, "no-audit", false, "Disable the audit log")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h, 7d)")
	auditVerifyCmd.Flags().BoolVar(&auditVerifyJSON, "json", false, "Output in JSON format")
}

// applyFlags copies explicitly set global flags over the loaded config.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("dir") {
		c.Dir = flagDir
	}
	if flags.Changed("backend") {
		c.Backend = flagBackend
	}
	if flags.Changed("idle-timeout") {
		c.IdleTimeout = flagIdleTimeout
	}
	if flags.Changed("log-level") {
		c.LogLevel = flagLogLevel
	}
	if flagNoAudit {
		c.Audit = false
	}
}

func auditSource(cmd *cobra.Command) string {
	switch cmd.Name() {
	case "shell":
		return audit.SourceShell
	case "mcp-server":
		return audit.SourceMCP
	default:
		return audit.SourceCLI
	}
}

func newVault(source string) *vault.Vault {
	opts := []vault.Option{
		vault.WithLogger(logger),
		vault.WithIdleTimeout(cfg.IdleTimeout),
		vault.WithMinPasswordLength(cfg.MinPasswordLength),
	}
	if cfg.Audit {
		opts = append(opts, vault.WithAudit(audit.NewLogger(auditDir(), source)))
	}
	return vault.New(store, opts...)
}

func auditDir() string {
	return filepath.Join(cfg.Dir, auditDirName)
}

// initCmd initializes a new vault
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes a new password vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		initialized, err := v.IsInitialized(ctx)
		if err != nil {
			return err
		}
		if initialized {
			return fmt.Errorf("vault already exists at %s", cfg.Dir)
		}

		fmt.Println("Initializing new vault...")

		password1, err := readPassword("Enter master password: ")
		if err != nil {
			return err
		}
		password2, err := readPassword("Confirm master password: ")
		if err != nil {
			return err
		}
		if password1 != password2 {
			return errors.New("passwords do not match")
		}

		result := vault.ValidateMasterPassword(password1)
		if !result.Valid {
			return fmt.Errorf("password validation failed: %s", result.Warnings[0])
		}
		fmt.Printf("Password strength: %s\n", result.Strength)
		for _, warning := range result.Warnings {
			fmt.Printf("Warning: %s\n", warning)
		}

		s, err := v.Setup(ctx, password1)
		if err != nil {
			return fmt.Errorf("failed to initialize vault: %w", err)
		}
		defer s.Lock()

		fmt.Printf("Vault initialized successfully at %s\n", cfg.Dir)
		return nil
	},
}

// unlock prompts for the master password and opens a session. The caller
// must Lock it.
func unlock(ctx context.Context) (*vault.Session, error) {
	password, err := readPassword("Enter master password: ")
	if err != nil {
		return nil, err
	}
	return login(ctx, password)
}

// login opens a session with password, translating vault errors into
// messages for the terminal.
func login(ctx context.Context, password string) (*vault.Session, error) {
	s, err := v.Login(ctx, password)
	switch {
	case errors.Is(err, vault.ErrVaultNotFound):
		return nil, errors.New("no vault found: run 'passvault init' first")
	case errors.Is(err, vault.ErrAuthentication):
		return nil, errors.New("incorrect master password")
	case err != nil:
		return nil, fmt.Errorf("failed to unlock vault: %w", err)
	}
	return s, nil
}

// withSession runs fn inside a login → operation → lock cycle.
func withSession(ctx context.Context, fn func(*vault.Session) error) error {
	s, err := unlock(ctx)
	if err != nil {
		return err
	}
	defer s.Lock()
	return fn(s)
}

// stdin is shared so buffered input is not lost between prompts.
var stdin = bufio.NewReader(os.Stdin)

// readPassword reads a secret without echo when stdin is a terminal, and a
// plain line otherwise (piped input).
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	return readLine()
}

// readLine reads a single line from stdin, trimming trailing newline
func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	value := strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(value, "\r"), nil
}

// confirm asks a yes/no question; anything but y/yes is no.
func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	answer, err := readLine()
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// Audit flags
var (
	auditLimit      int
	auditSince      string
	auditVerifyJSON bool
)

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

// auditListCmd lists audit log entries. Listing needs no key.
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if auditSince != "" {
			duration, err := parseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}

		events, err := audit.NewLogger(auditDir(), audit.SourceCLI).ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		for _, event := range events {
			// Format: TIMESTAMP OPERATION RESULT SOURCE [SUBJECT] [ERROR]
			line := fmt.Sprintf("%s %s %s %s", event.Timestamp.Local().Format(time.RFC3339),
				event.Operation, event.Result, event.Source)
			if event.Subject != "" {
				subject := event.Subject
				if len(subject) > 16 {
					subject = subject[:16] + "..."
				}
				line += " subject:" + subject
			}
			if event.Error != "" {
				line += fmt.Sprintf(" error:%q", event.Error)
			}
			fmt.Println(line)
		}

		fmt.Printf("\nTotal: %d events\n", len(events))
		return nil
	},
}

// auditVerifyCmd verifies audit log integrity
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		al := v.AuditLogger()
		if al == nil {
			return errors.New("audit log is disabled")
		}

		// Unlocking derives the chain key.
		return withSession(cmd.Context(), func(*vault.Session) error {
			result, err := al.Verify()
			if err != nil {
				return fmt.Errorf("failed to verify audit log: %w", err)
			}

			if auditVerifyJSON {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			} else if result.Valid {
				fmt.Printf("✓ Audit log verified: %d records, chain intact\n", result.RecordsTotal)
			} else {
				fmt.Printf("✗ Audit log verification FAILED\n")
				fmt.Printf("  Records total: %d\n", result.RecordsTotal)
				fmt.Printf("  Records verified: %d\n", result.RecordsVerified)
				fmt.Println("  Errors:")
				for _, e := range result.Errors {
					fmt.Printf("    - %s\n", e)
				}
			}

			if !result.Valid {
				return errors.New("audit log integrity check failed")
			}
			return nil
		})
	},
}

// parseDuration parses a duration string like "30d", "1y", "24h"
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return time.ParseDuration(s)
	}

	switch unit {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
