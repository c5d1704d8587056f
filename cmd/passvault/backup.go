package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/passvault/pkg/backup"
)

var (
	backupOutput         string
	backupStdout         bool
	backupWithAudit      bool
	backupBackupPassword bool
	backupKeyFile        string
	backupForce          bool
)

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupKeygenCmd)

	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path")
	backupCmd.Flags().BoolVar(&backupStdout, "stdout", false, "Output to stdout (for piping)")
	backupCmd.Flags().BoolVar(&backupWithAudit, "with-audit", false, "Include audit log in backup")
	backupCmd.Flags().BoolVar(&backupBackupPassword, "backup-password", false, "Use separate backup password")
	backupCmd.Flags().StringVar(&backupKeyFile, "key-file", "", "Encryption key file (32 bytes)")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create encrypted backup of the vault",
	Long: `Create an encrypted, integrity-protected backup of the vault.

The backup is encrypted with the master password unless --backup-password
or --key-file is given.

Examples:
  # Backup to a file
  passvault backup -o vault-backup.pvb

  # Backup with audit log
  passvault backup -o full-backup.pvb --with-audit

  # Backup to stdout (for piping)
  passvault backup --stdout | gpg --encrypt > backup.gpg

  # Use a key file
  passvault backup keygen backup.key
  passvault backup -o backup.pvb --key-file=backup.key`,
	Args: cobra.NoArgs,
	RunE: executeBackup,
}

var backupKeygenCmd = &cobra.Command{
	Use:   "keygen <file>",
	Short: "Generate a random backup key file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Lstat(args[0]); err == nil {
			return fmt.Errorf("key file already exists: %s", args[0])
		}
		if err := backup.GenerateKeyFile(args[0]); err != nil {
			return err
		}
		fmt.Printf("Key file written to %s; store it apart from your backups\n", args[0])
		return nil
	},
}

func executeBackup(cmd *cobra.Command, args []string) error {
	if err := validateBackupFlags(); err != nil {
		return err
	}
	ctx := cmd.Context()

	master, err := readPassword("Enter master password: ")
	if err != nil {
		return err
	}
	// only a correct master password may export the vault
	s, err := login(ctx, master)
	if err != nil {
		return err
	}
	s.Lock()

	opts := backup.BackupOptions{
		IncludeAudit: backupWithAudit,
		AuditDir:     auditDir(),
		KeyFile:      backupKeyFile,
	}
	switch {
	case backupKeyFile != "":
	case backupBackupPassword:
		pwd, err := promptBackupPassword()
		if err != nil {
			return err
		}
		opts.Password = pwd
	default:
		opts.Password = []byte(master)
	}

	var output io.Writer = os.Stdout
	if !backupStdout {
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if !backupForce {
			flags |= os.O_EXCL
		}
		f, err := os.OpenFile(backupOutput, flags, 0600)
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("output file already exists: %s (use --force to overwrite)", backupOutput)
		}
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	if err := backup.Backup(ctx, output, store, opts); err != nil {
		if !backupStdout {
			_ = os.Remove(backupOutput)
		}
		return fmt.Errorf("backup failed: %w", err)
	}

	if !backupStdout {
		fmt.Fprintf(os.Stderr, "Backup created successfully: %s\n", backupOutput)
	}
	return nil
}

func validateBackupFlags() error {
	if !backupStdout && backupOutput == "" {
		return fmt.Errorf("either --output or --stdout is required")
	}
	if backupStdout && backupOutput != "" {
		return fmt.Errorf("--output and --stdout are mutually exclusive")
	}
	if backupKeyFile != "" && backupBackupPassword {
		return fmt.Errorf("--key-file and --backup-password are mutually exclusive")
	}
	return nil
}

func promptBackupPassword() ([]byte, error) {
	password1, err := readPassword("Enter backup password: ")
	if err != nil {
		return nil, err
	}
	password2, err := readPassword("Confirm backup password: ")
	if err != nil {
		return nil, err
	}
	if password1 != password2 {
		return nil, fmt.Errorf("passwords do not match")
	}
	if password1 == "" {
		return nil, backup.ErrEmptyPassword
	}
	return []byte(password1), nil
}
