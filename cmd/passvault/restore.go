package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/passvault/pkg/backup"
)

var (
	restoreDryRun     bool
	restoreVerifyOnly bool
	restoreOverwrite  bool
	restoreKeyFile    string
	restoreForce      bool
	restoreWithAudit  bool
)

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Show what would be restored without making changes")
	restoreCmd.Flags().BoolVar(&restoreVerifyOnly, "verify-only", false, "Only verify backup integrity")
	restoreCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "Replace an existing vault")
	restoreCmd.Flags().StringVar(&restoreKeyFile, "key-file", "", "Decryption key file")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "Skip confirmation prompt")
	restoreCmd.Flags().BoolVar(&restoreWithAudit, "with-audit", false, "Restore audit log (overwrites existing)")
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Restore vault from encrypted backup",
	Long: `Restore the vault from an encrypted backup file.

A backup replaces the whole vault: its master password comes back with it.

Examples:
  # Dry run (preview only)
  passvault restore backup.pvb --dry-run

  # Verify backup integrity without restoring
  passvault restore backup.pvb --verify-only

  # Replace an existing vault, including its audit log
  passvault restore backup.pvb --overwrite --with-audit

  # Use key file for decryption
  passvault restore backup.pvb --key-file=backup.key`,
	Args: cobra.ExactArgs(1),
	RunE: executeRestore,
}

func executeRestore(cmd *cobra.Command, args []string) error {
	backupPath := args[0]

	if restoreDryRun && restoreVerifyOnly {
		return fmt.Errorf("--dry-run and --verify-only are mutually exclusive")
	}
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup file not found: %s", backupPath)
	}

	var password []byte
	if restoreKeyFile == "" {
		pwd, err := readPassword("Enter backup password (or master password): ")
		if err != nil {
			return err
		}
		password = []byte(pwd)
	}

	if restoreVerifyOnly {
		result, err := backup.Verify(backupPath, password, restoreKeyFile)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if !result.Valid {
			return fmt.Errorf("verification failed: %s", result.Error)
		}
		fmt.Printf("Backup verification successful!\n")
		fmt.Printf("  Version: %d\n", result.Version)
		fmt.Printf("  Created: %s\n", result.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("  Includes Audit: %v\n", result.IncludesAudit)
		return nil
	}

	if restoreOverwrite && !restoreForce && !restoreDryRun {
		if !confirm("This will replace the current vault with the backup. Continue?") {
			fmt.Println("Restore cancelled.")
			return nil
		}
	}

	result, err := backup.Restore(cmd.Context(), backupPath, store, backup.RestoreOptions{
		Overwrite: restoreOverwrite,
		DryRun:    restoreDryRun,
		WithAudit: restoreWithAudit,
		AuditDir:  auditDir(),
		Password:  password,
		KeyFile:   restoreKeyFile,
	})
	if errors.Is(err, backup.ErrVaultExists) {
		return fmt.Errorf("a vault already exists at %s (use --overwrite to replace it)", cfg.Dir)
	}
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	if result.DryRun {
		fmt.Printf("Dry run complete. Would restore:\n")
	} else {
		fmt.Printf("Restore complete!\n")
	}
	fmt.Printf("  Backup created: %s\n", result.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if result.Replaced {
		fmt.Printf("  Existing vault: replaced\n")
	}
	if result.AuditRestored {
		fmt.Printf("  Audit log: restored\n")
	}
	return nil
}
