package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/passvault/internal/cli"
	"github.com/forest6511/passvault/pkg/importer"
	"github.com/forest6511/passvault/pkg/vault"
)

// maxImportFileSize bounds the export file read into memory.
const maxImportFileSize = 50 * 1024 * 1024

var (
	importFrom     string
	importDryRun   bool
	importNames    []string
	importCategory string
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importFrom, "from", "", "Import source: "+strings.Join(importer.ValidSources(), ", ")+" (required)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show what would be imported without making changes")
	importCmd.Flags().StringSliceVarP(&importNames, "name", "n", nil, "Only import records whose name matches (glob pattern supported)")
	importCmd.Flags().StringVarP(&importCategory, "category", "c", "", "Put every imported record in this category")
	_ = importCmd.MarkFlagRequired("from")
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import logins from another password manager",
	Long: `Import logins from an unencrypted export of another password manager.

Examples:
  # Bitwarden JSON export
  passvault import --from bitwarden bitwarden_export.json

  # LastPass CSV export, preview only
  passvault import --from lastpass lastpass.csv --dry-run

  # 1Password CSV export, only GitHub-ish entries
  passvault import --from 1password export.csv -n "git*"

Folders become categories. Items without a username or password are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: executeImport,
}

func executeImport(cmd *cobra.Command, args []string) error {
	parser, err := importer.GetParser(importer.Source(strings.ToLower(importFrom)))
	if err != nil {
		return fmt.Errorf("invalid --from value '%s': must be one of %v", importFrom, importer.ValidSources())
	}

	data, err := readImportFile(args[0])
	if err != nil {
		return err
	}

	result, err := parser.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s file: %w", importFrom, err)
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}
	for _, skipped := range result.Skipped {
		fmt.Fprintf(os.Stderr, "Skipped: %s (%s)\n", skipped.OriginalName, skipped.Reason)
	}

	if len(importNames) > 0 {
		result.Records, err = filterImportNames(result.Records, importNames)
		if err != nil {
			return err
		}
	}
	if len(result.Records) == 0 {
		fmt.Println("No records to import")
		return nil
	}

	if importCategory != "" {
		category, err := vault.CleanCategoryName(importCategory)
		if err != nil {
			return fmt.Errorf("invalid category %q", importCategory)
		}
		for i := range result.Records {
			result.Records[i].Category = category
		}
	}

	fmt.Printf("Found %d records to import\n", len(result.Records))
	if importDryRun {
		for _, r := range result.Records {
			category := r.Category
			if category == "" {
				category = vault.FallbackCategory
			}
			fmt.Printf("  + %s (%s)\n", r.Name, category)
		}
		fmt.Println("\nDry run: no changes made")
		return nil
	}

	return withSession(cmd.Context(), func(s *vault.Session) error {
		applied, err := importer.Apply(cmd.Context(), s, result)
		if applied != nil && len(applied.CategoriesCreated) > 0 {
			fmt.Printf("Created categories: %s\n", strings.Join(applied.CategoriesCreated, ", "))
		}
		if err != nil {
			if applied != nil {
				fmt.Fprintf(os.Stderr, "Imported %d records before failing\n", applied.Added)
			}
			return err
		}
		fmt.Printf("Imported %d records\n", applied.Added)
		return nil
	})
}

// readImportFile reads an export file, refusing symlinks and oversized files.
func readImportFile(filePath string) ([]byte, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", filePath)
		}
		return nil, fmt.Errorf("failed to access file: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("security: refusing to read symlink: %s", absPath)
	}
	if info.Size() > maxImportFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxImportFileSize)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// filterImportNames keeps the records whose name matches any pattern.
func filterImportNames(records []vault.RecordInput, patterns []string) ([]vault.RecordInput, error) {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}

	keep := make(map[string]bool)
	for _, p := range patterns {
		matches, err := cli.MatchNames(p, names)
		if errors.Is(err, cli.ErrNoMatch) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			keep[m] = true
		}
	}

	var out []vault.RecordInput
	for _, r := range records {
		if keep[r.Name] {
			out = append(out, r)
		}
	}
	return out, nil
}
