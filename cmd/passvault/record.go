package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/passvault/internal/cli"
	"github.com/forest6511/passvault/pkg/clipboard"
	"github.com/forest6511/passvault/pkg/vault"
)

// Record flags shared by add and edit.
var (
	recName     string
	recWebsite  string
	recUsername string
	recCategory string
	recNotes    string
	recPassword bool
	recGenerate bool
	recLength   int
)

// Other record command flags.
var (
	deleteForce  bool
	listCategory string
	showReveal   bool
	copyField    string
)

func init() {
	rootCmd.AddCommand(addCmd, editCmd, deleteCmd, listCmd, showCmd, copyCmd)

	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().StringVarP(&recWebsite, "website", "w", "", "Website URL")
		c.Flags().StringVarP(&recUsername, "username", "u", "", "Username or email")
		c.Flags().StringVarP(&recCategory, "category", "c", "", "Category (default: "+vault.FallbackCategory+")")
		c.Flags().StringVar(&recNotes, "notes", "", "Free-form notes")
		c.Flags().BoolVarP(&recGenerate, "generate", "g", false, "Generate a random password instead of prompting")
		c.Flags().IntVarP(&recLength, "length", "l", defaultPasswordLength, "Generated password length")
	}
	editCmd.Flags().StringVar(&recName, "name", "", "New record name")
	editCmd.Flags().BoolVarP(&recPassword, "password", "p", false, "Prompt for a new password")

	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
	listCmd.Flags().StringVarP(&listCategory, "category", "c", vault.AllCategories, "Only show records in this category")
	showCmd.Flags().BoolVar(&showReveal, "reveal", false, "Print the password in clear text")
	copyCmd.Flags().StringVar(&copyField, "field", "password", "Field to copy: password, username, website")
}

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a login record",
	Long: `Add a login record. The password is prompted for without echo unless
--generate is given.

Examples:
  passvault add GitHub -u octocat -w https://github.com -c Work
  passvault add "Bank of Example" -u me --generate -l 32`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			password, err := newRecordPassword()
			if err != nil {
				return err
			}

			rec, err := s.AddRecord(cmd.Context(), vault.RecordInput{
				Name:     args[0],
				Website:  recWebsite,
				Username: recUsername,
				Password: password,
				Notes:    recNotes,
				Category: recCategory,
			})
			if err != nil {
				return fmt.Errorf("failed to add record: %w", err)
			}

			fmt.Printf("Record '%s' added (%s)\n", rec.Name, rec.ID)
			if recGenerate {
				fmt.Println("Generated password stored; use 'passvault copy' to retrieve it")
			}
			return nil
		})
	},
}

// newRecordPassword generates or prompts for a record password.
func newRecordPassword() (string, error) {
	if recGenerate {
		if recLength < minPasswordLength || recLength > maxPasswordLength {
			return "", fmt.Errorf("password length must be between %d and %d", minPasswordLength, maxPasswordLength)
		}
		return randomPassword(recLength)
	}
	return readPassword("Password: ")
}

var editCmd = &cobra.Command{
	Use:   "edit <name|id>",
	Short: "Edit a login record",
	Long: `Edit fields of a record. Only the flags given are changed.

Examples:
  passvault edit GitHub --username new-login
  passvault edit GitHub --password
  passvault edit GitHub --generate --length 40`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := buildPatch(cmd)
		if err != nil {
			return err
		}
		if patch.IsEmpty() && !recPassword && !recGenerate {
			return errors.New("nothing to change: pass at least one field flag")
		}

		return withSession(cmd.Context(), func(s *vault.Session) error {
			records, err := s.Records()
			if err != nil {
				return err
			}
			target, err := cli.SelectOne(args[0], records)
			if err != nil {
				return err
			}

			if recPassword || recGenerate {
				password, err := newRecordPassword()
				if err != nil {
					return err
				}
				patch.Password = &password
			}

			rec, err := s.UpdateRecord(cmd.Context(), target.ID, patch)
			if err != nil {
				return fmt.Errorf("failed to update record: %w", err)
			}
			if rec == nil {
				return fmt.Errorf("record '%s' no longer exists", target.ID)
			}
			fmt.Printf("Record '%s' updated\n", rec.Name)
			return nil
		})
	},
}

// buildPatch turns the changed field flags into a RecordPatch. The
// password is read separately, after unlocking.
func buildPatch(cmd *cobra.Command) (vault.RecordPatch, error) {
	var p vault.RecordPatch
	flags := cmd.Flags()
	if flags.Changed("name") {
		if strings.TrimSpace(recName) == "" {
			return p, vault.ErrRecordNameRequired
		}
		p.Name = &recName
	}
	if flags.Changed("website") {
		p.Website = &recWebsite
	}
	if flags.Changed("username") {
		p.Username = &recUsername
	}
	if flags.Changed("category") {
		p.Category = &recCategory
	}
	if flags.Changed("notes") {
		p.Notes = &recNotes
	}
	return p, nil
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name|id|pattern>...",
	Short: "Delete login records",
	Long: `Delete records by id, name or glob pattern on names.

Examples:
  passvault delete GitHub
  passvault delete "old-*" --force`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			records, err := s.Records()
			if err != nil {
				return err
			}
			targets, err := cli.SelectRecords(args, records)
			if err != nil {
				return err
			}

			if !deleteForce {
				fmt.Fprintf(os.Stderr, "This will delete %d record(s):\n", len(targets))
				for _, r := range targets {
					fmt.Fprintf(os.Stderr, "  - %s (%s)\n", r.Name, r.ID)
				}
				if !confirm("Continue?") {
					fmt.Println("Aborted")
					return nil
				}
			}

			for _, r := range targets {
				if _, err := s.DeleteRecord(cmd.Context(), r.ID); err != nil {
					return fmt.Errorf("failed to delete '%s': %w", r.Name, err)
				}
			}
			fmt.Printf("Deleted %d record(s)\n", len(targets))
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list [query]",
	Aliases: []string{"search", "ls"},
	Short:   "List or search login records",
	Long: `List records, optionally filtered by a case-insensitive substring of the
name, website, username or category, and by category.

Examples:
  passvault list
  passvault search git
  passvault list -c Banking`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		return withSession(cmd.Context(), func(s *vault.Session) error {
			records, err := s.Search(query, listCategory)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No records found")
				return nil
			}
			printRecords(records)
			return nil
		})
	},
}

func printRecords(records []vault.CredentialRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tUSERNAME\tWEBSITE\tCATEGORY\tMODIFIED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Name, r.Username, r.Website, r.Category, r.LastModified.Local().Format("2006-01-02"))
	}
	w.Flush()
}

var showCmd = &cobra.Command{
	Use:   "show <name|id>",
	Short: "Show a login record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			records, err := s.Records()
			if err != nil {
				return err
			}
			r, err := cli.SelectOne(args[0], records)
			if err != nil {
				return err
			}

			password := strings.Repeat("*", 8)
			if showReveal {
				password = r.Password
			} else if r.Password == "" {
				password = "(none)"
			}

			fmt.Printf("ID:        %s\n", r.ID)
			fmt.Printf("Name:      %s\n", r.Name)
			fmt.Printf("Website:   %s\n", r.Website)
			fmt.Printf("Username:  %s\n", r.Username)
			fmt.Printf("Password:  %s\n", password)
			fmt.Printf("Category:  %s\n", r.Category)
			fmt.Printf("Created:   %s\n", r.CreatedDate.Local().Format(time.RFC3339))
			fmt.Printf("Modified:  %s\n", r.LastModified.Local().Format(time.RFC3339))
			if r.Notes != "" {
				fmt.Printf("Notes:\n%s\n", r.Notes)
			}
			return nil
		})
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy <name|id>",
	Short: "Copy a record field to the clipboard",
	Long: `Copy a record's password (or another field) to the clipboard. The
clipboard is cleared after the configured delay, or on Ctrl+C, unless it
has been overwritten in the meantime.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value, name string
		err := withSession(cmd.Context(), func(s *vault.Session) error {
			records, err := s.Records()
			if err != nil {
				return err
			}
			r, err := cli.SelectOne(args[0], records)
			if err != nil {
				return err
			}
			name = r.Name
			value, err = recordField(r, copyField)
			return err
		})
		if err != nil {
			return err
		}
		// the session is locked from here on

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return copyAndWait(ctx, value, fmt.Sprintf("%s of '%s'", copyField, name))
	},
}

func recordField(r vault.CredentialRecord, field string) (string, error) {
	switch strings.ToLower(field) {
	case "password":
		return r.Password, nil
	case "username":
		return r.Username, nil
	case "website", "url":
		return r.Website, nil
	default:
		return "", fmt.Errorf("unknown field %q (use password, username or website)", field)
	}
}

// copyAndWait copies text and blocks until the clipboard has been cleared.
func copyAndWait(ctx context.Context, text, what string) error {
	cb, err := clipboard.New(logger)
	if err != nil {
		return err
	}
	done, err := cb.Copy(ctx, text, cfg.ClipboardClear)
	if err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	if cfg.ClipboardClear <= 0 {
		fmt.Fprintf(os.Stderr, "Copied %s to clipboard\n", what)
		return nil
	}
	fmt.Fprintf(os.Stderr, "Copied %s to clipboard; clearing in %s (Ctrl+C to clear now)\n", what, cfg.ClipboardClear)
	<-done
	fmt.Fprintln(os.Stderr, "Clipboard cleared")
	return nil
}
