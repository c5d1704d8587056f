package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/forest6511/passvault/pkg/security"
	"github.com/forest6511/passvault/pkg/vault"
)

// Security command flags
var (
	securityVerbose bool
	securityJSON    bool
	securityLimit   int
)

// securityCmd is the root security command.
var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Analyze vault password health",
	Long: `Analyze the password health of your vault and get recommendations.

The security score is calculated from:
  - Password Strength (0-50): Average strength of stored passwords
  - Uniqueness (0-50): Share of passwords not reused elsewhere

Example:
  passvault security              # Show security score and top issues
  passvault security --verbose    # Show all components and suggestions
  passvault security --json       # Output in JSON format`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			records, err := s.Records()
			if err != nil {
				return err
			}
			calc, err := security.NewCalculator()
			if err != nil {
				return err
			}

			report := calc.Report(records, security.Options{IncludeNames: true, Limit: securityLimit})
			if securityJSON {
				return outputSecurityJSON(report)
			}
			outputSecurityText(report, securityVerbose)
			return nil
		})
	},
}

// securityDuplicatesCmd lists duplicate passwords.
var securityDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List records that share a password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			records, err := s.Records()
			if err != nil {
				return err
			}
			calc, err := security.NewCalculator()
			if err != nil {
				return err
			}

			groups := calc.FindDuplicates(records, true)
			if len(groups) == 0 {
				fmt.Println("No duplicate passwords found!")
				return nil
			}

			fmt.Printf("Duplicate Passwords (%d groups found)\n\n", len(groups))
			for i, group := range groups {
				fmt.Printf("%d. %d records share the same password:\n", i+1, group.Count)
				for _, name := range group.Names {
					fmt.Printf("   - %s\n", name)
				}
				fmt.Println()
			}
			return nil
		})
	},
}

// securityWeakCmd lists weak passwords.
var securityWeakCmd = &cobra.Command{
	Use:   "weak",
	Short: "List weak passwords",
	Long: `Show records whose password is weak (shorter than 8 characters).
Records without a password are not listed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			records, err := s.Records()
			if err != nil {
				return err
			}

			var weak []vault.CredentialRecord
			for _, r := range records {
				if r.Password != "" && security.Strength(r.Password) == security.PasswordWeak {
					weak = append(weak, r)
				}
			}
			if len(weak) == 0 {
				fmt.Println("✅ No weak passwords found!")
				return nil
			}

			fmt.Printf("💪 Weak Passwords (%d found)\n\n", len(weak))
			for i, r := range weak {
				fmt.Printf("%d. %s (%s)\n", i+1, r.Name, r.Category)
				fmt.Printf("   %d characters\n\n", utf8.RuneCountInString(r.Password))
			}
			return nil
		})
	},
}

// outputSecurityJSON outputs the security report as JSON.
func outputSecurityJSON(report *security.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// outputSecurityText outputs the security report as formatted text.
func outputSecurityText(report *security.Report, verbose bool) {
	emoji := "🔒"
	var rating string
	switch {
	case report.Overall >= 90:
		rating = "Excellent"
	case report.Overall >= 70:
		rating = "Good"
	case report.Overall >= 50:
		emoji = "⚠️"
		rating = "Fair"
	default:
		emoji = "🚨"
		rating = "Needs Attention"
	}

	fmt.Printf("%s Security Score: %d/100 (%s)\n\n", emoji, report.Overall, rating)

	maxScore := security.MaxComponentScore
	fmt.Println("Components:")
	fmt.Printf("  Password Strength: %d/%d %s\n", report.Components.StrengthScore, maxScore, progressBar(report.Components.StrengthScore, maxScore))
	fmt.Printf("  Uniqueness:        %d/%d %s\n", report.Components.UniquenessScore, maxScore, progressBar(report.Components.UniquenessScore, maxScore))
	fmt.Println()

	if verbose {
		c := report.Counts
		fmt.Printf("Passwords: %d strong, %d good, %d fair, %d weak, %d empty\n\n",
			c.Strong, c.Good, c.Fair, c.Weak, c.Empty)
	}

	if len(report.Issues) > 0 {
		fmt.Printf("⚠️  Issues (%d):\n", len(report.Issues))
		for i, issue := range report.Issues {
			typeLabel := strings.ToUpper(string(issue.Type))
			subject := ""
			if issue.Name != "" {
				subject = fmt.Sprintf(" %q", issue.Name)
			} else if len(issue.Names) > 0 {
				subject = " " + strings.Join(issue.Names, ", ")
			}
			fmt.Printf("  %d. [%s]%s: %s\n", i+1, typeLabel, subject, issue.Description)
		}
		fmt.Println()
	}

	if len(report.Suggestions) > 0 && verbose {
		fmt.Println("💡 Suggestions:")
		for _, suggestion := range report.Suggestions {
			fmt.Printf("  - %s\n", suggestion)
		}
		fmt.Println()
	}

	if report.Limited {
		fmt.Println("Some issues were omitted; raise --limit to see all of them.")
	}
}

// progressBar creates a simple ASCII progress bar.
func progressBar(value, maxVal int) string {
	if maxVal <= 0 {
		return ""
	}
	width := 20
	filled := value * width / maxVal
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func init() {
	rootCmd.AddCommand(securityCmd)

	securityCmd.AddCommand(securityDuplicatesCmd)
	securityCmd.AddCommand(securityWeakCmd)

	securityCmd.Flags().BoolVarP(&securityVerbose, "verbose", "v", false, "Show all details including suggestions")
	securityCmd.Flags().BoolVar(&securityJSON, "json", false, "Output in JSON format")
	securityCmd.Flags().IntVar(&securityLimit, "limit", 10, "Maximum issues shown per type (0 for all)")
}
