package security

import (
	"crypto/rand"
	"fmt"
	"unicode/utf8"

	"github.com/forest6511/passvault/pkg/vault"
)

// MaxComponentScore is the ceiling of each score component. The two
// components add up to 100.
const MaxComponentScore = 50

// Report is the security assessment of a set of records.
type Report struct {
	// Overall is the total score (0-100).
	Overall     int             `json:"overall"`
	Components  ScoreComponents `json:"components"`
	Counts      StrengthCounts  `json:"counts"`
	Issues      []SecurityIssue `json:"issues"`
	Suggestions []string        `json:"suggestions"`
	// Limited is set when Options.Limit dropped issues.
	Limited bool `json:"limited"`
}

// ScoreComponents breaks the score down.
type ScoreComponents struct {
	// StrengthScore is the average strength points (0-50).
	StrengthScore int `json:"strength"`
	// UniquenessScore is the share of distinct passwords (0-50).
	UniquenessScore int `json:"uniqueness"`
}

// StrengthCounts tallies records per strength level.
type StrengthCounts struct {
	Weak   int `json:"weak"`
	Fair   int `json:"fair"`
	Good   int `json:"good"`
	Strong int `json:"strong"`
	Empty  int `json:"empty"`
}

// IssueType identifies the type of security issue.
type IssueType string

const (
	// IssueWeakPassword indicates a password shorter than 8 characters.
	IssueWeakPassword IssueType = "weak"
	// IssueDuplicatePassword indicates a password shared by several records.
	IssueDuplicatePassword IssueType = "duplicate"
	// IssueEmptyPassword indicates a record with no password stored.
	IssueEmptyPassword IssueType = "empty"
)

// Severity indicates the urgency of a security issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// SecurityIssue is one detected problem. Record identities are only filled
// in when Options.IncludeNames is set.
type SecurityIssue struct {
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	RecordID    string    `json:"record_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Names       []string  `json:"names,omitempty"`
	Description string    `json:"description"`
	Suggestion  string    `json:"suggestion,omitempty"`
}

// Options controls report detail.
type Options struct {
	// IncludeNames adds record ids and names to issues.
	IncludeNames bool
	// Limit caps the number of issues of each type. Zero means no cap.
	Limit int
}

// Calculator computes security reports. Its HMAC key lives for the
// calculator's lifetime only.
type Calculator struct {
	hmacKey []byte
}

// NewCalculator creates a calculator with a fresh random HMAC key.
func NewCalculator() (*Calculator, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("security: failed to generate session key: %w", err)
	}
	return &Calculator{hmacKey: key}, nil
}

// Report scores records. An empty set scores 100.
func (c *Calculator) Report(records []vault.CredentialRecord, opts Options) *Report {
	r := &Report{
		Issues:      []SecurityIssue{},
		Suggestions: []string{},
	}

	var issues []SecurityIssue
	points, rated := 0, 0
	for i := range records {
		rec := &records[i]
		if normalizeValue(rec.Password) == "" {
			r.Counts.Empty++
			issue := SecurityIssue{
				Type:        IssueEmptyPassword,
				Severity:    SeverityInfo,
				Description: "Record has no password stored",
			}
			issues = append(issues, withRecord(issue, rec, opts))
			continue
		}

		s := Strength(rec.Password)
		points += s.Points()
		rated++
		switch s {
		case PasswordWeak:
			r.Counts.Weak++
			issue := SecurityIssue{
				Type:        IssueWeakPassword,
				Severity:    SeverityWarning,
				Description: fmt.Sprintf("Password has insufficient strength (%s)", formatLength(utf8.RuneCountInString(rec.Password))),
				Suggestion:  "Use a longer password (14+ characters)",
			}
			issues = append(issues, withRecord(issue, rec, opts))
		case PasswordFair:
			r.Counts.Fair++
		case PasswordGood:
			r.Counts.Good++
		case PasswordStrong:
			r.Counts.Strong++
		}
	}

	r.Components.StrengthScore = MaxComponentScore
	r.Components.UniquenessScore = MaxComponentScore
	if rated > 0 {
		r.Components.StrengthScore = points / rated

		dups := c.FindDuplicates(records, opts.IncludeNames)
		reused := 0
		for _, g := range dups {
			reused += g.Count - 1
			severity := SeverityWarning
			if g.Count > 2 {
				severity = SeverityCritical
			}
			issues = append(issues, SecurityIssue{
				Type:        IssueDuplicatePassword,
				Severity:    severity,
				Names:       g.Names,
				Description: fmt.Sprintf("%d records share the same password", g.Count),
				Suggestion:  "Use a unique password for each site",
			})
		}
		r.Components.UniquenessScore = (rated - reused) * MaxComponentScore / rated
	}
	r.Overall = r.Components.StrengthScore + r.Components.UniquenessScore

	r.Issues, r.Limited = applyLimit(issues, opts.Limit)
	r.Suggestions = suggestions(r.Counts, issues)
	return r
}

func withRecord(issue SecurityIssue, rec *vault.CredentialRecord, opts Options) SecurityIssue {
	if opts.IncludeNames {
		issue.RecordID = rec.ID
		issue.Name = rec.Name
	}
	return issue
}

// applyLimit keeps at most limit issues of each type.
func applyLimit(issues []SecurityIssue, limit int) ([]SecurityIssue, bool) {
	result := []SecurityIssue{}
	if limit <= 0 {
		return append(result, issues...), false
	}

	limited := false
	seen := make(map[IssueType]int)
	for _, issue := range issues {
		if seen[issue.Type] >= limit {
			limited = true
			continue
		}
		seen[issue.Type]++
		result = append(result, issue)
	}
	return result, limited
}

func suggestions(counts StrengthCounts, issues []SecurityIssue) []string {
	out := []string{}
	hasDuplicate := false
	for _, issue := range issues {
		if issue.Type == IssueDuplicatePassword {
			hasDuplicate = true
			break
		}
	}

	if counts.Weak > 0 {
		out = append(out, "Update weak passwords with stronger alternatives (14+ characters)")
	}
	if hasDuplicate {
		out = append(out, "Replace reused passwords with unique values")
	}
	if counts.Empty > 0 {
		out = append(out, "Fill in or remove records without a password")
	}
	return out
}

func formatLength(n int) string {
	if n == 1 {
		return "1 character"
	}
	return fmt.Sprintf("%d characters", n)
}
