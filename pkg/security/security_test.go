package security

import (
	"strings"
	"testing"

	"github.com/forest6511/passvault/pkg/vault"
)

func rec(id, name, password string) vault.CredentialRecord {
	return vault.CredentialRecord{ID: id, Name: name, Password: password, Category: vault.FallbackCategory}
}

func newCalc(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator()
	if err != nil {
		t.Fatalf("NewCalculator() error = %v", err)
	}
	return c
}

func TestPasswordStrength_String(t *testing.T) {
	tests := []struct {
		strength PasswordStrength
		want     string
	}{
		{PasswordWeak, "Weak"},
		{PasswordFair, "Fair"},
		{PasswordGood, "Good"},
		{PasswordStrong, "Strong"},
		{PasswordStrength(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.strength.String(); got != tt.want {
				t.Errorf("PasswordStrength.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStrength(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  PasswordStrength
	}{
		{"empty", "", PasswordWeak},
		{"7_chars", "1234567", PasswordWeak},
		{"8_chars", "12345678", PasswordFair},
		{"13_chars", "1234567890abc", PasswordFair},
		{"14_chars", "1234567890abcd", PasswordGood},
		{"19_chars", "1234567890abcdefghi", PasswordGood},
		{"20_chars", "1234567890abcdefghij", PasswordStrong},
		{"multibyte counts runes", "пароль12", PasswordFair},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Strength(tt.value); got != tt.want {
				t.Errorf("Strength(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestFindDuplicates(t *testing.T) {
	c := newCalc(t)
	records := []vault.CredentialRecord{
		rec("1", "a", "hunter22"),
		rec("2", "b", " hunter22 "),
		rec("3", "c", "unique-one"),
		rec("4", "d", "caf\u00e9-pass"),
		rec("5", "e", "cafe\u0301-pass"),
		rec("6", "f", "caf\u00e9-pass"),
		rec("7", "g", ""),
		rec("8", "h", ""),
	}

	groups := c.FindDuplicates(records, true)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2: %+v", len(groups), groups)
	}
	if groups[0].Count != 3 || strings.Join(groups[0].RecordIDs, ",") != "4,5,6" {
		t.Errorf("largest group = %+v, want NFC-equal records 4,5,6", groups[0])
	}
	if groups[1].Count != 2 || strings.Join(groups[1].Names, ",") != "a,b" {
		t.Errorf("second group = %+v, want a,b", groups[1])
	}

	for _, g := range c.FindDuplicates(records, false) {
		if len(g.RecordIDs) != 0 || len(g.Names) != 0 {
			t.Errorf("names leaked without includeNames: %+v", g)
		}
	}
}

func TestReportEmptyVault(t *testing.T) {
	r := newCalc(t).Report(nil, Options{})
	if r.Overall != 100 {
		t.Errorf("Overall = %d, want 100", r.Overall)
	}
	if len(r.Issues) != 0 || len(r.Suggestions) != 0 {
		t.Errorf("unexpected issues %v / suggestions %v", r.Issues, r.Suggestions)
	}
}

func TestReportScores(t *testing.T) {
	tests := []struct {
		name       string
		passwords  []string
		strength   int
		uniqueness int
	}{
		{"all strong and unique", []string{strings.Repeat("a", 20), strings.Repeat("b", 24)}, 50, 50},
		{"one weak one strong", []string{"short", strings.Repeat("b", 20)}, 25, 50},
		{"shared fair", []string{"password1", "password1"}, 16, 25},
		{"empty ignored", []string{strings.Repeat("c", 14), ""}, 34, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []vault.CredentialRecord
			for i, pw := range tt.passwords {
				records = append(records, rec(string(rune('a'+i)), "r", pw))
			}
			r := newCalc(t).Report(records, Options{})
			if r.Components.StrengthScore != tt.strength || r.Components.UniquenessScore != tt.uniqueness {
				t.Errorf("components = %+v, want strength %d uniqueness %d", r.Components, tt.strength, tt.uniqueness)
			}
			if r.Overall != tt.strength+tt.uniqueness {
				t.Errorf("Overall = %d, want %d", r.Overall, tt.strength+tt.uniqueness)
			}
		})
	}
}

func TestReportIssues(t *testing.T) {
	records := []vault.CredentialRecord{
		rec("1", "Mail", "abc"),
		rec("2", "Bank", "abc"),
		rec("3", "Shop", ""),
		rec("4", "Forum", "xyz"),
	}

	r := newCalc(t).Report(records, Options{IncludeNames: true})

	counts := map[IssueType]int{}
	for _, issue := range r.Issues {
		counts[issue.Type]++
	}
	if counts[IssueWeakPassword] != 3 || counts[IssueDuplicatePassword] != 1 || counts[IssueEmptyPassword] != 1 {
		t.Errorf("issue counts = %v", counts)
	}
	if r.Counts.Weak != 3 || r.Counts.Empty != 1 {
		t.Errorf("counts = %+v", r.Counts)
	}
	if r.Issues[0].Name != "Mail" || r.Issues[0].RecordID != "1" {
		t.Errorf("first issue lacks record identity: %+v", r.Issues[0])
	}
	if len(r.Suggestions) != 3 {
		t.Errorf("suggestions = %v, want 3", r.Suggestions)
	}

	anon := newCalc(t).Report(records, Options{})
	for _, issue := range anon.Issues {
		if issue.Name != "" || issue.RecordID != "" || len(issue.Names) != 0 {
			t.Errorf("record identity leaked: %+v", issue)
		}
	}
}

func TestReportLimit(t *testing.T) {
	var records []vault.CredentialRecord
	for i := 0; i < 5; i++ {
		records = append(records, rec(string(rune('a'+i)), "r", strings.Repeat("x", i+1)))
	}

	r := newCalc(t).Report(records, Options{Limit: 2})
	if len(r.Issues) != 2 || !r.Limited {
		t.Errorf("got %d issues, limited %v; want 2, true", len(r.Issues), r.Limited)
	}
	if r.Counts.Weak != 5 {
		t.Errorf("limit changed counts: %+v", r.Counts)
	}
}
