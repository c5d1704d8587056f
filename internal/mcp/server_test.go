package mcp

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/forest6511/passvault/pkg/security"
	"github.com/forest6511/passvault/pkg/storage"
	"github.com/forest6511/passvault/pkg/vault"
)

const testPassword = "testpassword123"

// testVault creates an in-memory vault with a few records.
func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	ctx := context.Background()
	v := vault.New(storage.NewMemoryStore(), vault.WithIdleTimeout(0))

	s, err := v.Setup(ctx, testPassword)
	if err != nil {
		t.Fatalf("failed to set up vault: %v", err)
	}
	defer s.Lock()

	if err := s.AddCategory(ctx, "Dev"); err != nil {
		t.Fatalf("failed to add category: %v", err)
	}
	for _, in := range []vault.RecordInput{
		{Name: "GitHub", Website: "https://github.com", Username: "octo", Password: "sk-proj-1234567890abcdef", Category: "Dev"},
		{Name: "Bank", Website: "https://bank.example", Username: "me", Password: "short", Category: "Banking", Notes: "pin in safe"},
		{Name: "Forum", Username: "me", Password: "short"},
	} {
		if _, err := s.AddRecord(ctx, in); err != nil {
			t.Fatalf("failed to add record %q: %v", in.Name, err)
		}
	}
	return v
}

func testServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(context.Background(), testVault(t), &ServerOptions{Password: testPassword})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewServer_NoPassword(t *testing.T) {
	t.Setenv(PasswordEnv, "")
	_, err := NewServer(context.Background(), testVault(t), nil)
	if !errors.Is(err, ErrNoPassword) {
		t.Errorf("error = %v, want ErrNoPassword", err)
	}
}

func TestNewServer_InvalidPassword(t *testing.T) {
	_, err := NewServer(context.Background(), testVault(t), &ServerOptions{Password: "wrongpassword"})
	if !errors.Is(err, vault.ErrAuthentication) {
		t.Errorf("error = %v, want ErrAuthentication", err)
	}
}

func TestNewServer_FromEnvironment(t *testing.T) {
	t.Setenv(PasswordEnv, testPassword)

	s, err := NewServer(context.Background(), testVault(t), nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer s.Close()

	if _, ok := os.LookupEnv(PasswordEnv); ok {
		t.Error("password variable should be unset after reading")
	}
}

func TestServer_Close(t *testing.T) {
	s := testServer(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !s.session.IsLocked() {
		t.Error("session should be locked after Close")
	}

	_, _, err := s.handleRecordSearch(context.Background(), nil, RecordSearchInput{})
	if !errors.Is(err, vault.ErrVaultLocked) {
		t.Errorf("error = %v, want ErrVaultLocked", err)
	}
}

func TestHandleRecordSearch(t *testing.T) {
	s := testServer(t)

	tests := []struct {
		name  string
		input RecordSearchInput
		want  []string
	}{
		{name: "all", input: RecordSearchInput{}, want: []string{"Forum", "Bank", "GitHub"}},
		{name: "query", input: RecordSearchInput{Query: "git"}, want: []string{"GitHub"}},
		{name: "query matches username", input: RecordSearchInput{Query: "ME"}, want: []string{"Forum", "Bank"}},
		{name: "category", input: RecordSearchInput{Category: "Banking"}, want: []string{"Bank"}},
		{name: "all categories", input: RecordSearchInput{Category: vault.AllCategories, Query: "o"}, want: []string{"Forum", "GitHub"}},
		{name: "no match", input: RecordSearchInput{Query: "zzz"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out, err := s.handleRecordSearch(context.Background(), nil, tt.input)
			if err != nil {
				t.Fatalf("handleRecordSearch() error = %v", err)
			}
			if len(out.Records) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(out.Records), len(tt.want))
			}
			for i, r := range out.Records {
				if r.Name != tt.want[i] {
					t.Errorf("position %d: got %s, want %s", i, r.Name, tt.want[i])
				}
			}
		})
	}
}

func TestHandleRecordSearch_NoPasswords(t *testing.T) {
	s := testServer(t)

	_, out, err := s.handleRecordSearch(context.Background(), nil, RecordSearchInput{Query: "bank"})
	if err != nil {
		t.Fatalf("handleRecordSearch() error = %v", err)
	}
	if len(out.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(out.Records))
	}
	r := out.Records[0]
	if !r.HasPassword || !r.HasNotes {
		t.Errorf("flags = %+v, want has_password and has_notes", r)
	}
	if strings.Contains(r.Name+r.Website+r.Username+r.Category, "short") {
		t.Error("record info leaked the password")
	}
}

func TestHandleRecordGetMasked(t *testing.T) {
	s := testServer(t)
	ctx := context.Background()

	_, out, err := s.handleRecordGetMasked(ctx, nil, RecordGetMaskedInput{Name: "github"})
	if err != nil {
		t.Fatalf("handleRecordGetMasked() error = %v", err)
	}
	if out.MaskedPassword != "********************cdef" {
		t.Errorf("masked = %q", out.MaskedPassword)
	}
	if out.PasswordLength != 24 {
		t.Errorf("length = %d, want 24", out.PasswordLength)
	}
	if out.Strength != security.Strength("sk-proj-1234567890abcdef").String() {
		t.Errorf("strength = %s", out.Strength)
	}

	// by id
	_, byID, err := s.handleRecordGetMasked(ctx, nil, RecordGetMaskedInput{ID: out.ID})
	if err != nil {
		t.Fatalf("handleRecordGetMasked(id) error = %v", err)
	}
	if byID.Name != "GitHub" {
		t.Errorf("name = %s, want GitHub", byID.Name)
	}
}

func TestHandleRecordGetMasked_Errors(t *testing.T) {
	s := testServer(t)

	tests := []struct {
		name  string
		input RecordGetMaskedInput
	}{
		{name: "empty", input: RecordGetMaskedInput{}},
		{name: "unknown id", input: RecordGetMaskedInput{ID: "missing"}},
		{name: "unknown name", input: RecordGetMaskedInput{Name: "missing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := s.handleRecordGetMasked(context.Background(), nil, tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandleCategoryList(t *testing.T) {
	s := testServer(t)

	_, out, err := s.handleCategoryList(context.Background(), nil, CategoryListInput{})
	if err != nil {
		t.Fatalf("handleCategoryList() error = %v", err)
	}

	got := make(map[string]CategoryInfo, len(out.Categories))
	for _, c := range out.Categories {
		got[c.Name] = c
	}
	if len(got) != 7 {
		t.Errorf("got %d categories, want 7", len(got))
	}
	if got["Dev"].Records != 1 || got["Banking"].Records != 1 || got[vault.FallbackCategory].Records != 1 {
		t.Errorf("unexpected counts: %+v", out.Categories)
	}
	if !got[vault.FallbackCategory].Protected || got["Dev"].Protected {
		t.Error("only the fallback category is protected")
	}
}

func TestHandleSecurityReport(t *testing.T) {
	s := testServer(t)
	ctx := context.Background()

	_, out, err := s.handleSecurityReport(ctx, nil, SecurityReportInput{IncludeNames: true})
	if err != nil {
		t.Fatalf("handleSecurityReport() error = %v", err)
	}
	if out.Counts.Weak != 2 {
		t.Errorf("weak = %d, want 2", out.Counts.Weak)
	}

	var duplicate bool
	for _, issue := range out.Issues {
		if issue.Type == security.IssueDuplicatePassword {
			duplicate = true
		}
		if strings.Contains(issue.Description, "short") {
			t.Error("issue leaked a password")
		}
	}
	if !duplicate {
		t.Error("expected a duplicate password issue")
	}

	if _, _, err := s.handleSecurityReport(ctx, nil, SecurityReportInput{Limit: -1}); err == nil {
		t.Error("expected error for negative limit")
	}
}
