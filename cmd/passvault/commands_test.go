package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forest6511/passvault/pkg/vault"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"1y", 365 * 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"d", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRecordField(t *testing.T) {
	r := vault.CredentialRecord{Username: "octo", Password: "pw", Website: "https://github.com"}
	for field, want := range map[string]string{
		"password": "pw",
		"Username": "octo",
		"url":      "https://github.com",
	} {
		got, err := recordField(r, field)
		if err != nil || got != want {
			t.Errorf("recordField(%q) = %q, %v; want %q", field, got, err, want)
		}
	}
	if _, err := recordField(r, "notes"); err == nil {
		t.Error("recordField(notes) should fail")
	}
}

func TestFilterImportNames(t *testing.T) {
	records := []vault.RecordInput{{Name: "GitHub"}, {Name: "GitLab"}, {Name: "Bank"}}

	got, err := filterImportNames(records, []string{"git*"})
	if err != nil {
		t.Fatalf("filterImportNames() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "GitHub" || got[1].Name != "GitLab" {
		t.Errorf("got %+v", got)
	}

	got, err = filterImportNames(records, []string{"Bank", "GitLab"})
	if err != nil {
		t.Fatalf("filterImportNames() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "GitLab" || got[1].Name != "Bank" {
		t.Errorf("got %+v, want records in file order", got)
	}
}

func TestReadImportFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.csv")
	if err := os.WriteFile(path, []byte("url,username,password\n"), 0600); err != nil {
		t.Fatal(err)
	}

	data, err := readImportFile(path)
	if err != nil {
		t.Fatalf("readImportFile() error = %v", err)
	}
	if !strings.HasPrefix(string(data), "url,") {
		t.Errorf("data = %q", data)
	}

	link := filepath.Join(dir, "link.csv")
	if err := os.Symlink(path, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if _, err := readImportFile(link); err == nil || !strings.Contains(err.Error(), "symlink") {
		t.Errorf("readImportFile(symlink) error = %v, want symlink refusal", err)
	}

	if _, err := readImportFile(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("readImportFile(missing) should fail")
	}
}
