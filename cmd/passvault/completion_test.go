package main

import (
	"context"
	"reflect"
	"testing"

	"github.com/spf13/cobra"

	"github.com/forest6511/passvault/internal/mcp"
	"github.com/forest6511/passvault/pkg/storage"
	"github.com/forest6511/passvault/pkg/vault"
)

func TestFilterPrefix(t *testing.T) {
	candidates := []string{"GitHub", "gitlab", "Bank", "Gmail"}
	tests := []struct {
		prefix string
		want   []string
	}{
		{"", candidates},
		{"git", []string{"GitHub", "gitlab"}},
		{"G", []string{"GitHub", "gitlab", "Gmail"}},
		{"x", nil},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			if got := filterPrefix(candidates, tt.prefix); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("filterPrefix(%q) = %v, want %v", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestCompletionDisabledByDefault(t *testing.T) {
	t.Setenv(completionEnv, "")
	t.Setenv(mcp.PasswordEnv, "whatever")

	got, directive := completeRecordNames(&cobra.Command{}, nil, "")
	if got != nil || directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("got %v, %v; want nothing", got, directive)
	}
}

func TestCompletionNeedsPassword(t *testing.T) {
	t.Setenv(completionEnv, "1")
	t.Setenv(mcp.PasswordEnv, "")

	got, directive := completeCategories(&cobra.Command{}, nil, "")
	if got != nil || directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("got %v, %v; want nothing", got, directive)
	}
}

func TestCompletionRecordNames(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PASSVAULT_DIR", dir)
	t.Setenv("PASSVAULT_BACKEND", storage.BackendFile)
	t.Setenv(completionEnv, "1")
	t.Setenv(mcp.PasswordEnv, shellTestPassword)

	ctx := context.Background()
	st, err := storage.Open(ctx, storage.BackendFile, dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s, err := vault.New(st, vault.WithIdleTimeout(0)).Setup(ctx, shellTestPassword)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	for _, name := range []string{"GitHub", "gitlab", "Bank"} {
		if _, err := s.AddRecord(ctx, vault.RecordInput{Name: name}); err != nil {
			t.Fatalf("AddRecord() error = %v", err)
		}
	}
	s.Lock()
	st.Close()

	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	got, directive := completeRecordNames(cmd, nil, "git")
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Fatalf("directive = %v", directive)
	}
	if len(got) != 2 {
		t.Errorf("got %v, want GitHub and gitlab", got)
	}
}
