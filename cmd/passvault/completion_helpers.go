package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/passvault/internal/cli"
	"github.com/forest6511/passvault/internal/config"
	"github.com/forest6511/passvault/internal/mcp"
	"github.com/forest6511/passvault/pkg/storage"
	"github.com/forest6511/passvault/pkg/vault"
)

// completionEnv opts in to dynamic completion.
const completionEnv = "PASSVAULT_COMPLETION_ENABLED"

// isDynamicCompletionEnabled checks if dynamic completion is opt-in enabled.
// Dynamic completion is disabled by default to prevent vault unlock prompts
// during tab completion.
func isDynamicCompletionEnabled() bool {
	return os.Getenv(completionEnv) == "1"
}

// completeRecordNames completes record names (opt-in only).
func completeRecordNames(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return completeFromVault(cmd.Context(), toComplete, func(s *vault.Session) ([]string, error) {
		records, err := s.Records()
		if err != nil {
			return nil, err
		}
		return cli.RecordNames(records), nil
	})
}

// completeCategories completes category names (opt-in only).
func completeCategories(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return completeFromVault(cmd.Context(), toComplete, func(s *vault.Session) ([]string, error) {
		return s.Categories()
	})
}

// completeFromVault unlocks the vault with the password from the
// environment, collects candidates and locks again. Completion runs without
// the root pre-run hook, so the vault is opened here.
func completeFromVault(ctx context.Context, prefix string, collect func(*vault.Session) ([]string, error)) ([]string, cobra.ShellCompDirective) {
	if !isDynamicCompletionEnabled() {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	password := os.Getenv(mcp.PasswordEnv)
	if password == "" {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := config.Load()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	st, err := storage.Open(ctx, c.Backend, c.Dir)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	defer st.Close()

	s, err := vault.New(st, vault.WithIdleTimeout(0)).Login(ctx, password)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	defer s.Lock()

	names, err := collect(s)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return filterPrefix(names, prefix), cobra.ShellCompDirectiveNoFileComp
}

// filterPrefix keeps the candidates that start with prefix, ignoring case.
func filterPrefix(candidates []string, prefix string) []string {
	var filtered []string
	lowerPrefix := strings.ToLower(prefix)
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), lowerPrefix) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// registerCompletionFunctions registers ValidArgsFunction for commands that support
// dynamic completion.
func registerCompletionFunctions() {
	for _, c := range []*cobra.Command{showCmd, editCmd, deleteCmd, copyCmd} {
		c.ValidArgsFunction = completeRecordNames
	}
	categoryDeleteCmd.ValidArgsFunction = completeCategories

	for _, c := range []*cobra.Command{addCmd, editCmd, listCmd} {
		_ = c.RegisterFlagCompletionFunc("category", completeCategories)
	}
}
