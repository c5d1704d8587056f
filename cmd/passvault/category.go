package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/passvault/pkg/vault"
)

func init() {
	rootCmd.AddCommand(categoryCmd)
	categoryCmd.AddCommand(categoryListCmd, categoryAddCmd, categoryDeleteCmd)
}

var categoryCmd = &cobra.Command{
	Use:     "category",
	Aliases: []string{"cat"},
	Short:   "Manage record categories",
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories with their record counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			categories, err := s.Categories()
			if err != nil {
				return err
			}
			records, err := s.Records()
			if err != nil {
				return err
			}
			counts := make(map[string]int, len(categories))
			for _, r := range records {
				counts[r.Category]++
			}
			for _, c := range categories {
				marker := ""
				if c == vault.FallbackCategory {
					marker = " (default)"
				}
				fmt.Printf("%s%s: %d\n", c, marker, counts[c])
			}
			return nil
		})
	},
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := vault.CleanCategoryName(args[0])
		if err != nil {
			return fmt.Errorf("invalid category name %q", args[0])
		}
		return withSession(cmd.Context(), func(s *vault.Session) error {
			if err := s.AddCategory(cmd.Context(), name); err != nil {
				return fmt.Errorf("failed to add category: %w", err)
			}
			fmt.Printf("Category '%s' added\n", name)
			return nil
		})
	},
}

var categoryDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a category; its records move to " + vault.FallbackCategory,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			err := s.DeleteCategory(cmd.Context(), args[0])
			if errors.Is(err, vault.ErrProtectedCategory) {
				return fmt.Errorf("the '%s' category cannot be deleted", vault.FallbackCategory)
			}
			if err != nil {
				return fmt.Errorf("failed to delete category: %w", err)
			}
			fmt.Printf("Category '%s' deleted\n", args[0])
			return nil
		})
	},
}
