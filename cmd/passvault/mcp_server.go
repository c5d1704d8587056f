package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/passvault/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI assistant integration",
	Long: `Start a Model Context Protocol server over stdio that gives AI assistants
read-only access to the vault. Passwords are never returned in clear text.

Available tools:
  - record_search:      Search records by name, website, username or category
  - record_get_masked:  Get one record with its password masked (e.g. "****WXYZ")
  - category_list:      List categories with record counts
  - security_report:    Password strength and duplicate analysis

Authentication:
  Set PASSVAULT_PASSWORD before starting the server. The password is read
  once and immediately cleared from the environment.

  On Linux the variable may briefly be visible via /proc/<pid>/environ
  before it is cleared.

The server stops when the vault locks after the configured idle timeout.

Example MCP client configuration:
  {
    "mcpServers": {
      "passvault": {
        "type": "stdio",
        "command": "/path/to/passvault",
        "args": ["mcp-server"],
        "env": {
          "PASSVAULT_PASSWORD": "your-master-password"
        }
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server, err := mcp.NewServer(ctx, v, &mcp.ServerOptions{
			Version: version,
			Logger:  logger,
		})
		if errors.Is(err, mcp.ErrNoPassword) {
			return fmt.Errorf("%w: set %s", err, mcp.PasswordEnv)
		}
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		defer server.Close()

		if err := server.Run(ctx); err != nil {
			// cancellation is a normal shutdown
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	},
}
