package main

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(passvault completion bash)

  # To load for each session (Linux):
  $ passvault completion bash > ~/.local/share/bash-completion/completions/passvault

  # To load for each session (macOS with Homebrew):
  $ passvault completion bash > $(brew --prefix)/etc/bash_completion.d/passvault

Zsh:
  # Ensure completion is enabled:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # Generate completion:
  $ passvault completion zsh > ~/.zsh/completions/_passvault
  # (create ~/.zsh/completions if needed, add to fpath in .zshrc)

Fish:
  $ passvault completion fish > ~/.config/fish/completions/passvault.fish

PowerShell:
  PS> passvault completion powershell >> $PROFILE

Dynamic completion (record and category names):
  Set PASSVAULT_COMPLETION_ENABLED=1 and PASSVAULT_PASSWORD to complete
  record and category names. Without both, nothing is completed and no
  password prompt is shown.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
