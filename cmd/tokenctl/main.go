// Command tokenctl is the operator tool for tokens and accounts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pulseops.app/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tokenctl",
		Short:         "Issue, inspect and revoke tokens; manage accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newIssueCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newRevokeCmd())
	cmd.AddCommand(newAccountCmd())
	cmd.AddCommand(newPasswordCmd())
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
