package main

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DBPath string
}

// NewRootCommand creates the root command for the rankd CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rankd",
		Short: "Score ledger and rank assignment engine",
		Long: "rankd converts finalized quiz completions into monthly score-ledger\n" +
			"entries and keeps each user's rank tier in sync with their lifetime total.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "rank.db", "SQLite database path (use :memory: for in-memory)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}
