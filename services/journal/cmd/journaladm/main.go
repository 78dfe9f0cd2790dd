package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// adminCLI carries the flags shared by every subcommand.
type adminCLI struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	cli := &adminCLI{}
	root := &cobra.Command{
		Use:   "journaladm",
		Short: "Administer the journal service",
		Long: `journaladm runs maintenance tasks against the journal database
using the same configuration file as the journal server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cli.configPath, "config", "", "path to config.yaml (default $JOURNAL_CONFIG or ./config.yaml)")

	root.AddCommand(cli.migrateCmd())
	root.AddCommand(cli.linkUserCmd())
	root.AddCommand(cli.resyncDayCmd())
	return root
}
