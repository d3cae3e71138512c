// The corvusforge CLI drives pipeline runs against the Run Ledger: starting
// runs, executing stages, verifying chain integrity, exporting anchors, and
// registering waivers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "corvusforge",
		Short:         "Auditable deterministic pipeline orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newServeCommand(),
		newStartRunCommand(),
		newVerifyChainCommand(),
		newExportAnchorCommand(),
		newRegisterWaiverCommand(),
		newStatesCommand(),
		newVersionCommand(),
	)

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("corvusforge %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
