package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newExportAnchorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export-anchor <run-id>",
		Short: "Export a signed checkpoint of a run's ledger chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wireOrchestrator()
			if err != nil {
				return err
			}
			defer w.close()

			anchor, err := w.orch.ExportAnchor(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("export anchor: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(anchor)
		},
	}
}
