package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyChainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-chain <run-id>",
		Short: "Verify the hash chain of a run's ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wireOrchestrator()
			if err != nil {
				return err
			}
			defer w.close()

			if err := w.orch.VerifyChain(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("chain verification failed: %w", err)
			}

			fmt.Println("chain verified")
			return nil
		},
	}
}
