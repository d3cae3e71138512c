package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nikodemus-eth/corvusforge/internal/stagegraph"
)

func newStatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "states <run-id>",
		Short: "Print every stage's current state for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wireOrchestrator()
			if err != nil {
				return err
			}
			defer w.close()

			states, err := w.orch.GetStates(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, stage := range stagegraph.DefaultStageOrder {
				fmt.Printf("%-20s %s\n", stage, states[stage])
			}
			return nil
		},
	}
}
