package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStartRunCommand() *cobra.Command {
	var prereqJSON string

	cmd := &cobra.Command{
		Use:   "start-run",
		Short: "Begin a new pipeline run and record its intake transition",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wireOrchestrator()
			if err != nil {
				return err
			}
			defer w.close()

			prerequisites := map[string]any{}
			if prereqJSON != "" {
				if err := json.Unmarshal([]byte(prereqJSON), &prerequisites); err != nil {
					return fmt.Errorf("parse --prerequisites: %w", err)
				}
			}

			runID, err := w.orch.StartRun(cmd.Context(), prerequisites)
			if err != nil {
				return fmt.Errorf("start run: %w", err)
			}

			fmt.Println(runID)
			return nil
		},
	}

	cmd.Flags().StringVar(&prereqJSON, "prerequisites", "", "JSON object of prerequisite facts")
	return cmd
}
