package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikodemus-eth/corvusforge/internal/waiver"
)

func newRegisterWaiverCommand() *cobra.Command {
	var (
		waiverID          string
		scope             string
		justification     string
		approvingIdentity string
		signature         string
		expiresIn         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "register-waiver",
		Short: "Register a signed gate-bypass waiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wireOrchestrator()
			if err != nil {
				return err
			}
			defer w.close()

			now := time.Now().UTC()
			registered, err := w.orch.Waivers().Register(cmd.Context(), waiver.Waiver{
				WaiverID:          waiverID,
				Scope:             scope,
				Justification:     justification,
				ApprovingIdentity: approvingIdentity,
				Signature:         signature,
				IssuedAt:          now,
				ExpiresAt:         now.Add(expiresIn),
			})
			if err != nil {
				return fmt.Errorf("register waiver: %w", err)
			}

			fmt.Printf("waiver %s registered (verified=%t, content_address=%s)\n", registered.WaiverID, registered.SignatureVerified, registered.ContentAddress)
			return nil
		},
	}

	cmd.Flags().StringVar(&waiverID, "id", "", "waiver ID")
	cmd.Flags().StringVar(&scope, "scope", "", "gate scope the waiver bypasses, e.g. gate:s55_accessibility")
	cmd.Flags().StringVar(&justification, "justification", "", "human-readable justification")
	cmd.Flags().StringVar(&approvingIdentity, "approving-identity", "", "hex-encoded public key of the approver")
	cmd.Flags().StringVar(&signature, "signature", "", "hex-encoded signature over the waiver's signed fields")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 30*24*time.Hour, "how long the waiver remains valid")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("scope")
	cmd.MarkFlagRequired("approving-identity")
	cmd.MarkFlagRequired("signature")

	return cmd
}
