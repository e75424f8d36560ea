package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SESSION_ID...",
		Short: "Revoke sessions by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			var errs []error
			for _, id := range args {
				if err := admin.RevokeSession(cmd.Context(), id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", id)
			}
			return errors.Join(errs...)
		},
	}
}

func newPruneCmd(open Opener) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Revoke expired sessions that have no refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			sessions, err := admin.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			pruned := 0
			for _, s := range sessions {
				if !s.Expired || s.CanRefresh {
					continue
				}
				if !dryRun {
					if err := admin.RevokeSession(cmd.Context(), s.SessionID); err != nil {
						return fmt.Errorf("%s: %w", s.SessionID, err)
					}
				}
				pruned++
			}
			verb := "pruned"
			if dryRun {
				verb = "would prune"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d of %d sessions\n", verb, pruned, len(sessions))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report without revoking")
	return cmd
}
