package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newListCmd(open Opener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
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
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tUSER\tEMAIL\tDEVICE\tEXPIRES\tREFRESHES\tSTATE")
			for _, s := range sessions {
				state := "active"
				switch {
				case s.Expired && !s.CanRefresh:
					state = "dead"
				case s.Expired:
					state = "expired"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					s.SessionID, s.UserID, s.Email, s.Device,
					s.ExpiresAt.Format(time.RFC3339), s.RefreshCount, state)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON")
	return cmd
}
