package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the session's running counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := sess.Metrics()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "checkpoints_created   %d\n", m.CheckpointsCreated)
		fmt.Fprintf(out, "rollbacks             %d\n", m.Rollbacks)
		fmt.Fprintf(out, "recoveries            %d\n", m.Recoveries)
		fmt.Fprintf(out, "branches_created      %d\n", m.BranchesCreated)
		fmt.Fprintf(out, "errors_caught         %d\n", m.ErrorsCaught)
		fmt.Fprintf(out, "time_saved_estimate   %s\n", m.TimeSavedEstimate)
		return nil
	},
}
