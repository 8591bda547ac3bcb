package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logBranch string
var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List checkpoints, most recent last",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, rec := range sess.History(logLimit, logBranch) {
			fmt.Fprintf(out, "%s  %-8s  %-10s  %s  %s\n",
				rec.Timestamp.Format("2006-01-02T15:04:05"), rec.ID, rec.Status, rec.Branch, rec.Description)
		}
		return nil
	},
}

func init() {
	logCmd.Flags().StringVar(&logBranch, "branch", "", "limit to one branch (default: every branch)")
	logCmd.Flags().IntVar(&logLimit, "limit", 0, "most recent N checkpoints (default: unlimited)")
}
