package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List every branch and its head",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, b := range sess.Branches() {
			marker := " "
			if b.IsCurrent {
				marker = "*"
			}
			head := "(empty)"
			if b.HeadID != nil {
				head = *b.HeadID
			}
			fmt.Fprintf(out, "%s %-20s -> %s\n", marker, b.Name, head)
		}
		return nil
	},
}
