package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <checkpoint-a> <checkpoint-b>",
	Short: "Compare two checkpoints' state mappings key-wise",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		d, err := sess.Diff(args[0], args[1])
		if err != nil {
			return err
		}
		for k, v := range d.Added {
			fmt.Fprintf(out, "+ %s: %s\n", k, renderValue(v))
		}
		for k, v := range d.Removed {
			fmt.Fprintf(out, "- %s: %s\n", k, renderValue(v))
		}
		for k, m := range d.Modified {
			fmt.Fprintf(out, "~ %s: %s -> %s\n", k, renderValue(m.Old), renderValue(m.New))
		}
		return nil
	},
}

func renderValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
