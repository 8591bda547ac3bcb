package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haldane-ai/checkpoint-go/checkpoint"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted checkpoint/branch/rollback/merge walkthrough",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		state := checkpoint.MapValue(map[string]checkpoint.Value{
			"step":  checkpoint.StrValue("gather_requirements"),
			"count": checkpoint.NumValue(1),
		})
		meta := checkpoint.MapValue(map[string]checkpoint.Value{"confidence": checkpoint.NumValue(0.4)})

		first, err := sess.Checkpoint(ctx, state, meta, "initial gather", "gather_requirements")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "checkpoint %s on %s\n", first.ID, first.Branch)

		state = checkpoint.MapValue(map[string]checkpoint.Value{
			"step":  checkpoint.StrValue("draft_plan"),
			"count": checkpoint.NumValue(2),
		})
		meta = checkpoint.MapValue(map[string]checkpoint.Value{"confidence": checkpoint.NumValue(0.7)})
		second, err := sess.Checkpoint(ctx, state, meta, "drafted a plan", "draft_plan")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "checkpoint %s on %s\n", second.ID, second.Branch)

		branch, err := sess.NewBranch(ctx, "speculative")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "branched %q from %s\n", branch.Name, second.ID)

		if err := sess.SwitchBranch(ctx, branch.Name); err != nil {
			return err
		}

		state = checkpoint.MapValue(map[string]checkpoint.Value{
			"step":  checkpoint.StrValue("try_risky_approach"),
			"count": checkpoint.NumValue(3),
		})
		meta = checkpoint.MapValue(map[string]checkpoint.Value{"confidence": checkpoint.NumValue(0.3)})
		risky, err := sess.Checkpoint(ctx, state, meta, "attempted a risky approach", "try_risky_approach")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "checkpoint %s on %s\n", risky.ID, risky.Branch)

		rolled, err := sess.Rollback(ctx, checkpoint.RollbackOptions{Steps: 1})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rolled back to %s on %s\n", rolled.ID, rolled.Branch)

		if err := sess.SwitchBranch(ctx, checkpoint.MainBranch); err != nil {
			return err
		}
		merged, err := sess.Merge(ctx, branch.Name, checkpoint.StrategyPreferHigherConfidence)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "merged %q into %s -> %s\n", branch.Name, checkpoint.MainBranch, merged.ID)

		fmt.Fprintln(out, sess.VisualizeTree())
		return nil
	},
}
