// Command checkpointctl is a thin Cobra front end over the checkpoint
// package's Session façade: open a session rooted at CHECKPOINT_ROOT,
// run one subcommand against it, print the result, exit.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
