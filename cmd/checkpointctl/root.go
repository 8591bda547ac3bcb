package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/haldane-ai/checkpoint-go/checkpoint"
)

var sess *checkpoint.Session

var rootCmd = &cobra.Command{
	Use:           "checkpointctl",
	Short:         "Inspect and drive a checkpoint-and-recovery session from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		sess = s
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if sess != nil {
			return sess.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(demoCmd, logCmd, treeCmd, branchesCmd, diffCmd, inspectCmd, metricsCmd)
}

// openSession builds a Session from the environment:
//
//	CHECKPOINT_AGENT    session name (default "checkpointctl")
//	CHECKPOINT_BACKEND  memory | filetree | sqlite | mysql (default filetree)
//	CHECKPOINT_ROOT     filetree directory, sqlite file path, or mysql DSN
//	                     (default ".checkpoints" for filetree,
//	                     ".checkpoints.db" for sqlite)
func openSession(ctx context.Context) (*checkpoint.Session, error) {
	name := envOr("CHECKPOINT_AGENT", "checkpointctl")
	backend := envOr("CHECKPOINT_BACKEND", "filetree")
	root := os.Getenv("CHECKPOINT_ROOT")

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	opts := []checkpoint.Option{checkpoint.WithLogger(logger)}

	switch backend {
	case "memory":
		opts = append(opts, checkpoint.WithMemoryBackend())
	case "filetree":
		if root == "" {
			root = ".checkpoints"
		}
		opts = append(opts, checkpoint.WithFileTreeBackend(root))
	case "sqlite":
		if root == "" {
			root = ".checkpoints.db"
		}
		opts = append(opts, checkpoint.WithSQLiteBackend(root))
	case "mysql":
		if root == "" {
			return nil, fmt.Errorf("checkpointctl: CHECKPOINT_ROOT must hold a DSN when CHECKPOINT_BACKEND=mysql")
		}
		opts = append(opts, checkpoint.WithMySQLBackend(root))
	default:
		return nil, fmt.Errorf("checkpointctl: unknown CHECKPOINT_BACKEND %q", backend)
	}

	return checkpoint.Open(ctx, name, opts...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
