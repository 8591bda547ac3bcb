package checkpoint

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/haldane-ai/checkpoint-go/checkpoint/store"
	"github.com/haldane-ai/checkpoint-go/checkpoint/telemetry"
)

// Option configures Open. Functional options keep backend selection,
// serialization flavor, and logging orthogonal to each other.
type Option func(*sessionConfig) error

type sessionConfig struct {
	flavor        Flavor
	backend       store.Backend
	logger        zerolog.Logger
	emitter       telemetry.Emitter
	repairedIndex bool
}

// WithSerializerFlavor selects how checkpoint payloads are encoded on
// the wire. Default: FlavorText, since it doubles as the file-tree
// backend's on-disk format.
func WithSerializerFlavor(f Flavor) Option {
	return func(c *sessionConfig) error {
		c.flavor = f
		return nil
	}
}

// WithMemoryBackend selects the non-durable in-memory backend, useful
// for tests and scratch sessions.
func WithMemoryBackend() Option {
	return func(c *sessionConfig) error {
		c.backend = store.NewMemoryBackend()
		return nil
	}
}

// WithFileTreeBackend roots the session at a directory, one JSON file
// per checkpoint/branch plus a repairable index.
func WithFileTreeBackend(root string) Option {
	return func(c *sessionConfig) error {
		b, err := store.NewFileTreeBackend(root)
		if err != nil {
			return &StorageError{Op: "open", Reason: err}
		}
		if b.Repaired {
			c.repairedIndex = true
		}
		c.backend = b
		return nil
	}
}

// WithSQLiteBackend opens the embedded relational backend at path,
// creating the schema if necessary.
func WithSQLiteBackend(path string) Option {
	return func(c *sessionConfig) error {
		b, err := store.NewSQLiteBackend(path)
		if err != nil {
			return &StorageError{Op: "open", Reason: err}
		}
		c.backend = b
		return nil
	}
}

// WithMySQLBackend opens the additional MySQL-backed relational
// variant at dsn, a drop-in alternative for operators already running
// MySQL rather than SQLite.
func WithMySQLBackend(dsn string) Option {
	return func(c *sessionConfig) error {
		b, err := store.NewMySQLBackend(dsn)
		if err != nil {
			return &StorageError{Op: "open", Reason: err}
		}
		c.backend = b
		return nil
	}
}

// WithBackend installs an already-constructed Backend, for callers
// wiring their own pool or a backend not covered by the With*Backend
// helpers above.
func WithBackend(b store.Backend) Option {
	return func(c *sessionConfig) error {
		c.backend = b
		return nil
	}
}

// WithLogger overrides the zerolog.Logger Open uses for ambient
// process logging (session open/reopen, index repair warnings).
// Default: the global log.Logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *sessionConfig) error {
		c.logger = l
		return nil
	}
}

// WithEmitter installs a telemetry.Emitter (an OTelEmitter, a
// PrometheusMetrics, or both via a small fan-out Emitter). Default:
// telemetry.NullEmitter, which discards every event.
func WithEmitter(e telemetry.Emitter) Option {
	return func(c *sessionConfig) error {
		c.emitter = e
		return nil
	}
}

// Open constructs a Session, applying opts over sensible defaults
// (memory backend, text serialization, the global logger). It is the
// recommended entry point for callers who don't need a pre-built
// Backend; construct one directly and pass WithBackend for anything
// more specific.
func Open(ctx context.Context, name string, opts ...Option) (*Session, error) {
	if name == "" {
		return nil, fmt.Errorf("checkpoint: session name must not be empty")
	}

	cfg := &sessionConfig{
		flavor: FlavorText,
		logger: log.Logger,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.backend == nil {
		cfg.backend = store.NewMemoryBackend()
	}

	sess, err := NewSession(ctx, name, cfg.backend, NewSerializer(cfg.flavor))
	if err != nil {
		return nil, err
	}
	sess.SetLogger(cfg.logger)
	if cfg.emitter != nil {
		sess.SetEmitter(cfg.emitter)
	}
	if cfg.repairedIndex {
		cfg.logger.Warn().Str("session", name).Msg("file-tree index disagreed with checkpoint files on disk; rebuilt from files present")
	}
	cfg.logger.Info().Str("session", name).Msg("checkpoint session opened")
	return sess, nil
}
