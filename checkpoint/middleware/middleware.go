// Package middleware lets a host agent framework drive checkpointed,
// safely-executed calls through its own invocation pipeline without
// depending on the checkpoint package's façade directly: a framework
// hands its invoker to Wrap and gets back an invoker of the same
// shape, now backed by a Session's save-execute-recover loop.
package middleware

import (
	"context"

	"github.com/haldane-ai/checkpoint-go/checkpoint"
	"github.com/haldane-ai/checkpoint-go/checkpoint/recovery"
)

// Wrapper is the capability interface a host framework integrates
// against: wrap one of its callables, get back a wrapped one with the
// same signature.
type Wrapper interface {
	Wrap(call checkpoint.Callable, label string) checkpoint.Callable
}

// SafeExecuteMiddleware is the reference Wrapper: every wrapped call
// runs through a Session's SafeExecute, using a fixed recovery
// strategy and metadata for every invocation. label becomes the
// logic_step recorded on each checkpoint.
type SafeExecuteMiddleware struct {
	Session  *checkpoint.Session
	Strategy recovery.Strategy
	Metadata checkpoint.Value
	// Fallback is invoked, after the DAG rolls back to the
	// pre-attempt checkpoint, once Strategy gives up or settles on a
	// fallback state. May be nil, in which case exhaustion always
	// surfaces an *checkpoint.ExecutionError.
	Fallback checkpoint.Callable
}

// NewSafeExecuteMiddleware builds a SafeExecuteMiddleware over an
// already-open session. Metadata is attached to every checkpoint the
// wrapped calls produce; pass checkpoint.Null() if none is needed.
func NewSafeExecuteMiddleware(session *checkpoint.Session, strategy recovery.Strategy, metadata checkpoint.Value) *SafeExecuteMiddleware {
	return &SafeExecuteMiddleware{Session: session, Strategy: strategy, Metadata: metadata}
}

// Wrap returns a Callable that, on every invocation, checkpoints
// state, runs call under the middleware's recovery strategy, and
// returns the recovered or successful final state. The wrapped call
// never returns the underlying error directly on a recovered path;
// it surfaces only when the strategy gives up and no Fallback is set
// or Fallback itself fails.
func (m *SafeExecuteMiddleware) Wrap(call checkpoint.Callable, label string) checkpoint.Callable {
	return func(ctx context.Context, state checkpoint.Value) (checkpoint.Value, error) {
		result, err := m.Session.SafeExecute(ctx, state, m.Metadata, label, call, m.Fallback, m.Strategy)
		if err != nil {
			return checkpoint.Value{}, err
		}
		return result.FinalState, nil
	}
}
