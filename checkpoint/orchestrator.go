package checkpoint

import (
	"context"
	"time"

	"github.com/haldane-ai/checkpoint-go/checkpoint/recovery"
)

// Callable is the protected operation SafeExecute wraps: an attempt
// that may fail, taking and producing a state Value.
type Callable func(ctx context.Context, state Value) (Value, error)

// ExecutionResult summarizes one SafeExecute run, independent of
// whether it succeeded via the happy path or a recovery Strategy.
type ExecutionResult struct {
	FinalState   Value
	Recovered    bool
	RolledBack   bool
	Attempts     int
	ErrorsCaught int
	Pre          Record
	Post         Record
}

// Orchestrator implements the checkpoint-execute-recover loop:
// checkpoint before calling out, run the callable, and on error
// consult a recovery.Strategy to decide whether to retry (optionally
// after a backoff delay), fall back to a substitute state, or give up.
type Orchestrator struct {
	dag *DAG
}

// NewOrchestrator builds an Orchestrator over dag.
func NewOrchestrator(dag *DAG) *Orchestrator {
	return &Orchestrator{dag: dag}
}

// SafeExecute checkpoints state, invokes call, and on failure consults
// strategy for however many attempts it permits. If the strategy
// settles on FALLBACK or GIVE_UP, the DAG is rolled back to the
// pre-attempt checkpoint and, if fallback is non-nil, fallback is
// invoked against the state the loop settled on; its success produces
// a checkpoint tagged metadata.recovery = "fallback". A nil fallback
// with no more retries always ends in *ExecutionError. ctx
// cancellation during a retry delay rolls back to the pre-attempt
// checkpoint and returns ErrCancelled without invoking fallback.
func (o *Orchestrator) SafeExecute(
	ctx context.Context,
	state, metadata Value,
	logicStep string,
	call Callable,
	fallback Callable,
	strategy recovery.Strategy,
) (ExecutionResult, error) {
	pre, err := o.dag.Checkpoint(ctx, state, metadata, "safe_execute: before "+logicStep, logicStep)
	if err != nil {
		return ExecutionResult{}, err
	}

	cur := state
	attempt := 0
	errorsCaught := 0

	for {
		out, callErr := call(ctx, cur)
		if callErr == nil {
			post, err := o.dag.Checkpoint(ctx, out, metadata, "safe_execute: success "+logicStep, logicStep)
			if err != nil {
				return ExecutionResult{}, err
			}
			return ExecutionResult{
				FinalState:   out,
				Attempts:     attempt + 1,
				ErrorsCaught: errorsCaught,
				Pre:          pre,
				Post:         post,
			}, nil
		}

		errorsCaught++
		outcome := strategy.Handle(callErr, cur, attempt)
		attempt++

		switch outcome.Action {
		case recovery.ActionRetry:
			if outcome.Delay > 0 {
				timer := time.NewTimer(outcome.Delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					if _, rerr := o.dag.Rollback(ctx, RollbackOptions{ToCheckpointID: pre.ID}); rerr != nil {
						return ExecutionResult{ErrorsCaught: errorsCaught, Pre: pre}, rerr
					}
					return ExecutionResult{ErrorsCaught: errorsCaught, Attempts: attempt, Pre: pre, RolledBack: true}, ErrCancelled
				}
			}
			cur = outcome.State
			continue

		case recovery.ActionFallback:
			return o.settle(ctx, pre, outcome.State, metadata, logicStep, fallback, errorsCaught, attempt, callErr)

		default: // ActionGiveUp
			return o.settle(ctx, pre, cur, metadata, logicStep, fallback, errorsCaught, attempt, callErr)
		}
	}
}

// settle implements safe_execute's step 3: roll the DAG back to pre,
// then either run fallback against state and checkpoint its result
// (tagged metadata.recovery = "fallback"), or, if fallback is nil,
// give up with an *ExecutionError wrapping lastErr.
func (o *Orchestrator) settle(
	ctx context.Context,
	pre Record,
	state, metadata Value,
	logicStep string,
	fallback Callable,
	errorsCaught, attempts int,
	lastErr error,
) (ExecutionResult, error) {
	if _, err := o.dag.Rollback(ctx, RollbackOptions{ToCheckpointID: pre.ID}); err != nil {
		return ExecutionResult{}, err
	}

	if fallback == nil {
		return ExecutionResult{ErrorsCaught: errorsCaught, Attempts: attempts, Pre: pre, RolledBack: true}, &ExecutionError{Last: lastErr}
	}

	result, fbErr := fallback(ctx, state)
	if fbErr != nil {
		return ExecutionResult{ErrorsCaught: errorsCaught, Attempts: attempts, Pre: pre, RolledBack: true}, &ExecutionError{Last: fbErr}
	}

	post, err := o.dag.Checkpoint(ctx, result, withRecoveryMeta(metadata), "safe_execute: fallback "+logicStep, logicStep)
	if err != nil {
		return ExecutionResult{}, err
	}
	return ExecutionResult{
		FinalState:   result,
		Recovered:    true,
		RolledBack:   true,
		Attempts:     attempts,
		ErrorsCaught: errorsCaught,
		Pre:          pre,
		Post:         post,
	}, nil
}

// withRecoveryMeta tags metadata with the recovery:"fallback" key a
// C_fallback checkpoint carries, preserving every other key already
// present.
func withRecoveryMeta(base Value) Value {
	merged := map[string]Value{}
	if base.Kind == KindMap {
		for k, v := range base.Map {
			merged[k] = v
		}
	}
	merged["recovery"] = StrValue("fallback")
	return MapValue(merged)
}
