package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haldane-ai/checkpoint-go/checkpoint/recovery"
	"github.com/haldane-ai/checkpoint-go/checkpoint/store"
)

var errTransient = errors.New("transient failure")
var errBoom = errors.New("fallback boom")

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	d, err := NewDAG(context.Background(), store.NewMemoryBackend(), NewSerializer(FlavorText))
	if err != nil {
		t.Fatalf("NewDAG() error = %v", err)
	}
	return NewOrchestrator(d)
}

func TestSafeExecuteSucceedsFirstTry(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	call := func(ctx context.Context, state Value) (Value, error) {
		return StrValue("done"), nil
	}

	result, err := o.SafeExecute(ctx, StrValue("start"), Null(), "step", call, nil, recovery.RetryWithBackoff{MaxRetries: 3})
	if err != nil {
		t.Fatalf("SafeExecute() error = %v", err)
	}
	if result.Attempts != 1 || result.Recovered || result.RolledBack {
		t.Fatalf("result = %#v, want a single unrecovered, non-rolled-back attempt", result)
	}
	if result.FinalState.Str != "done" {
		t.Fatalf("FinalState = %#v, want 'done'", result.FinalState)
	}
}

func TestSafeExecuteRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	attempts := 0
	call := func(ctx context.Context, state Value) (Value, error) {
		attempts++
		if attempts < 3 {
			return Value{}, errTransient
		}
		return StrValue("done"), nil
	}

	result, err := o.SafeExecute(ctx, StrValue("start"), Null(), "step", call, nil, recovery.RetryWithBackoff{MaxRetries: 5})
	if err != nil {
		t.Fatalf("SafeExecute() error = %v", err)
	}
	// S4: retry then success — no rollback, no fallback, not "recovered".
	if result.Recovered || result.RolledBack {
		t.Fatalf("result = %#v, want Recovered=false RolledBack=false on a retry-then-success path", result)
	}
	if result.ErrorsCaught != 2 {
		t.Fatalf("result.ErrorsCaught = %d, want 2", result.ErrorsCaught)
	}
	if result.FinalState.Str != "done" {
		t.Fatalf("FinalState = %#v, want 'done'", result.FinalState)
	}
}

func TestSafeExecuteFallsBack(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	call := func(ctx context.Context, state Value) (Value, error) {
		return Value{}, errTransient
	}
	fallback := func(ctx context.Context, state Value) (Value, error) {
		return MapValue(map[string]Value{"ok": StrValue("fb")}), nil
	}

	degrade := &recovery.DegradeGracefully{}
	result, err := o.SafeExecute(ctx, StrValue("start"), Null(), "step", call, fallback, degrade)
	if err != nil {
		t.Fatalf("SafeExecute() error = %v", err)
	}
	// S5: exhausts retries, fallback succeeds.
	if !result.Recovered || !result.RolledBack {
		t.Fatalf("result = %#v, want Recovered=true RolledBack=true after a successful fallback", result)
	}
	if result.FinalState.Kind != KindMap || result.FinalState.Map["ok"].Str != "fb" {
		t.Fatalf("FinalState = %#v, want the fallback callable's result", result.FinalState)
	}
	if got := result.Post.Metadata.Map["recovery"].Str; got != "fallback" {
		t.Fatalf("Post.Metadata[recovery] = %q, want \"fallback\"", got)
	}
}

func TestSafeExecuteGivesUpWithoutFallback(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	call := func(ctx context.Context, state Value) (Value, error) {
		return Value{}, errTransient
	}

	result, err := o.SafeExecute(ctx, StrValue("start"), Null(), "step", call, nil, recovery.RetryWithBackoff{MaxRetries: 1})
	if err == nil {
		t.Fatalf("expected SafeExecute() to return an error when the strategy gives up with no fallback")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want an *ExecutionError", err)
	}
	// MaxRetries: 1 allows one retry, so the call fails twice.
	if result.ErrorsCaught != 2 {
		t.Fatalf("result.ErrorsCaught = %d, want 2", result.ErrorsCaught)
	}
	if !result.RolledBack {
		t.Fatalf("result.RolledBack = false, want true: step 3 always rolls back to C0")
	}
	if result.Recovered {
		t.Fatalf("result.Recovered = true, want false: give-up with no fallback is not a recovery")
	}
}

func TestSafeExecuteGivesUpWhenFallbackFails(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	call := func(ctx context.Context, state Value) (Value, error) {
		return Value{}, errTransient
	}
	fallback := func(ctx context.Context, state Value) (Value, error) {
		return Value{}, errBoom
	}

	result, err := o.SafeExecute(ctx, StrValue("start"), Null(), "step", call, fallback, recovery.RetryWithBackoff{MaxRetries: 1})
	if err == nil {
		t.Fatalf("expected SafeExecute() to return an error when the fallback itself fails")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want an *ExecutionError", err)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("error = %v, want it to wrap the fallback's own error", err)
	}
	if result.Recovered {
		t.Fatalf("result.Recovered = true, want false: a failing fallback is not a recovery")
	}
}

func TestSafeExecuteHonorsContextCancellationDuringRetryDelay(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())

	call := func(ctx context.Context, state Value) (Value, error) {
		return Value{}, errTransient
	}

	strategy := recovery.RetryWithBackoff{Base: time.Hour, Max: time.Hour, MaxRetries: 5}
	cancel()
	result, err := o.SafeExecute(ctx, StrValue("start"), Null(), "step", call, nil, strategy)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if result.ErrorsCaught != 1 {
		t.Fatalf("result.ErrorsCaught = %d, want 1", result.ErrorsCaught)
	}
	if !result.RolledBack {
		t.Fatalf("result.RolledBack = false, want true: cancellation rolls back to C0")
	}
}
