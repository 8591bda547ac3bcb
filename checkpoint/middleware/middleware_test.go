package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/haldane-ai/checkpoint-go/checkpoint"
	"github.com/haldane-ai/checkpoint-go/checkpoint/recovery"
	"github.com/haldane-ai/checkpoint-go/checkpoint/store"
)

var errBoom = errors.New("boom")

func TestSafeExecuteMiddlewareWrapsCallable(t *testing.T) {
	ctx := context.Background()
	sess, err := checkpoint.NewSession(ctx, "mw-agent", store.NewMemoryBackend(), checkpoint.NewSerializer(checkpoint.FlavorText))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	mw := NewSafeExecuteMiddleware(sess, recovery.RetryWithBackoff{MaxRetries: 3}, checkpoint.Null())

	attempts := 0
	inner := func(ctx context.Context, state checkpoint.Value) (checkpoint.Value, error) {
		attempts++
		return checkpoint.StrValue("wrapped"), nil
	}

	wrapped := mw.Wrap(inner, "host_invoke")
	out, err := wrapped(ctx, checkpoint.StrValue("in"))
	if err != nil {
		t.Fatalf("wrapped call error = %v", err)
	}
	if out.Str != "wrapped" {
		t.Fatalf("wrapped call result = %#v, want 'wrapped'", out)
	}
	if attempts != 1 {
		t.Fatalf("inner call invoked %d times, want 1", attempts)
	}
	if got := sess.Metrics().CheckpointsCreated; got != 2 {
		t.Fatalf("CheckpointsCreated = %d, want 2 (pre + post)", got)
	}
}

func TestSafeExecuteMiddlewareSurfacesGiveUp(t *testing.T) {
	ctx := context.Background()
	sess, err := checkpoint.NewSession(ctx, "mw-agent", store.NewMemoryBackend(), checkpoint.NewSerializer(checkpoint.FlavorText))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	mw := NewSafeExecuteMiddleware(sess, recovery.RetryWithBackoff{MaxRetries: 1}, checkpoint.Null())

	boom := func(ctx context.Context, state checkpoint.Value) (checkpoint.Value, error) {
		return checkpoint.Value{}, errBoom
	}

	wrapped := mw.Wrap(boom, "host_invoke")
	if _, err := wrapped(ctx, checkpoint.StrValue("in")); err == nil {
		t.Fatalf("expected wrapped call to surface the give-up error")
	}
}

func TestSafeExecuteMiddlewareUsesConfiguredFallback(t *testing.T) {
	ctx := context.Background()
	sess, err := checkpoint.NewSession(ctx, "mw-agent", store.NewMemoryBackend(), checkpoint.NewSerializer(checkpoint.FlavorText))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	mw := NewSafeExecuteMiddleware(sess, recovery.RetryWithBackoff{MaxRetries: 1}, checkpoint.Null())
	mw.Fallback = func(ctx context.Context, state checkpoint.Value) (checkpoint.Value, error) {
		return checkpoint.StrValue("fallback-result"), nil
	}

	boom := func(ctx context.Context, state checkpoint.Value) (checkpoint.Value, error) {
		return checkpoint.Value{}, errBoom
	}

	wrapped := mw.Wrap(boom, "host_invoke")
	out, err := wrapped(ctx, checkpoint.StrValue("in"))
	if err != nil {
		t.Fatalf("wrapped call error = %v, want the configured fallback to recover", err)
	}
	if out.Str != "fallback-result" {
		t.Fatalf("wrapped call result = %#v, want 'fallback-result'", out)
	}
	if got := sess.Metrics().Recoveries; got != 1 {
		t.Fatalf("Metrics().Recoveries = %d, want 1", got)
	}
}
