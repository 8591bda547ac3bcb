package main

import "testing"

func TestEnvOrFallback(t *testing.T) {
	t.Setenv("CHECKPOINT_TEST_VAR", "")
	if got := envOr("CHECKPOINT_TEST_VAR", "fallback"); got != "fallback" {
		t.Fatalf("envOr() = %q, want fallback", got)
	}
}

func TestEnvOrSet(t *testing.T) {
	t.Setenv("CHECKPOINT_TEST_VAR", "value")
	if got := envOr("CHECKPOINT_TEST_VAR", "fallback"); got != "value" {
		t.Fatalf("envOr() = %q, want value", got)
	}
}
