package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelEmitterProducesOneSpanPerEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	e := NewOTelEmitter(tp.Tracer("checkpoint-test"))

	e.Emit(Event{
		Op:           "checkpoint",
		CheckpointID: "cp1",
		Branch:       "main",
		Meta:         map[string]any{"agent": "a1", "logic_step": "gather"},
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "checkpoint" {
		t.Fatalf("span name = %q, want checkpoint", spans[0].Name())
	}

	var sawCheckpointID bool
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "checkpoint_id" && attr.Value.AsString() == "cp1" {
			sawCheckpointID = true
		}
	}
	if !sawCheckpointID {
		t.Fatalf("span attributes missing checkpoint_id=cp1: %#v", spans[0].Attributes())
	}
}

func TestOTelEmitterMarksErrorStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	e := NewOTelEmitter(tp.Tracer("checkpoint-test"))

	e.Emit(Event{Op: "safe_execute", Meta: map[string]any{"error": "boom"}})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("span status = %v, want Error", spans[0].Status().Code)
	}
}
