package telemetry

import "testing"

func TestNullEmitterDiscardsEvents(t *testing.T) {
	var e Emitter = NullEmitter{}
	e.Emit(Event{Op: "checkpoint"})
}
