// Package telemetry provides observability for the checkpoint DAG:
// domain events fanned out to pluggable emitters, OpenTelemetry spans,
// and Prometheus counters/gauges.
package telemetry

// Event is a single observability event emitted by a checkpoint
// operation.
type Event struct {
	// Op names the operation that produced this event: checkpoint,
	// rollback, branch, merge, or safe_execute.
	Op string

	// CheckpointID is the id the operation produced or acted on, if
	// any.
	CheckpointID string

	// Branch is the branch the operation ran against.
	Branch string

	// Meta carries operation-specific details: rollback's steps
	// count, merge's source branch, safe_execute's
	// errors_caught count, and so on.
	Meta map[string]any
}

// Emitter receives Events from the checkpoint package. Implementations
// must not block the caller and must not panic.
type Emitter interface {
	Emit(Event)
}

// NullEmitter discards every event. It is the default when no emitter
// is configured.
type NullEmitter struct{}

func (NullEmitter) Emit(Event) {}
