package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each Event into a span: name is Op, attributes
// cover checkpoint_id, branch, and every Meta key whose value is a
// string, bool, int, or float64. A Meta["error"] entry marks the span
// as an error.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter builds an OTelEmitter from an OpenTelemetry tracer,
// typically otel.Tracer("checkpoint").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (e *OTelEmitter) Emit(ev Event) {
	_, span := e.tracer.Start(context.Background(), ev.Op)
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("checkpoint_id", ev.CheckpointID),
		attribute.String("branch", ev.Branch),
	}
	for k, v := range ev.Meta {
		switch t := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, t))
		case bool:
			attrs = append(attrs, attribute.Bool(k, t))
		case int:
			attrs = append(attrs, attribute.Int(k, t))
		case int64:
			attrs = append(attrs, attribute.Int64(k, t))
		case float64:
			attrs = append(attrs, attribute.Float64(k, t))
		}
	}
	span.SetAttributes(attrs...)

	if errVal, ok := ev.Meta["error"]; ok {
		span.SetStatus(codes.Error, "")
		if msg, ok := errVal.(string); ok {
			span.SetAttributes(attribute.String("error.message", msg))
		}
	}
}
