package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for governance telemetry.
var (
	AttrActionID          = attribute.Key("credence.action.id")
	AttrActionCriticality = attribute.Key("credence.action.criticality")
	AttrDecision          = attribute.Key("credence.decision")
	AttrAggregate         = attribute.Key("credence.aggregate")
	AttrThreshold         = attribute.Key("credence.threshold")
	AttrSystemState       = attribute.Key("credence.state")

	AttrAssumptionID       = attribute.Key("credence.assumption.id")
	AttrAssumptionCategory = attribute.Key("credence.assumption.category")

	AttrOutcome = attribute.Key("credence.outcome")
	AttrActor   = attribute.Key("credence.actor")
)

// EvaluationAttrs builds attributes for an action evaluation.
func EvaluationAttrs(actionID string, criticality int, decision, state string, aggregate, threshold float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrActionID.String(actionID),
		AttrActionCriticality.Int(criticality),
		AttrDecision.String(decision),
		AttrSystemState.String(state),
		AttrAggregate.Float64(aggregate),
		AttrThreshold.Float64(threshold),
	}
}

// AssumptionAttrs builds attributes for an assumption operation.
func AssumptionAttrs(id, category string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAssumptionID.String(id),
		AttrAssumptionCategory.String(category),
	}
}

// OutcomeAttrs builds attributes for an execution outcome.
func OutcomeAttrs(actionID, outcome, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrActionID.String(actionID),
		AttrOutcome.String(outcome),
		AttrSystemState.String(state),
	}
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordSpanError records err on the span in ctx when non-nil.
func RecordSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}
