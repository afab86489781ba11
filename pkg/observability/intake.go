package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/intake-labs/ire/pkg/canonical"
)

// Intake semantic convention attributes.
var (
	AttrMessageID = attribute.Key("ire.message.id")
	AttrRunID     = attribute.Key("ire.run.id")
	AttrStage     = attribute.Key("ire.stage")

	AttrQueueID      = attribute.Key("ire.decision.queue_id")
	AttrRuleID       = attribute.Key("ire.decision.rule_id")
	AttrSLA          = attribute.Key("ire.decision.sla")
	AttrDecisionHash = attribute.Key("ire.decision.hash")

	AttrFailReason = attribute.Key("ire.fail.reason")
	AttrJobState   = attribute.Key("ire.job.state")
)

// StageAttrs builds the attribute set every stage span carries.
func StageAttrs(messageID, runID string, stage canonical.Stage) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrMessageID.String(messageID),
		AttrRunID.String(runID),
		AttrStage.String(string(stage)),
	}
}

// DecisionAttrs builds attributes for a routing decision span.
func DecisionAttrs(queueID canonical.Queue, ruleID string, sla canonical.SLA, decisionHash string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrQueueID.String(string(queueID)),
		AttrRuleID.String(ruleID),
		AttrSLA.String(string(sla)),
		AttrDecisionHash.String(decisionHash),
	}
}

// FailureAttrs builds attributes for a fail-closed outcome.
func FailureAttrs(stage canonical.Stage, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrStage.String(string(stage)),
		AttrFailReason.String(reason),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
