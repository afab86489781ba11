package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/intake-labs/ire/pkg/canonical"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "ire-intake", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestNewProviderWithNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestTrackStage(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackStage(context.Background(), canonical.StageClassify,
		StageAttrs("msg-1", "run-1", canonical.StageClassify)...)
	require.NotNil(t, ctx)

	time.Sleep(time.Millisecond)
	finish(nil)
}

func TestTrackStageWithError(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, finish := p.TrackStage(context.Background(), canonical.StageRoute)
	finish(errors.New("no_rule_match"))
}

func TestRecordersAreNoopsWhenDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordMessage(ctx, AttrMessageID.String("msg-1"))
	p.RecordFailClosed(ctx, canonical.StageIdentity, "identity_needs_review")
	p.RecordStageDuration(ctx, 100*time.Millisecond)
}

func TestStartSpan(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "ire.stage.NORMALIZE")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdownDisabledProvider(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestStageAttrs(t *testing.T) {
	attrs := StageAttrs("msg-1", "run-1", canonical.StageIdentity)
	require.Len(t, attrs, 3)
	require.Equal(t, "ire.message.id", string(attrs[0].Key))
	require.Equal(t, "msg-1", attrs[0].Value.AsString())
	require.Equal(t, "IDENTITY", attrs[2].Value.AsString())
}

func TestDecisionAttrs(t *testing.T) {
	attrs := DecisionAttrs(canonical.QueueClaimsAuto, "R_CLAIMS_AUTO", canonical.SLA4H, "sha256:abc")
	require.Len(t, attrs, 4)
	require.Equal(t, "ire.decision.queue_id", string(attrs[0].Key))
	require.Equal(t, "QUEUE_CLAIMS_AUTO", attrs[0].Value.AsString())
	require.Equal(t, "SLA_4H", attrs[2].Value.AsString())
}

func TestFailureAttrs(t *testing.T) {
	attrs := FailureAttrs(canonical.StageCase, "case_create_failed")
	require.Len(t, attrs, 2)
	require.Equal(t, "ire.fail.reason", string(attrs[1].Key))
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()
	require.NotNil(t, SpanFromContext(ctx))
	AddSpanEvent(ctx, "queued", attribute.String("queue", "intake"))
	SetSpanStatus(ctx, errors.New("boom"))
	SetSpanStatus(ctx, nil)
}
