// Package observability provides OpenTelemetry tracing and metrics for
// the intake pipeline.
//
// # Tracing
//
// Initialize a provider at startup and shut it down on exit:
//
//	p, err := observability.New(ctx, observability.DefaultConfig())
//	defer p.Shutdown(ctx)
//
// Wrap each pipeline stage:
//
//	ctx, finish := p.TrackStage(ctx, canonical.StageClassify,
//		observability.StageAttrs(messageID, runID, canonical.StageClassify)...)
//	defer func() { finish(err) }()
//
// # SLA tracking
//
// Routing decisions carry an SLA band. The Monitor turns decisions into
// deadlines and reports breaches:
//
//	m := observability.NewMonitor()
//	m.Arm(messageID, queueID, sla, decidedAt)
//	breaches := m.Breached(now)
package observability
