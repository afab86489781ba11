package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/intake-labs/ire/pkg/broker"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
	"github.com/intake-labs/ire/pkg/ingest"
	"github.com/intake-labs/ire/pkg/observability"
)

// Pool runs pipeline chains off the broker. Each worker dequeues one
// delivery, takes the per-message lease, runs the chain, and settles
// the delivery: Ack on success or a fail-closed outcome, Nack on
// retryable faults so the broker redelivers or dead-letters.
type Pool struct {
	Broker    broker.Broker
	Lease     broker.Lease
	Pipeline  *Pipeline
	Telemetry *observability.Provider // optional
	Deadlines *observability.Monitor  // optional
	Workers   int
}

// Run blocks until ctx ends, then waits for in-flight chains.
func (p *Pool) Run(ctx context.Context) error {
	n := p.Workers
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (p *Pool) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		d, err := p.Broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		p.handle(ctx, d)
	}
}

func (p *Pool) handle(ctx context.Context, d *broker.Delivery) {
	if p.Lease != nil {
		ok, err := p.Lease.Acquire(ctx, d.Job.MessageID)
		if err != nil || !ok {
			// Someone else is processing this message. Leave the
			// delivery unsettled; it redelivers once the holder is done
			// or gone.
			_ = p.Broker.Nack(ctx, d)
			return
		}
		defer p.Lease.Release(ctx, d.Job.MessageID)
	}

	finish := func(error) {}
	if p.Telemetry != nil {
		ctx, finish = p.Telemetry.TrackStage(ctx, canonical.StageIngest,
			observability.StageAttrs(d.Job.MessageID, d.Job.RunID, canonical.StageIngest)...)
	}

	res, err := p.Pipeline.Run(ctx, Job{
		MessageID: d.Job.MessageID,
		RunID:     d.Job.RunID,
		RawSHA256: d.Job.RawSHA256,
		Source:    d.Job.Source,
	})
	finish(err)
	if p.Telemetry != nil && err == nil && res != nil && res.Decision != nil {
		observability.AddSpanEvent(ctx, "decision",
			observability.DecisionAttrs(res.Decision.QueueID, res.Decision.RuleID,
				res.Decision.SLAID, res.Decision.DecisionHash)...)
	}
	if p.Deadlines != nil && err == nil && res != nil && res.Decision != nil {
		// A created case is a completed handover; anything else waits
		// on a queue owner, so its SLA clock starts now.
		if res.Case != nil && res.Case.CaseID != "" {
			p.Deadlines.Resolve(d.Job.MessageID)
		} else {
			p.Deadlines.Arm(d.Job.MessageID, res.Decision.QueueID, res.Decision.SLAID, time.Now())
		}
	}
	switch {
	case err == nil:
		_ = p.Broker.Ack(ctx, d)
	case fault.Retryable(err):
		_ = p.Broker.Nack(ctx, d)
	default:
		// Non-retryable chain faults are terminal; the job rows and
		// audit chain already say why.
		_ = p.Broker.Ack(ctx, d)
	}
}

// Feed pumps a source into the broker until the source drains or ctx
// ends. The cursor only advances after the raw bytes are stored, the
// dedup row exists and the job is enqueued, so a crash between any two
// steps reingests idempotently.
func (p *Pool) Feed(ctx context.Context, src ingest.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if raw == nil {
			return nil
		}
		job, duplicate, err := p.Pipeline.Ingest(ctx, raw)
		if err != nil {
			return err
		}
		if !duplicate {
			err = p.Broker.Enqueue(ctx, broker.Job{
				MessageID: job.MessageID,
				RunID:     job.RunID,
				RawSHA256: job.RawSHA256,
				Source:    job.Source,
			})
			if err != nil {
				return err
			}
		}
		if err := src.Commit(ctx, raw.SourceMessageID); err != nil {
			return err
		}
	}
}
