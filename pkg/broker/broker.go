// Package broker moves intake jobs between the ingest edge and the
// worker pool. A job is one message chain to execute; the broker
// guarantees at-least-once delivery and the per-chain lease keeps
// concurrent redeliveries from interleaving stage writes.
package broker

import "context"

// Job is one queued message chain. RawSHA256 locates the stored MIME
// bytes; the queue never carries message content.
type Job struct {
	MessageID string `json:"message_id"`
	RunID     string `json:"run_id"`
	RawSHA256 string `json:"raw_sha256"`
	Source    string `json:"source"`
}

// Delivery is one received job plus the bookkeeping needed to settle it.
type Delivery struct {
	Job Job
	// ID is the broker-assigned delivery id.
	ID string
	// Attempt counts deliveries of this job, starting at 1.
	Attempt int
}

// Broker is the queue boundary. Dequeue blocks until a job arrives or
// the context ends. Every delivery must be settled with Ack or Nack;
// unsettled deliveries are redelivered.
type Broker interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Nack requeues the job for another attempt. Once attempts reach
	// the broker's maximum, the job moves to the dead-letter stream
	// instead and is settled.
	Nack(ctx context.Context, d *Delivery) error
	Close() error
}

// DefaultMaxAttempts is the delivery cap before dead-lettering.
const DefaultMaxAttempts = 5
