package broker

import (
	"context"
	"strconv"
	"sync"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// Memory is the in-process broker used by tests and the single-message
// CLI path. Semantics mirror the Redis broker: at-least-once, bounded
// attempts, dead-letter list.
type Memory struct {
	maxAttempts int

	mu     sync.Mutex
	queue  chan Delivery
	nextID int
	dead   []Delivery
	closed bool
}

// NewMemory creates a broker buffering up to size undelivered jobs.
func NewMemory(size, maxAttempts int) *Memory {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Memory{
		maxAttempts: maxAttempts,
		queue:       make(chan Delivery, size),
	}
}

func (m *Memory) Enqueue(ctx context.Context, job Job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fault.New(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_closed")
	}
	m.nextID++
	d := Delivery{Job: job, ID: strconv.Itoa(m.nextID), Attempt: 1}
	m.mu.Unlock()

	select {
	case m.queue <- d:
		return nil
	case <-ctx.Done():
		return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_enqueue_cancelled", ctx.Err())
	}
}

func (m *Memory) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case d, ok := <-m.queue:
		if !ok {
			return nil, fault.New(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_closed")
		}
		return &d, nil
	case <-ctx.Done():
		return nil, fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_dequeue_cancelled", ctx.Err())
	}
}

func (m *Memory) Ack(context.Context, *Delivery) error { return nil }

func (m *Memory) Nack(ctx context.Context, d *Delivery) error {
	if d.Attempt >= m.maxAttempts {
		m.mu.Lock()
		m.dead = append(m.dead, *d)
		m.mu.Unlock()
		return nil
	}
	redelivery := Delivery{Job: d.Job, ID: d.ID, Attempt: d.Attempt + 1}
	select {
	case m.queue <- redelivery:
		return nil
	case <-ctx.Done():
		return fault.Wrap(fault.KindDependencyUnavailable, canonical.StageIngest, "broker_enqueue_cancelled", ctx.Err())
	}
}

// Dead returns the dead-lettered deliveries.
func (m *Memory) Dead() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.dead))
	copy(out, m.dead)
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	return nil
}
