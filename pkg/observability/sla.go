package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/intake-labs/ire/pkg/canonical"
)

// SLAWindow maps an SLA band to its wall-clock allowance. Business-day
// bands are approximated as calendar time; the intake layer has no
// holiday calendar and the downstream case system re-derives exact due
// dates anyway.
func SLAWindow(sla canonical.SLA) time.Duration {
	switch sla {
	case canonical.SLA1H:
		return time.Hour
	case canonical.SLA4H:
		return 4 * time.Hour
	case canonical.SLA1BD:
		return 24 * time.Hour
	case canonical.SLA3BD:
		return 72 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Deadline is one armed SLA clock.
type Deadline struct {
	MessageID string          `json:"message_id"`
	QueueID   canonical.Queue `json:"queue_id"`
	SLA       canonical.SLA   `json:"sla"`
	DecidedAt time.Time       `json:"decided_at"`
	DueAt     time.Time       `json:"due_at"`
}

// Monitor tracks SLA deadlines armed by routing decisions. It is an
// in-process view for dashboards and alerting, not the system of
// record; the routing artifact stays authoritative.
type Monitor struct {
	mu        sync.Mutex
	deadlines map[string]Deadline // messageID → deadline
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{deadlines: make(map[string]Deadline)}
}

// Arm starts the SLA clock for a message. Re-arming the same message
// replaces the clock, matching the newest routing decision winning.
func (m *Monitor) Arm(messageID string, queueID canonical.Queue, sla canonical.SLA, decidedAt time.Time) Deadline {
	d := Deadline{
		MessageID: messageID,
		QueueID:   queueID,
		SLA:       sla,
		DecidedAt: decidedAt,
		DueAt:     decidedAt.Add(SLAWindow(sla)),
	}
	m.mu.Lock()
	m.deadlines[messageID] = d
	m.mu.Unlock()
	return d
}

// Resolve clears the clock once the message reached its queue owner.
func (m *Monitor) Resolve(messageID string) {
	m.mu.Lock()
	delete(m.deadlines, messageID)
	m.mu.Unlock()
}

// Breached returns every armed deadline past due at now, most overdue
// first.
func (m *Monitor) Breached(now time.Time) []Deadline {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Deadline
	for _, d := range m.deadlines {
		if now.After(d.DueAt) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out
}

// Armed returns the number of open SLA clocks.
func (m *Monitor) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deadlines)
}
