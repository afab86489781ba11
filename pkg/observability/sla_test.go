package observability

import (
	"testing"
	"time"

	"github.com/intake-labs/ire/pkg/canonical"
)

var decidedAt = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

func TestSLAWindowBands(t *testing.T) {
	if SLAWindow(canonical.SLA1H) != time.Hour {
		t.Fatal("SLA_1H window")
	}
	if SLAWindow(canonical.SLA3BD) != 72*time.Hour {
		t.Fatal("SLA_3BD window")
	}
}

func TestMonitorBreach(t *testing.T) {
	m := NewMonitor()
	m.Arm("msg-urgent", canonical.QueueSecurityReview, canonical.SLA1H, decidedAt)
	m.Arm("msg-claim", canonical.QueueClaimsAuto, canonical.SLA4H, decidedAt)

	breached := m.Breached(decidedAt.Add(2 * time.Hour))
	if len(breached) != 1 {
		t.Fatalf("expected 1 breach, got %d", len(breached))
	}
	if breached[0].MessageID != "msg-urgent" {
		t.Fatalf("wrong breach: %s", breached[0].MessageID)
	}

	breached = m.Breached(decidedAt.Add(5 * time.Hour))
	if len(breached) != 2 {
		t.Fatalf("expected 2 breaches, got %d", len(breached))
	}
	// Most overdue first.
	if breached[0].MessageID != "msg-urgent" {
		t.Fatalf("breach order: %s first", breached[0].MessageID)
	}
}

func TestMonitorResolveClearsClock(t *testing.T) {
	m := NewMonitor()
	m.Arm("msg-1", canonical.QueueClaimsAuto, canonical.SLA4H, decidedAt)
	m.Resolve("msg-1")

	if m.Armed() != 0 {
		t.Fatal("expected no armed clocks")
	}
	if got := m.Breached(decidedAt.Add(24 * time.Hour)); len(got) != 0 {
		t.Fatal("resolved message still breaches")
	}
}

func TestMonitorRearmReplaces(t *testing.T) {
	m := NewMonitor()
	m.Arm("msg-1", canonical.QueueClaimsAuto, canonical.SLA1H, decidedAt)
	d := m.Arm("msg-1", canonical.QueueClaimsAuto, canonical.SLA4H, decidedAt)

	if m.Armed() != 1 {
		t.Fatal("re-arm duplicated the clock")
	}
	if d.DueAt != decidedAt.Add(4*time.Hour) {
		t.Fatalf("due at %s", d.DueAt)
	}
}
