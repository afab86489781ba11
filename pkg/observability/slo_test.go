package observability

import (
	"testing"
	"time"
)

func TestSLOSetTarget(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-classify",
		Operation:   "classify",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.999,
		WindowHours: 24,
	})

	status, err := tracker.Status("classify")
	if err != nil {
		t.Fatal(err)
	}
	if !status.InCompliance {
		t.Fatal("expected compliance with no observations")
	}
}

func TestSLOInCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-route",
		Operation:   "route",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	for i := 0; i < 100; i++ {
		tracker.Record(SLOObservation{Operation: "route", Latency: 100 * time.Millisecond, Success: true})
	}

	status, _ := tracker.Status("route")
	if !status.InCompliance {
		t.Fatal("expected in compliance")
	}
	if status.CurrentSuccess != 1.0 {
		t.Fatalf("expected 100%% success rate, got %.2f", status.CurrentSuccess)
	}
}

func TestSLOOutOfCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-case",
		Operation:   "case",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	// 90 created + 10 dead-lettered = 90%, below the 99% target.
	for i := 0; i < 90; i++ {
		tracker.Record(SLOObservation{Operation: "case", Latency: 100 * time.Millisecond, Success: true})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{Operation: "case", Latency: 100 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status("case")
	if status.InCompliance {
		t.Fatal("expected out of compliance")
	}
}

func TestSLOBurnRate(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-identity",
		Operation:   "identity",
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99, // 1% error budget
		WindowHours: 1,
	})

	// 5% error rate burns budget at 5x.
	for i := 0; i < 95; i++ {
		tracker.Record(SLOObservation{Operation: "identity", Latency: 10 * time.Millisecond, Success: true})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(SLOObservation{Operation: "identity", Latency: 10 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status("identity")
	if status.BurnRate < 4.0 {
		t.Fatalf("expected high burn rate, got %.2f", status.BurnRate)
	}
}

func TestSLONoTarget(t *testing.T) {
	tracker := NewSLOTracker()
	if _, err := tracker.Status("nonexistent"); err == nil {
		t.Fatal("expected error for missing target")
	}
}
