package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SLOTarget defines a latency and success objective for one pipeline
// stage.
type SLOTarget struct {
	SLOID       string        `json:"slo_id"`
	Name        string        `json:"name"`
	Operation   string        `json:"operation"` // stage name, lower case
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // 0-1
	WindowHours int           `json:"window_hours"`
}

// SLOObservation is a single stage execution.
type SLOObservation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"` // false for fail-closed or retry-exhausted
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports current compliance for one stage.
type SLOStatus struct {
	SLOID            string  `json:"slo_id"`
	Operation        string  `json:"operation"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"`         // >1 burns budget faster than allowed
	ErrorBudgetLeft  float64 `json:"error_budget_left"` // percent
	ObservationCount int     `json:"observation_count"`
}

// SLOTracker monitors per-stage objectives from worker observations.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]*SLOTarget
	observations map[string][]SLOObservation
	clock        func() time.Time
}

// NewSLOTracker creates an empty tracker.
func NewSLOTracker() *SLOTracker {
	return &SLOTracker{
		targets:      make(map[string]*SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
}

// WithClock overrides the clock for testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget sets the objective for a stage.
func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Record adds one observation.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	t.observations[obs.Operation] = append(t.observations[obs.Operation], obs)
}

// Status computes compliance for a stage over its window.
func (t *SLOTracker) Status(operation string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return nil, fmt.Errorf("no SLO target for operation %q", operation)
	}

	now := t.clock()
	windowStart := now.Add(-time.Duration(target.WindowHours) * time.Hour)

	var windowed []SLOObservation
	for _, obs := range t.observations[operation] {
		if obs.Timestamp.After(windowStart) {
			windowed = append(windowed, obs)
		}
	}

	if len(windowed) == 0 {
		return &SLOStatus{
			SLOID:           target.SLOID,
			Operation:       operation,
			InCompliance:    true,
			ErrorBudgetLeft: 100.0,
		}, nil
	}

	successCount := 0
	for _, obs := range windowed {
		if obs.Success {
			successCount++
		}
	}
	successRate := float64(successCount) / float64(len(windowed))

	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	inCompliance := p99 <= float64(target.LatencyP99.Milliseconds()) &&
		successRate >= target.SuccessRate

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate, budgetLeft float64
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
		budgetLeft = 100.0 * (1.0 - burnRate)
		if budgetLeft < 0 {
			budgetLeft = 0
		}
	}

	return &SLOStatus{
		SLOID:            target.SLOID,
		Operation:        operation,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		InCompliance:     inCompliance,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(windowed),
	}, nil
}
