package identity

import (
	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/config"
)

// Signal is one weighted contribution on a candidate, as persisted.
type Signal struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Weight   float64 `json:"weight"`
	Strength string  `json:"strength"`
}

// Candidate is one ranked directory entity.
type Candidate struct {
	EntityType      canonical.EntityType `json:"entity_type"`
	EntityID        string               `json:"entity_id"`
	Score           float64              `json:"score"`
	DirectoryStatus *string              `json:"directory_status,omitempty"`
	Signals         []Signal             `json:"signals"`
	Evidence        []artifact.Evidence  `json:"evidence,omitempty"`

	hasHard   bool
	hasMedium bool
}

// Selected identifies the winning candidate.
type Selected struct {
	EntityType canonical.EntityType `json:"entity_type"`
	EntityID   string               `json:"entity_id"`
	Score      float64              `json:"score"`
}

// Thresholds echoes the status thresholds the decision ran under.
type Thresholds struct {
	ConfirmScore   float64 `json:"confirm_score"`
	ConfirmMargin  float64 `json:"confirm_margin"`
	ProbableScore  float64 `json:"probable_score"`
	ProbableMargin float64 `json:"probable_margin"`
}

// Result is the identity resolution artifact.
type Result struct {
	SchemaID        string                   `json:"schema_id"`
	MessageID       string                   `json:"message_id"`
	RunID           string                   `json:"run_id"`
	Status          canonical.IdentityStatus `json:"status"`
	StatusReason    *string                  `json:"status_reason,omitempty"`
	Selected        *Selected                `json:"selected,omitempty"`
	TopK            []Candidate              `json:"top_k"`
	Thresholds      Thresholds               `json:"thresholds"`
	ConfigRef       config.Ref               `json:"config_ref"`
	DeterminismMode bool                     `json:"determinism_mode"`
	DecisionHash    string                   `json:"decision_hash"`
}
