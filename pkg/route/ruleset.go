// Package route turns the upstream stage results into a routing
// decision: queue, SLA, priority, actions, rule id. The hard override
// ladder is code, driven by the canonical registry; only the
// product/intent table lives in the versioned ruleset file.
package route

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/intake-labs/ire/pkg/artifact"
	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
)

// When is the declarative condition block of a table rule. All present
// clauses must hold.
type When struct {
	RiskFlagsAny       []canonical.RiskFlag       `yaml:"risk_flags_any"`
	RiskFlagsNotAny    []canonical.RiskFlag       `yaml:"risk_flags_not_any"`
	PrimaryIntentIn    []canonical.Intent         `yaml:"primary_intent_in"`
	PrimaryIntentNotIn []canonical.Intent         `yaml:"primary_intent_not_in"`
	IdentityStatusIn   []canonical.IdentityStatus `yaml:"identity_status_in"`
	ProductLineIn      []canonical.ProductLine    `yaml:"product_line_in"`
}

// Then is the outcome block of a table rule.
type Then struct {
	QueueID          canonical.Queue    `yaml:"queue_id"`
	SLAID            canonical.SLA      `yaml:"sla_id"`
	Priority         int                `yaml:"priority"`
	Actions          []canonical.Action `yaml:"actions"`
	FailClosed       bool               `yaml:"fail_closed"`
	FailClosedReason string             `yaml:"fail_closed_reason"`
}

// Rule is one entry of the decision table.
type Rule struct {
	RuleID   string `yaml:"rule_id"`
	Priority int    `yaml:"priority"`
	When     When   `yaml:"when"`
	// Guard is an optional CEL expression over the routing input,
	// compiled at load time against a deterministic environment.
	Guard string `yaml:"guard"`
	Then  Then   `yaml:"then"`

	program cel.Program
}

type rulesetFile struct {
	RulesetVersion string `yaml:"ruleset_version"`
	Rules          []Rule `yaml:"rules"`
	Fallback       Then   `yaml:"fallback"`
}

// Ruleset is a loaded, validated, priority-sorted decision table.
type Ruleset struct {
	Ref      artifact.RulesRef
	Rules    []Rule
	Fallback Then
}

// celEnv is the deterministic guard environment: the routing input
// fields only, no time, no rand.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("identity_status", cel.StringType),
		cel.Variable("primary_intent", cel.StringType),
		cel.Variable("product_line", cel.StringType),
		cel.Variable("urgency", cel.StringType),
		cel.Variable("risk_flags", cel.ListType(cel.StringType)),
	)
}

// LoadRuleset reads and pins the ruleset file. The stored path is the
// path as given so the ref stays stable across checkouts.
func LoadRuleset(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, canonical.StageRoute, "ruleset_unreadable", err)
	}
	return ParseRuleset(path, data)
}

// ParseRuleset builds a ruleset from raw YAML bytes. Unknown keys are
// rejected, every label must be canonical, and the version must parse
// as semver.
func ParseRuleset(path string, data []byte) (*Ruleset, error) {
	bad := func(reason string, err error) (*Ruleset, error) {
		return nil, fault.Wrap(fault.KindValidation, canonical.StageRoute, reason, err)
	}

	var doc rulesetFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return bad("ruleset_parse_failed", err)
	}
	if _, err := semver.NewVersion(doc.RulesetVersion); err != nil {
		return bad("ruleset_bad_version", fmt.Errorf("ruleset_version %q: %w", doc.RulesetVersion, err))
	}

	env, err := celEnv()
	if err != nil {
		return bad("ruleset_guard_env", err)
	}

	seen := make(map[string]bool, len(doc.Rules))
	for i := range doc.Rules {
		r := &doc.Rules[i]
		if r.RuleID == "" {
			return bad("ruleset_rule_missing_id", fmt.Errorf("rule %d", i))
		}
		if seen[r.RuleID] {
			return bad("ruleset_duplicate_rule_id", fmt.Errorf("rule %q", r.RuleID))
		}
		seen[r.RuleID] = true
		if err := validateWhen(r.When); err != nil {
			return bad("ruleset_bad_condition", fmt.Errorf("rule %q: %w", r.RuleID, err))
		}
		if err := validateThen(r.Then); err != nil {
			return bad("ruleset_bad_outcome", fmt.Errorf("rule %q: %w", r.RuleID, err))
		}
		if r.Guard != "" {
			ast, iss := env.Compile(r.Guard)
			if iss != nil && iss.Err() != nil {
				return bad("ruleset_bad_guard", fmt.Errorf("rule %q: %w", r.RuleID, iss.Err()))
			}
			prg, err := env.Program(ast)
			if err != nil {
				return bad("ruleset_bad_guard", fmt.Errorf("rule %q: %w", r.RuleID, err))
			}
			r.program = prg
		}
	}
	if err := validateThen(doc.Fallback); err != nil {
		return bad("ruleset_bad_fallback", err)
	}

	rules := make([]Rule, len(doc.Rules))
	copy(rules, doc.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	return &Ruleset{
		Ref: artifact.RulesRef{
			Path:    path,
			SHA256:  canonicalize.Digest(data),
			Version: doc.RulesetVersion,
		},
		Rules:    rules,
		Fallback: doc.Fallback,
	}, nil
}

func validateWhen(w When) error {
	for _, f := range w.RiskFlagsAny {
		if !canonical.ValidRiskFlag(string(f)) {
			return fmt.Errorf("risk flag %q", f)
		}
	}
	for _, f := range w.RiskFlagsNotAny {
		if !canonical.ValidRiskFlag(string(f)) {
			return fmt.Errorf("risk flag %q", f)
		}
	}
	for _, v := range w.PrimaryIntentIn {
		if !canonical.ValidIntent(string(v)) {
			return fmt.Errorf("intent %q", v)
		}
	}
	for _, v := range w.PrimaryIntentNotIn {
		if !canonical.ValidIntent(string(v)) {
			return fmt.Errorf("intent %q", v)
		}
	}
	for _, v := range w.IdentityStatusIn {
		if !canonical.ValidIdentityStatus(string(v)) {
			return fmt.Errorf("identity status %q", v)
		}
	}
	for _, v := range w.ProductLineIn {
		if !canonical.ValidProductLine(string(v)) {
			return fmt.Errorf("product line %q", v)
		}
	}
	return nil
}

func validateThen(t Then) error {
	if !canonical.ValidQueue(string(t.QueueID)) {
		return fmt.Errorf("queue %q", t.QueueID)
	}
	if !canonical.ValidSLA(string(t.SLAID)) {
		return fmt.Errorf("sla %q", t.SLAID)
	}
	for _, a := range t.Actions {
		if !canonical.ValidAction(string(a)) {
			return fmt.Errorf("action %q", a)
		}
	}
	return nil
}
