// Package orchestrator drives the stage chain for one message: derived
// job keys, the job state machine, audit events per transition, the
// worker pool, and determinism replay. Everything that could make two
// runs diverge — clocks, hostnames, retry counters — stays out of the
// job key and out of the stage inputs.
package orchestrator

import (
	"sort"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/canonicalize"
	"github.com/intake-labs/ire/pkg/fault"
)

type jobKeyInput struct {
	MessageID string          `json:"message_id"`
	Stage     canonical.Stage `json:"stage"`
	ConfigSHA string          `json:"config_sha256"`
	RulesSHA  string          `json:"ruleset_sha256,omitempty"`
	Inputs    []string        `json:"input_artifact_refs"`
}

// JobID derives the idempotency key of one stage execution. Same
// message, same stage, same config and same inputs is the same job;
// a changed ruleset yields a fresh ROUTE job.
func JobID(messageID string, stage canonical.Stage, configSHA, rulesSHA string, inputs []string) (string, error) {
	sorted := append([]string(nil), inputs...)
	sort.Strings(sorted)
	if sorted == nil {
		sorted = []string{}
	}
	sum, err := canonicalize.CanonicalHash(jobKeyInput{
		MessageID: messageID,
		Stage:     stage,
		ConfigSHA: configSHA,
		RulesSHA:  rulesSHA,
		Inputs:    sorted,
	})
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, stage, "job_key_failed", err)
	}
	return sum, nil
}
