package decision

import (
	"encoding/json"
	"strings"

	"github.com/intake-labs/ire/pkg/fault"
)

// excludedNames are member names that must never appear in a canonical
// decision input. Suffix entries (leading "*") match any member ending
// with the rest of the pattern, which covers the timestamp family.
var excludedNames = []string{
	"run_id",
	"event_id",
	"hostname",
	"worker_id",
	"random_seed",
	"*_at",
}

// CheckExcluded walks a canonical JSON document and rejects any object
// member whose name matches the exclusion list. It runs on every hash
// computation, not just in tests, so a refactor that reintroduces a
// timestamp fails at the first decision instead of drifting silently.
func CheckExcluded(canonicalJSON []byte) error {
	var doc any
	if err := json.Unmarshal(canonicalJSON, &doc); err != nil {
		return fault.Wrap(fault.KindInternal, "", "decision_input_not_json", err)
	}
	if name := firstExcluded(doc); name != "" {
		return fault.New(fault.KindIntegrity, "", "decision_input_excluded_field:"+name)
	}
	return nil
}

func firstExcluded(v any) string {
	switch t := v.(type) {
	case map[string]any:
		for name, child := range t {
			if matchesExcluded(name) {
				return name
			}
			if found := firstExcluded(child); found != "" {
				return found
			}
		}
	case []any:
		for _, child := range t {
			if found := firstExcluded(child); found != "" {
				return found
			}
		}
	}
	return ""
}

func matchesExcluded(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range excludedNames {
		if rest, ok := strings.CutPrefix(pattern, "*"); ok {
			if strings.HasSuffix(lower, rest) {
				return true
			}
			continue
		}
		if lower == pattern {
			return true
		}
	}
	return false
}
