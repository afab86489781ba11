package schema

import (
	"encoding/json"
	"fmt"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// CrossCheck verifies that the enumerations embedded in the schema
// documents are byte-identical to the canonical registry. The registry is
// authoritative; any drift is an integrity failure, never reconciled at
// runtime.
func CrossCheck(r *Registry) error {
	checks := []struct {
		schemaID string
		path     []string
		want     []string
	}{
		{canonical.SchemaClassification, []string{"$defs", "intent", "enum"}, asStrings(canonical.Intents)},
		{canonical.SchemaClassification, []string{"$defs", "product", "enum"}, asStrings(canonical.ProductLines)},
		{canonical.SchemaClassification, []string{"$defs", "urgency", "enum"}, asStrings(canonical.Urgencies)},
		{canonical.SchemaClassification, []string{"$defs", "risk", "enum"}, asStrings(canonical.RiskFlags)},
		{canonical.SchemaRoutingDecision, []string{"properties", "queue_id", "enum"}, asStrings(canonical.Queues)},
		{canonical.SchemaRoutingDecision, []string{"properties", "sla_id", "enum"}, asStrings(canonical.SLAs)},
		{canonical.SchemaRoutingDecision, []string{"properties", "actions", "items", "enum"}, asStrings(canonical.Actions)},
		{canonical.SchemaIdentityResult, []string{"properties", "status", "enum"}, asStrings(canonical.IdentityStatuses)},
		{canonical.SchemaIdentityResult, []string{"$defs", "entity_type", "enum"}, asStrings(canonical.EntityTypes)},
		{canonical.SchemaAuditEvent, []string{"properties", "stage", "enum"}, asStrings(canonical.Stages)},
		{canonical.SchemaExtraction, []string{"properties", "entities", "items", "properties", "type", "enum"}, asStrings(canonical.ExtractedEntityTypes)},
		{canonical.SchemaAttachment, []string{"properties", "av", "properties", "status", "enum"}, asStrings(canonical.AVStatuses)},
	}

	for _, c := range checks {
		got, err := enumAt(r, c.schemaID, c.path)
		if err != nil {
			return fault.Wrap(fault.KindIntegrity, "", "schema_registry_drift", err)
		}
		if err := sameList(got, c.want); err != nil {
			return fault.Wrap(fault.KindIntegrity, "", "schema_registry_drift",
				fmt.Errorf("%s %v: %w", c.schemaID, c.path, err))
		}
	}

	for _, id := range canonical.SchemaIDs {
		if !r.Has(id) {
			return fault.Wrap(fault.KindIntegrity, "", "schema_registry_drift",
				fmt.Errorf("schema %s not embedded", id))
		}
	}
	return nil
}

func asStrings[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

func enumAt(r *Registry, schemaID string, path []string) ([]string, error) {
	raw, ok := r.raw[schemaID]
	if !ok {
		return nil, fmt.Errorf("schema %s not embedded", schemaID)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	cur := doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %v: not an object at %q", path, key)
		}
		cur, ok = m[key]
		if !ok {
			return nil, fmt.Errorf("path %v: missing key %q", path, key)
		}
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, fmt.Errorf("path %v: not an array", path)
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			continue // mixed enums may carry null
		}
		out = append(out, s)
	}
	return out, nil
}

func sameList(got, want []string) error {
	if len(got) != len(want) {
		return fmt.Errorf("schema lists %d values, registry has %d", len(got), len(want))
	}
	wantSet := make(map[string]bool, len(want))
	for _, w := range want {
		wantSet[w] = true
	}
	for _, g := range got {
		if !wantSet[g] {
			return fmt.Errorf("schema value %q not in registry", g)
		}
	}
	return nil
}
