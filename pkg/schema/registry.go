// Package schema holds the compiled JSON Schema registry for every artifact
// contract. Stage outputs are validated here before they reach a store;
// validation failure is the trigger for fail-closed handling.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/intake-labs/ire/pkg/fault"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Registry maps schema URNs to compiled validators.
type Registry struct {
	compiled map[string]*jsonschema.Schema
	raw      map[string][]byte
}

// NewRegistry compiles every embedded schema document.
func NewRegistry() (*Registry, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("schema: reading embedded documents: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true

	raw := make(map[string][]byte, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := fs.ReadFile(schemaFS, "schemas/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("schema: reading %s: %w", e.Name(), err)
		}
		var doc struct {
			ID string `json:"$id"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("schema: parsing %s: %w", e.Name(), err)
		}
		if doc.ID == "" {
			return nil, fmt.Errorf("schema: %s has no $id", e.Name())
		}
		if err := c.AddResource(doc.ID, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema: registering %s: %w", doc.ID, err)
		}
		raw[doc.ID] = data
		ids = append(ids, doc.ID)
	}

	compiled := make(map[string]*jsonschema.Schema, len(ids))
	for _, id := range ids {
		s, err := c.Compile(id)
		if err != nil {
			return nil, fmt.Errorf("schema: compiling %s: %w", id, err)
		}
		compiled[id] = s
	}
	return &Registry{compiled: compiled, raw: raw}, nil
}

// Has reports whether a schema URN is registered.
func (r *Registry) Has(schemaID string) bool {
	_, ok := r.compiled[schemaID]
	return ok
}

// IDs lists the registered schema URNs.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.compiled))
	for id := range r.compiled {
		out = append(out, id)
	}
	return out
}

// Validate checks a Go value against the named schema. The value is passed
// through its JSON encoding so struct tags apply.
func (r *Registry) Validate(schemaID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fault.Wrap(fault.KindValidation, "", "artifact_not_serializable", err)
	}
	return r.ValidateBytes(schemaID, data)
}

// ValidateBytes checks a raw JSON document against the named schema.
func (r *Registry) ValidateBytes(schemaID string, data []byte) error {
	s, ok := r.compiled[schemaID]
	if !ok {
		return fault.New(fault.KindValidation, "", "unknown_schema_id")
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fault.Wrap(fault.KindValidation, "", "artifact_not_json", err)
	}
	if err := s.Validate(doc); err != nil {
		return fault.Wrap(fault.KindValidation, "", "schema_invalid", err)
	}
	return nil
}
