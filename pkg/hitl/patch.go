package hitl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// PatchOp is one RFC 6902 operation from the supported subset. Remove
// carries no value; add and replace require one.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Supported patch operations. copy/move/test are outside the
// correction contract.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

func validatePatch(ops []PatchOp) error {
	if len(ops) == 0 {
		return fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_empty")
	}
	for _, op := range ops {
		switch op.Op {
		case OpAdd, OpReplace:
			if op.Value == nil {
				return fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_missing_value")
			}
		case OpRemove:
		default:
			return fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unknown_op")
		}
		if !strings.HasPrefix(op.Path, "/") {
			return fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_bad_path")
		}
	}
	return nil
}

func decodeSegment(seg string) string {
	seg = strings.ReplaceAll(seg, "~1", "/")
	return strings.ReplaceAll(seg, "~0", "~")
}

func splitPointer(path string) []string {
	parts := strings.Split(path, "/")[1:]
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = decodeSegment(p)
	}
	return out
}

// resolveParent walks the document to the container holding the final
// segment. Intermediate segments must already exist.
func resolveParent(doc any, path string) (any, string, error) {
	parts := splitPointer(path)
	parent := doc
	for _, seg := range parts[:len(parts)-1] {
		switch node := parent.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, "", fmt.Errorf("segment not found: %s", seg)
			}
			parent = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, "", fmt.Errorf("bad array index: %s", seg)
			}
			parent = node[idx]
		default:
			return nil, "", fmt.Errorf("cannot traverse into %T", parent)
		}
	}
	return parent, parts[len(parts)-1], nil
}

// ApplyPatch applies the subset operations to a decoded JSON document
// and returns the modified document. The input is mutated in place for
// container types; callers patch a throwaway decode of the artifact.
func ApplyPatch(doc any, ops []PatchOp) (any, error) {
	if err := validatePatch(ops); err != nil {
		return nil, err
	}
	for _, op := range ops {
		parent, key, err := resolveParent(doc, op.Path)
		if err != nil {
			return nil, fault.Wrap(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable", err)
		}
		switch node := parent.(type) {
		case map[string]any:
			if err := applyToObject(node, op, key); err != nil {
				return nil, err
			}
		case []any:
			replaced, err := applyToArray(node, op, key)
			if err != nil {
				return nil, err
			}
			// The slice header may change; rewrite it into its own parent.
			if err := writeBack(doc, op.Path, replaced); err != nil {
				return nil, err
			}
		default:
			return nil, fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
		}
	}
	return doc, nil
}

func applyToObject(node map[string]any, op PatchOp, key string) error {
	switch op.Op {
	case OpAdd:
		node[key] = op.Value
	case OpReplace:
		if _, ok := node[key]; !ok {
			return fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
		}
		node[key] = op.Value
	case OpRemove:
		if _, ok := node[key]; !ok {
			return fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
		}
		delete(node, key)
	}
	return nil
}

func applyToArray(node []any, op PatchOp, key string) ([]any, error) {
	if key == "-" {
		if op.Op != OpAdd {
			return nil, fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
		}
		return append(node, op.Value), nil
	}
	idx, err := strconv.Atoi(key)
	if err != nil || idx < 0 {
		return nil, fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
	}
	switch op.Op {
	case OpAdd:
		if idx > len(node) {
			return nil, fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
		}
		out := append(node[:idx:idx], append([]any{op.Value}, node[idx:]...)...)
		return out, nil
	case OpReplace:
		if idx >= len(node) {
			return nil, fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
		}
		node[idx] = op.Value
		return node, nil
	case OpRemove:
		if idx >= len(node) {
			return nil, fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
		}
		return append(node[:idx], node[idx+1:]...), nil
	}
	return node, nil
}

// writeBack re-attaches a reallocated array to the segment above it.
func writeBack(doc any, path string, value []any) error {
	parts := splitPointer(path)
	if len(parts) < 2 {
		return fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
	}
	arrayPath := "/" + strings.Join(parts[:len(parts)-1], "/")
	parent, key, err := resolveParent(doc, arrayPath)
	if err != nil {
		return fault.Wrap(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable", err)
	}
	switch node := parent.(type) {
	case map[string]any:
		node[key] = value
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(node) {
			return fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
		}
		node[idx] = value
	default:
		return fault.New(fault.KindValidation, canonical.StageHITL, "correction_patch_unapplicable")
	}
	return nil
}
