// Package artifact defines the reference and evidence types shared by
// stage outputs, audit events, and the content-addressed stores. Every
// persisted artifact is referenced by {schema_id, uri, sha256} and never
// mutated; new versions replace references.
package artifact

import (
	"unicode/utf8"

	"github.com/intake-labs/ire/pkg/canonicalize"
)

// MaxSnippetBytes bounds a redacted evidence snippet.
const MaxSnippetBytes = 200

// Ref points at one immutable artifact.
type Ref struct {
	SchemaID string `json:"schema_id"`
	URI      string `json:"uri,omitempty"`
	SHA256   string `json:"sha256"`
}

// NewRef builds a ref for content about to be stored under uri.
func NewRef(schemaID, uri string, content []byte) Ref {
	return Ref{SchemaID: schemaID, URI: uri, SHA256: canonicalize.Digest(content)}
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool { return r.SchemaID == "" && r.SHA256 == "" }

// RulesRef pins the routing ruleset a decision was made under.
type RulesRef struct {
	Path    string `json:"path"`
	SHA256  string `json:"sha256"`
	Version string `json:"version"`
}

// Evidence is a redacted span of source text backing a decision field.
// Snippet is the verbatim text at [Start,End) in the source identified
// by SourceRef, and SnippetSHA256 is the digest of exactly those bytes.
type Evidence struct {
	Snippet       string `json:"snippet"`
	SnippetSHA256 string `json:"snippet_sha256"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	SourceRef     string `json:"source_ref"`
}

// NewEvidence cuts the span [start,end) out of text. Spans longer than
// MaxSnippetBytes are shortened from the end, staying on a rune
// boundary, and the recorded End moves with the cut so the snippet
// remains verbatim at its offsets.
func NewEvidence(text string, start, end int, sourceRef string) Evidence {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if end < start {
		end = start
	}
	for end-start > MaxSnippetBytes {
		_, size := utf8.DecodeLastRuneInString(text[start:end])
		if size <= 0 {
			break
		}
		end -= size
	}
	snippet := text[start:end]
	return Evidence{
		Snippet:       snippet,
		SnippetSHA256: canonicalize.SnippetSHA256(snippet),
		Start:         start,
		End:           end,
		SourceRef:     sourceRef,
	}
}

// Verify reports whether the snippet is verbatim at its offsets in text
// and its stored hash matches the snippet bytes.
func (e Evidence) Verify(text string) bool {
	if !canonicalize.VerbatimAt(text, e.Snippet, e.Start, e.End) {
		return false
	}
	return canonicalize.SnippetSHA256(e.Snippet) == e.SnippetSHA256
}
