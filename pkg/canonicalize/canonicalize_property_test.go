//go:build property
// +build property

// Property-based tests for the canonicalization core. Every hash that
// feeds dedup, replay comparison or the audit chain is derived here, so
// these functions must be deterministic and idempotent for arbitrary
// input, not just for the fixtures the unit tests use.
package canonicalize_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/intake-labs/ire/pkg/canonicalize"
)

// TestCanonicalSubjectIdempotent verifies that canonicalizing an
// already-canonical subject changes nothing.
func TestCanonicalSubjectIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("subject canonicalization is idempotent", prop.ForAll(
		func(s string) bool {
			once := canonicalize.CanonicalSubject(s)
			return canonicalize.CanonicalSubject(once) == once
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestCanonicalBodyIdempotent verifies the same for bodies, including
// ones that contain CR, CRLF and quoted-reply markers.
func TestCanonicalBodyIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("body canonicalization is idempotent", prop.ForAll(
		func(s string) bool {
			once := canonicalize.CanonicalBody(s)
			return canonicalize.CanonicalBody(once) == once
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestFingerprintAttachmentOrderInsensitive verifies the message
// fingerprint does not depend on the order attachments arrived in.
func TestFingerprintAttachmentOrderInsensitive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("fingerprint ignores attachment order", prop.ForAll(
		func(subject, body string, shas []string) bool {
			fp1, err1 := canonicalize.MessageFingerprint(subject, body, shas)

			reversed := make([]string, len(shas))
			for i, s := range shas {
				reversed[len(shas)-1-i] = s
			}
			fp2, err2 := canonicalize.MessageFingerprint(subject, body, reversed)

			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return fp1 == fp2
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestCanonicalHashDeterministic verifies JCS hashing of a map is stable
// across calls regardless of Go's map iteration order.
func TestCanonicalHashDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical hash is deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}

			h1, err1 := canonicalize.CanonicalHash(obj)
			h2, err2 := canonicalize.CanonicalHash(obj)

			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestVerbatimAtRoundTrip verifies that any span cut out of a canonical
// body verifies as verbatim evidence at its own offsets.
func TestVerbatimAtRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("extracted spans verify at their offsets", prop.ForAll(
		func(body string, a, b int) bool {
			text := canonicalize.CanonicalBody(body)
			if len(text) == 0 {
				return true
			}
			start := a % len(text)
			end := start + 1 + b%(len(text)-start)
			return canonicalize.VerbatimAt(text, text[start:end], start, end)
		},
		gen.AnyString(),
		gen.IntRange(0, 1<<20),
		gen.IntRange(0, 1<<20),
	))

	properties.TestingRun(t)
}
