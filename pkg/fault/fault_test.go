package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrap_NilPassthrough(t *testing.T) {
	if err := Wrap(KindValidation, "CLASSIFY", "schema_invalid", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(KindDependencyUnavailable, "IDENTITY", "directory_unavailable", base)
	wrapped := fmt.Errorf("resolver: %w", err)

	if KindOf(wrapped) != KindDependencyUnavailable {
		t.Errorf("expected dependency kind, got %s", KindOf(wrapped))
	}
	if ReasonOf(wrapped) != "directory_unavailable" {
		t.Errorf("expected reason preserved, got %q", ReasonOf(wrapped))
	}
	if !errors.Is(wrapped, base) {
		t.Error("cause should survive wrapping")
	}
}

func TestKindOf_Untagged(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("untagged errors must classify as internal")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(KindDependencyUnavailable, "CASE", "case_adapter_timeout")) {
		t.Error("dependency faults are retryable")
	}
	if Retryable(New(KindValidation, "CLASSIFY", "schema_invalid")) {
		t.Error("validation faults are never retryable")
	}
	if Retryable(New(KindSafetyOverride, "ROUTE", "malware")) {
		t.Error("safety overrides are never retryable")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{New(KindValidation, "", "schema_invalid"), ExitSchemaValidation},
		{New(KindSafetyOverride, "", "malware"), ExitSecurityPolicy},
		{New(KindDependencyUnavailable, "", "timeout"), ExitDependency},
		{New(KindDeterminismViolation, "", "determinism_cache_miss"), ExitFailClosedRequired},
		{New(KindIntegrity, "", "chain_broken"), ExitIntegrity},
		{errors.New("unclassified"), ExitInvalidInput},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
