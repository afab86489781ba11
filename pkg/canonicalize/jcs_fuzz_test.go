package canonicalize

import (
	"encoding/json"
	"testing"
)

func FuzzJCSRoundTrip(f *testing.F) {
	f.Add([]byte(`{"a":1,"b":2}`))
	f.Add([]byte(`{"z":{"y":"foo","x":"bar"},"a":1}`))
	f.Add([]byte(`{"html":"<script>alert('x')</script> &"}`))
	f.Add([]byte(`{"num":123.456,"bool":true,"null":null}`))
	f.Add([]byte(`{"arr":[3,1,2],"nested":{"deep":{"key":"val"}}}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"":"empty_key","a":""}`))
	f.Add([]byte(`{"unicode":"Polizzennummer präzise","emoji":"🚗"}`))
	f.Add([]byte(`{"escape":"line1\nline2\ttab"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip("invalid JSON input")
			return
		}

		first, err := JCS(v)
		if err != nil {
			return
		}

		// Canonical form is a fixed point: parsing it and canonicalizing
		// again must reproduce the same bytes.
		var reparsed any
		if err := json.Unmarshal(first, &reparsed); err != nil {
			t.Fatalf("canonical output is not valid JSON: %s", first)
		}
		second, err := JCS(reparsed)
		if err != nil {
			t.Fatalf("re-canonicalization failed: %v", err)
		}
		if string(first) != string(second) {
			t.Errorf("round-trip instability:\n first=%s\nsecond=%s", first, second)
		}

		h1, err := CanonicalHash(v)
		if err != nil {
			return
		}
		h2, err := CanonicalHash(reparsed)
		if err != nil {
			t.Fatalf("hash of reparsed form failed: %v", err)
		}
		if h1 != h2 {
			t.Errorf("hash changed across round-trip: %s != %s", h1, h2)
		}
	})
}
