package monitor

import "testing"

func TestFingerprint_KnownVectors(t *testing.T) {
	// WHAT: digest encoding is pinned: 32 chars of lowercase hex.
	// WHY: fingerprints are compared across process restarts, so the exact
	// encoding is part of the contract, not an implementation detail.
	cases := []struct {
		input string
		want  string
	}{
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"abc", "900150983cd24fb0d6963f7d28e17f72"},
	}
	for _, tc := range cases {
		if got := Fingerprint(tc.input); got != tc.want {
			t.Errorf("Fingerprint(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestFingerprint_StableAcrossCalls(t *testing.T) {
	in := `<rule id="x" RUN_DATE="2024-01-01">data v1</rule>`
	first := Fingerprint(in)
	for i := 0; i < 3; i++ {
		if got := Fingerprint(in); got != first {
			t.Fatalf("call %d: got %q, want %q", i, got, first)
		}
	}
}

func TestFingerprint_IgnoresVolatileFields(t *testing.T) {
	// WHAT: two documents that differ only in volatile fields fingerprint
	// identically; a payload change produces a different fingerprint.
	base := `<rule id="x" RUN_DATE="2024-01-01"><!-- run 1 -->data v1</rule>`
	restamped := `<rule id="x" RUN_DATE="2024-02-01"><!-- run 2 -->data v1</rule>`
	changed := `<rule id="x" RUN_DATE="2024-02-01"><!-- run 2 -->data v2</rule>`

	if Fingerprint(base) != Fingerprint(restamped) {
		t.Errorf("volatile-only difference changed the fingerprint")
	}
	if Fingerprint(base) == Fingerprint(changed) {
		t.Errorf("payload change did not change the fingerprint")
	}
}

func TestFingerprint_EqualsNormalizedFingerprint(t *testing.T) {
	// WHAT: fingerprinting raw text and its normalized form agree, because
	// normalization is idempotent.
	in := `<rule RUN_DATE="now"><!-- c -->payload</rule>`
	if Fingerprint(in) != Fingerprint(Normalize(in)) {
		t.Errorf("Fingerprint(raw) != Fingerprint(Normalize(raw))")
	}
}
