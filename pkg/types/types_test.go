// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "testing"

func TestHypothesisIDNormalizes(t *testing.T) {
	base := HypothesisID("Metformin", "AMPK activation", "Leukemia")
	if len(base) != 12 {
		t.Fatalf("ID length = %d, want 12", len(base))
	}

	same := []struct {
		drug, mechanism, target string
	}{
		{"metformin", "ampk activation", "leukemia"},
		{"  Metformin ", "AMPK activation", "Leukemia  "},
		{"METFORMIN", "AMPK ACTIVATION", "LEUKEMIA"},
	}
	for _, s := range same {
		if got := HypothesisID(s.drug, s.mechanism, s.target); got != base {
			t.Errorf("HypothesisID(%q, %q, %q) = %s, want %s", s.drug, s.mechanism, s.target, got, base)
		}
	}

	if HypothesisID("Aspirin", "AMPK activation", "Leukemia") == base {
		t.Error("different drugs produced the same ID")
	}
}

func TestValidationStatusRank(t *testing.T) {
	ordered := []ValidationStatus{StatusConfirmed, StatusPartial, StatusError, StatusUnverified}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() <= ordered[i].Rank() {
			t.Errorf("%s should rank above %s", ordered[i-1], ordered[i])
		}
	}
	if ValidationStatus("bogus").Rank() != -1 {
		t.Errorf("unknown status rank = %d, want -1", ValidationStatus("bogus").Rank())
	}
}
