package similarity

import (
	"strings"
	"testing"
)

func TestNormalize_Deterministic(t *testing.T) {
	texts := []string{
		"SELECT * FROM orders WHERE id = 42",
		"DELETE FROM audit_log -- cleanup\nWHERE created < '2024-01-01'",
		"select a,\n\tb  from t /* hint */ where x in (1,2,3)",
	}

	for _, text := range texts {
		for _, level := range []Level{LevelBasic, LevelMedium, LevelHigh} {
			first := Normalize(text, level)
			for i := 0; i < 3; i++ {
				if got := Normalize(text, level); got != first {
					t.Errorf("Normalize(%q, %s) not deterministic: %q vs %q", text, level, first, got)
				}
			}
		}
	}
}

func TestNormalize_Basic(t *testing.T) {
	got := Normalize("SELECT a -- trailing\nFROM   t /* block\ncomment */ WHERE x = 1", LevelBasic)
	want := "SELECT a FROM t WHERE x = 1"
	if got != want {
		t.Errorf("Normalize basic = %q, want %q", got, want)
	}
}

func TestNormalize_MediumLiterals(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT * FROM t WHERE x = 42", "select * from t where x = ?"},
		{"SELECT * FROM t WHERE name = 'bob'", "select * from t where name = ?"},
		{"SELECT * FROM t WHERE id IN (1, 2, 3)", "select * from t where id in (?)"},
		{"SELECT * FROM t WHERE x BETWEEN 1 AND 99", "select * from t where x between ? and ?"},
		{"SELECT a AS alias FROM t", "select a as ? from t"},
	}

	for _, tc := range tests {
		if got := Normalize(tc.in, LevelMedium); got != tc.want {
			t.Errorf("Normalize(%q, medium) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_HighStructuralShape(t *testing.T) {
	a := Normalize("SELECT id FROM orders WHERE x = 1 ORDER BY id LIMIT 5", LevelHigh)
	b := Normalize("SELECT name FROM customers WHERE y = 'z' ORDER BY name LIMIT 99", LevelHigh)
	if a != b {
		t.Errorf("structurally identical statements differ at high level: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "select") {
		t.Errorf("shape should start with statement kind, got %q", a)
	}

	c := Normalize("DELETE FROM orders", LevelHigh)
	if a == c {
		t.Errorf("select and delete shapes should differ, both %q", a)
	}
}

func TestCompare_Symmetry(t *testing.T) {
	pairs := [][2]string{
		{"SELECT * FROM orders", "SELECT * FROM orders WHERE id = 1"},
		{"DELETE FROM t WHERE a = 1", "UPDATE t SET a = 2"},
		{"SELECT a FROM t", "SELECT a FROM t"},
	}

	for _, p := range pairs {
		for _, level := range []Level{LevelBasic, LevelMedium, LevelHigh} {
			ab := Compare(p[0], p[1], level)
			ba := Compare(p[1], p[0], level)
			if ab != ba {
				t.Errorf("Compare not symmetric at %s: %v vs %v", level, ab, ba)
			}
			if ab < 0 || ab > 1 {
				t.Errorf("Compare out of range: %v", ab)
			}
		}
	}
}

func TestCompare_SelfMatch(t *testing.T) {
	for _, level := range []Level{LevelBasic, LevelMedium, LevelHigh} {
		if got := Compare("SELECT * FROM orders WHERE id = 7", "SELECT * FROM orders WHERE id = 7", level); got != 1.0 {
			t.Errorf("self compare at %s = %v, want 1.0", level, got)
		}
	}
}

func TestCompare_LiteralOnlyDifference(t *testing.T) {
	a := "SELECT * FROM orders WHERE customer_id = 12345"
	b := "SELECT * FROM orders WHERE customer_id = 99"
	score := Compare(a, b, LevelMedium)
	if score < ThresholdExact {
		t.Errorf("literal-only difference scored %v, want >= %v", score, ThresholdExact)
	}
}

func TestLabelFor_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		label MatchLabel
	}{
		{1.0, MatchExact},
		{0.98, MatchExact},
		{0.979, MatchHigh},
		{0.90, MatchHigh},
		{0.899, MatchMedium},
		{0.75, MatchMedium},
		{0.749, MatchLow},
		{0.60, MatchLow},
		{0.599, MatchNone},
		{0.0, MatchNone},
	}

	for _, tc := range tests {
		if got := LabelFor(tc.score); got != tc.label {
			t.Errorf("LabelFor(%v) = %s, want %s", tc.score, got, tc.label)
		}
	}
}

func TestFindSimilar_SortedDescending(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Text: "SELECT * FROM customers"},
		{ID: "b", Text: "SELECT * FROM orders WHERE id = 5"},
		{ID: "c", Text: "DROP TABLE unrelated_things_entirely"},
	}

	matches := FindSimilar("SELECT * FROM orders WHERE id = 9", candidates, 0.1, LevelMedium)
	if len(matches) == 0 {
		t.Fatal("expected matches")
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("matches not sorted: %v before %v", matches[i-1].Score, matches[i].Score)
		}
	}
	if matches[0].CandidateID != "b" {
		t.Errorf("best match = %s, want b", matches[0].CandidateID)
	}
	if matches[0].Label != MatchExact {
		t.Errorf("best match label = %s, want exact", matches[0].Label)
	}
}

func TestFindSimilar_MinScoreFilters(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Text: "completely different text about nothing"},
	}
	matches := FindSimilar("SELECT * FROM orders", candidates, 0.9, LevelMedium)
	if len(matches) != 0 {
		t.Errorf("expected no matches above 0.9, got %v", matches)
	}
}

func TestFingerprint_StableAndLiteralInsensitive(t *testing.T) {
	a := Fingerprint("SELECT * FROM t WHERE id = 1", LevelMedium)
	b := Fingerprint("SELECT * FROM t WHERE id = 2", LevelMedium)
	c := Fingerprint("SELECT * FROM t WHERE id = 1", LevelMedium)

	if a != c {
		t.Error("fingerprint not stable for identical text")
	}
	if a != b {
		t.Error("fingerprints should match when only literals differ at medium level")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}

	d := Fingerprint("DELETE FROM t", LevelMedium)
	if a == d {
		t.Error("different statements should not collide")
	}
}
