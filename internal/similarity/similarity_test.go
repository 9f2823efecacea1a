package similarity

import (
	"math"
	"testing"
)

func TestLevenshtein(t *testing.T) {
	if d := Levenshtein("kitten", "sitting"); d != 3 {
		t.Fatalf("expected kitten/sitting distance 3, got %d", d)
	}
	for _, s := range []string{"", "a", "alice@example.com", "ünïcode"} {
		if d := Levenshtein(s, s); d != 0 {
			t.Errorf("expected distance 0 for %q, got %d", s, d)
		}
		if r := Ratio(s, s); r != 1 {
			t.Errorf("expected ratio 1 for %q, got %f", s, r)
		}
	}
	if d := Levenshtein("", "abc"); d != 3 {
		t.Fatalf("expected distance 3 from empty, got %d", d)
	}
}

func TestRatio(t *testing.T) {
	if r := Ratio("", ""); r != 1 {
		t.Fatalf("expected empty ratio 1, got %f", r)
	}
	got := Ratio("kitten", "sitting")
	want := float64(7-3) / 7
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		kind, in, want string
	}{
		{"phone", "+1 (555) 123-4567", "15551234567"},
		{"address", "123 Main Street, Apt. 4", "123 main apt 4"},
		{"address", "123 MAIN St.", "123 main"},
		{"name", "  O'Brien, Pat ", "obrien pat"},
		{"email", "  Alice@Example.COM ", "alice@example.com"},
		{"username", "Ghost_Rider", "ghost_rider"},
	}
	for _, c := range cases {
		if got := Normalize(c.kind, c.in); got != c.want {
			t.Errorf("Normalize(%s, %q) = %q, want %q", c.kind, c.in, got, c.want)
		}
	}
}

func TestScorePhone(t *testing.T) {
	if s := Score("phone", "(555) 123-4567", "555.123.4567"); s != 0.9 {
		t.Fatalf("expected formatting-only phone difference to score 0.9, got %f", s)
	}
	if s := Score("phone", "+1 555 123 4567", "555-123-4567"); s != 0.9 {
		t.Fatalf("expected shared last seven digits to score 0.9, got %f", s)
	}
	if s := Score("phone", "123", "124"); s >= 0.9 {
		t.Fatalf("short phone numbers should fall through to edit distance, got %f", s)
	}
}

func TestThresholdBands(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		score float64
		want  Action
		ok    bool
	}{
		{0.99, ActionMerge, true},
		{0.95, ActionMerge, true},
		{0.94, ActionHypothetical, true},
		{0.8, ActionHypothetical, true},
		{0.79, ActionReview, true},
		{0.6, ActionReview, true},
		{0.59, "", false},
	}
	for _, c := range cases {
		got, ok := th.Action(c.score)
		if got != c.want || ok != c.ok {
			t.Errorf("Action(%v) = %q,%v want %q,%v", c.score, got, ok, c.want, c.ok)
		}
	}
}

func TestFindSimilarOrderingAndBands(t *testing.T) {
	candidate := "jonathan.doe.researc@example.com"
	pool := []Candidate{
		{EntityID: "node_1", Value: "jonathan.doe@example.com"},
		{EntityID: "node_2", Value: "jonathan.doe.research@example.com"},
		{EntityID: "node_3", Value: "zzz@q.io"},
		{EntityID: "node_4", Value: candidate},
		{EntityID: "node_5", Value: "jonathan.do.researc@exampl.com"},
	}

	matches := FindSimilar(candidate, "email", pool, Thresholds{})
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d: %+v", len(matches), matches)
	}
	if matches[0].EntityID != "node_2" || matches[0].SuggestedAction != ActionMerge {
		t.Fatalf("expected node_2 merge first, got %+v", matches[0])
	}
	if matches[1].EntityID != "node_5" || matches[1].SuggestedAction != ActionHypothetical {
		t.Fatalf("expected node_5 hypothetical second, got %+v", matches[1])
	}
	if matches[2].EntityID != "node_1" || matches[2].SuggestedAction != ActionReview {
		t.Fatalf("expected node_1 review third, got %+v", matches[2])
	}
	for _, m := range matches {
		if m.Score >= 1 {
			t.Fatalf("exact match leaked into results: %+v", m)
		}
	}
}

func TestFindSimilarExcludesNormalizedExact(t *testing.T) {
	pool := []Candidate{{EntityID: "node_1", Value: "123 Main Street"}}
	if matches := FindSimilar("123 main st.", "address", pool, DefaultThresholds()); len(matches) != 0 {
		t.Fatalf("expected normalized-exact address to be excluded, got %+v", matches)
	}
}
