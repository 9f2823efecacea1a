// Package similarity scores candidate entity values against existing entities
// of the same kind.
//
// Scoring is edit-distance based after a per-kind normalization pass. Exact
// matches are not reported here: those are resolved by the value index.
package similarity

import (
	"regexp"
	"sort"
	"strings"
)

// Action is the suggested handling for a near-duplicate.
type Action string

const (
	ActionMerge        Action = "merge"
	ActionHypothetical Action = "hypothetical"
	ActionReview       Action = "review"
)

const (
	// DefaultMergeThreshold and above suggests merging into the existing entity.
	DefaultMergeThreshold = 0.95
	// DefaultHypotheticalThreshold and above suggests a hypothetical link.
	DefaultHypotheticalThreshold = 0.8
	// DefaultReviewThreshold and above is surfaced for review. Below it the match is dropped.
	DefaultReviewThreshold = 0.6

	// phoneNearExact is assigned to phone numbers sharing all digits or the last seven.
	phoneNearExact  = 0.9
	phoneTailDigits = 7
)

// Thresholds holds the score bands. They are tuned heuristics; keep them configurable.
type Thresholds struct {
	Merge        float64 `json:"merge" yaml:"merge_threshold"`
	Hypothetical float64 `json:"hypothetical" yaml:"hypothetical_threshold"`
	Review       float64 `json:"review" yaml:"review_threshold"`
}

// DefaultThresholds returns the stock score bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Merge:        DefaultMergeThreshold,
		Hypothetical: DefaultHypotheticalThreshold,
		Review:       DefaultReviewThreshold,
	}
}

// Normalized fills zero bands with defaults.
func (t Thresholds) Normalized() Thresholds {
	d := DefaultThresholds()
	if t.Merge <= 0 {
		t.Merge = d.Merge
	}
	if t.Hypothetical <= 0 {
		t.Hypothetical = d.Hypothetical
	}
	if t.Review <= 0 {
		t.Review = d.Review
	}
	return t
}

// Action maps a score to its band. ok is false below the review band.
func (t Thresholds) Action(score float64) (Action, bool) {
	switch {
	case score >= t.Merge:
		return ActionMerge, true
	case score >= t.Hypothetical:
		return ActionHypothetical, true
	case score >= t.Review:
		return ActionReview, true
	default:
		return "", false
	}
}

// Candidate is an existing entity eligible for comparison.
type Candidate struct {
	EntityID string
	Value    string
}

// Match is a scored near-duplicate.
type Match struct {
	EntityID        string  `json:"entity_id"`
	Value           string  `json:"value"`
	Score           float64 `json:"score"`
	SuggestedAction Action  `json:"suggested_action"`
}

var (
	streetTokenRE = regexp.MustCompile(`\b(street|st|avenue|ave|road|rd|drive|dr|lane|ln|boulevard|blvd|court|ct)\b`)
	punctRE       = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// Normalize applies the per-kind normalization used before scoring.
func Normalize(kind, value string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "phone":
		return digitsOnly(value)
	case "address":
		v := strings.ToLower(value)
		v = streetTokenRE.ReplaceAllString(v, " ")
		v = punctRE.ReplaceAllString(v, "")
		return strings.Join(strings.Fields(v), " ")
	case "name":
		v := strings.ToLower(strings.TrimSpace(value))
		return strings.TrimSpace(punctRE.ReplaceAllString(v, ""))
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

// Score compares a candidate value with an existing value of the same kind.
func Score(kind, candidate, existing string) float64 {
	a := Normalize(kind, candidate)
	b := Normalize(kind, existing)
	if strings.EqualFold(strings.TrimSpace(kind), "phone") {
		// Full digit equality only reaches here on formatting differences,
		// so it is near-exact rather than exact.
		if a != "" && a == b {
			return phoneNearExact
		}
		if len(a) >= phoneTailDigits && len(b) >= phoneTailDigits &&
			a[len(a)-phoneTailDigits:] == b[len(b)-phoneTailDigits:] {
			return phoneNearExact
		}
	}
	return Ratio(a, b)
}

// FindSimilar scores candidate against pool and returns matches at or above the
// review band, best first. Exact matches (score 1) are excluded.
func FindSimilar(candidate, kind string, pool []Candidate, th Thresholds) []Match {
	th = th.Normalized()
	matches := make([]Match, 0)
	for _, c := range pool {
		score := Score(kind, candidate, c.Value)
		if score >= 1 {
			continue
		}
		action, ok := th.Action(score)
		if !ok {
			continue
		}
		matches = append(matches, Match{
			EntityID:        c.EntityID,
			Value:           c.Value,
			Score:           score,
			SuggestedAction: action,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].EntityID < matches[j].EntityID
	})
	return matches
}

// Ratio is (max(len) - levenshtein) / max(len). Two empty strings are identical.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	ar := []rune(a)
	br := []rune(b)
	maxLen := len(ar)
	if len(br) > maxLen {
		maxLen = len(br)
	}
	if maxLen == 0 {
		return 1
	}
	return float64(maxLen-Levenshtein(a, b)) / float64(maxLen)
}

// Levenshtein returns the unit-cost edit distance between a and b.
func Levenshtein(a, b string) int {
	ar := []rune(a)
	br := []rune(b)

	// rows index b, columns index a
	d := make([][]int, len(br)+1)
	for i := range d {
		d[i] = make([]int, len(ar)+1)
		d[i][0] = i
	}
	for j := 0; j <= len(ar); j++ {
		d[0][j] = j
	}
	for i := 1; i <= len(br); i++ {
		for j := 1; j <= len(ar); j++ {
			cost := 1
			if br[i-1] == ar[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
		}
	}
	return d[len(br)][len(ar)]
}

func digitsOnly(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
