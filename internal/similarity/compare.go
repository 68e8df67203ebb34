package similarity

// MatchLabel buckets a similarity score into a coarse level.
type MatchLabel string

// Match labels, strongest to weakest.
const (
	MatchExact  MatchLabel = "exact"
	MatchHigh   MatchLabel = "high"
	MatchMedium MatchLabel = "medium"
	MatchLow    MatchLabel = "low"
	MatchNone   MatchLabel = "none"
)

// Score thresholds for the match labels. Auto-approval and suggestion logic
// key off these boundaries.
const (
	ThresholdExact  = 0.98
	ThresholdHigh   = 0.90
	ThresholdMedium = 0.75
	ThresholdLow    = 0.60
)

// LabelFor maps a score in [0,1] to its match label.
func LabelFor(score float64) MatchLabel {
	switch {
	case score >= ThresholdExact:
		return MatchExact
	case score >= ThresholdHigh:
		return MatchHigh
	case score >= ThresholdMedium:
		return MatchMedium
	case score >= ThresholdLow:
		return MatchLow
	default:
		return MatchNone
	}
}

// Compare returns the similarity of two statements in [0,1] after normalizing
// both at the given level. The result is symmetric and Compare(a, a) == 1.
func Compare(a, b string, level Level) float64 {
	na := Normalize(a, level)
	nb := Normalize(b, level)
	return ratio(na, nb)
}

// ratio is a normalized edit-distance similarity: 1 - dist/max(len).
func ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	dist := levenshtein(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 1.0 - float64(dist)/float64(longest)
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(a, b string) int {
	if len(a) < len(b) {
		a, b = b, a
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
