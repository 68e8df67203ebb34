package similarity

import "sort"

// Candidate is one statement from a caller-supplied population (whitelist
// entries or historical statements). The engine performs no I/O itself.
type Candidate struct {
	// ID identifies the candidate in its source collection.
	ID string
	// Text is the candidate statement text.
	Text string
}

// Match is an ephemeral comparison result against one candidate.
type Match struct {
	// CandidateID is the matched candidate's ID.
	CandidateID string `json:"candidate_id"`
	// Text is the matched candidate's statement text.
	Text string `json:"text"`
	// Score is the similarity in [0,1].
	Score float64 `json:"score"`
	// Label is the threshold bucket for Score.
	Label MatchLabel `json:"label"`
}

// FindSimilar compares the statement against every candidate at the given
// level and returns matches scoring at or above minScore, sorted by
// descending score. Ties keep the candidates' input order.
func FindSimilar(text string, candidates []Candidate, minScore float64, level Level) []Match {
	normalized := Normalize(text, level)

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		score := ratio(normalized, Normalize(c.Text, level))
		if score < minScore {
			continue
		}
		matches = append(matches, Match{
			CandidateID: c.ID,
			Text:        c.Text,
			Score:       score,
			Label:       LabelFor(score),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches
}

// Best returns the highest-scoring match, or false when none qualify.
func Best(text string, candidates []Candidate, minScore float64, level Level) (Match, bool) {
	matches := FindSimilar(text, candidates, minScore, level)
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}
