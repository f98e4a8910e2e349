package models

// EntityKind is the kind of host entity the tagger resolves.
type EntityKind string

const (
	EntityTag       EntityKind = "tag"
	EntityPerformer EntityKind = "performer"
	EntityStudio    EntityKind = "studio"
)

// Confidence is the tier derived from a similarity score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// MatchStatus is the per-match resolution state.
type MatchStatus string

const (
	MatchUnmatched MatchStatus = "unmatched"
	MatchMatched   MatchStatus = "matched"
	MatchSkipped   MatchStatus = "skipped"
)

type (
	Entity struct {
		ID      string     `json:"id,omitempty"`
		Kind    EntityKind `json:"kind"`
		Name    string     `json:"name"`
		Aliases []string   `json:"aliases,omitempty"`
	}

	MatchCandidate struct {
		Entity     Entity     `json:"entity"`
		Score      int        `json:"score"` // 0-100
		Confidence Confidence `json:"confidence"`
	}

	// EntityMatch pairs a local entity with its remote candidates, best first.
	EntityMatch struct {
		Local      Entity           `json:"local"`
		Candidates []MatchCandidate `json:"candidates"`
		Status     MatchStatus      `json:"status"`
		Selected   *MatchCandidate  `json:"selected,omitempty"`
	}
)

// ConfidenceFor maps a score to its tier.
func ConfidenceFor(score int) Confidence {
	switch {
	case score >= 95:
		return ConfidenceHigh
	case score >= 70:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// AutoMatchEligible reports whether score reaches the configured threshold.
func AutoMatchEligible(score, threshold int) bool {
	return score >= threshold
}
