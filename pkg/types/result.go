package types

import "time"

// MatchType tags which retrieval branch produced a result.
type MatchType string

const (
	MatchSemantic MatchType = "semantic"
	MatchLexical  MatchType = "lexical"
	MatchHybrid   MatchType = "hybrid"
)

// SimilarityResult is a single semantic match. Transient, constructed per query.
type SimilarityResult struct {
	MessageID      string
	ConversationID string
	Content        string
	Similarity     float64 // in [0,1]
	CreatedAt      time.Time
}

// ScoreBreakdown carries the per-branch scores that produced a hybrid result.
// A message found by only one branch contributes only that branch's weighted
// term to Combined.
type ScoreBreakdown struct {
	Semantic float64
	Lexical  float64
	Combined float64
}

// HybridResult is a single fused search result. Never persisted.
type HybridResult struct {
	MessageID      string
	ConversationID string
	Content        string
	Scores         ScoreBreakdown
	MatchType      MatchType
	Highlights     []string
	Explanation    string // populated only when the caller asks for it
	CreatedAt      time.Time
}

// Validate checks structural invariants on a fused result.
func (r *HybridResult) Validate() error {
	if r.MessageID == "" {
		return ErrValidation
	}
	if r.Scores.Combined < 0 {
		return ErrValidation
	}
	switch r.MatchType {
	case MatchSemantic, MatchLexical, MatchHybrid:
		return nil
	default:
		return ErrValidation
	}
}
