// Package types provides shared type definitions for the Recollect engine.
//
// It defines the transient result shapes exchanged between the retrieval
// branches and the caller, plus the sentinel errors that make up the engine's
// error taxonomy.
//
// # Results
//
// SimilarityResult is produced by the semantic branch:
//
//	result := &types.SimilarityResult{
//	    MessageID:  "b1946ac9-...",
//	    Similarity: 0.87,
//	}
//
// HybridResult is produced by rank fusion and carries the per-branch scores
// that went into its combined score:
//
//	result.Scores.Semantic // cosine similarity in [0,1]
//	result.Scores.Lexical  // normalized BM25 score in (0,1]
//	result.Scores.Combined // weighted sum of the two
//
// Neither type is ever persisted; both are rebuilt on every query.
//
// # Errors
//
// Callers should match sentinels with errors.Is:
//
//	if errors.Is(err, types.ErrModelUnavailable) {
//	    // circuit is open or the model call failed; retry later
//	}
package types
