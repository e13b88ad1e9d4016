// Package similarity implements streaming cosine top-N search over stored
// message embeddings.
//
// Vectors are unit-normalized at write time by the storage layer, so cosine
// similarity reduces to a dot product. The store is scanned newest-first in
// bounded chunks; the scan stops early once enough above-threshold candidates
// have been collected, which favors recent messages without loading the whole
// store into memory.
package similarity

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/dwhitley/recollect/internal/storage"
	"github.com/dwhitley/recollect/pkg/types"
)

const (
	// DefaultChunkSize is how many embeddings are pulled from storage per
	// round trip.
	DefaultChunkSize = 500

	// overfetchFactor controls how many above-threshold candidates are
	// collected before the scan stops early. Overfetching past the limit
	// keeps the early stop from missing higher-scoring older messages that
	// land in the same chunk window.
	overfetchFactor = 2

	// MaxLimit caps a single similarity query.
	MaxLimit = 1000

	// DefaultLimit applies when the caller does not set one.
	DefaultLimit = 10
)

// EmbeddingSource is the slice of the store the searcher needs.
type EmbeddingSource interface {
	StreamEmbeddings(ctx context.Context, filter storage.EmbeddingFilter, chunkSize int, fn func(chunk []storage.StoredEmbedding) (bool, error)) error
}

// Options restricts and sizes a similarity query.
type Options struct {
	// Limit is the maximum number of results, in [1, MaxLimit]. Zero means
	// DefaultLimit; out-of-range values are rejected.
	Limit int
	// Threshold drops candidates scoring below it. Must be in [0, 1].
	Threshold float64
	// ConversationID scopes the scan to one conversation when set.
	ConversationID string
	// ExcludeIDs removes specific messages from consideration, typically
	// the query's own source message.
	ExcludeIDs []string
}

// Searcher streams embeddings from a store and ranks them against a query
// vector.
type Searcher struct {
	source    EmbeddingSource
	chunkSize int
}

// New creates a Searcher over the given source. chunkSize <= 0 uses
// DefaultChunkSize.
func New(source EmbeddingSource, chunkSize int) *Searcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Searcher{source: source, chunkSize: chunkSize}
}

// FindSimilar returns the stored messages most similar to queryVector, sorted
// by descending similarity. queryVector must be unit-normalized and match the
// dimension of stored vectors; a length mismatch fails loudly rather than
// truncating.
func (s *Searcher) FindSimilar(ctx context.Context, queryVector []float32, opts Options) ([]types.SimilarityResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", types.ErrValidation)
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %f out of range [0,1]", types.ErrValidation, opts.Threshold)
	}
	if opts.Limit < 0 || opts.Limit > MaxLimit {
		return nil, fmt.Errorf("%w: limit %d out of range [1,%d]", types.ErrValidation, opts.Limit, MaxLimit)
	}
	limit := opts.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	filter := storage.EmbeddingFilter{
		ConversationID: opts.ConversationID,
		ExcludeIDs:     opts.ExcludeIDs,
	}

	target := limit * overfetchFactor
	var candidates []types.SimilarityResult
	var scanErr error

	err := s.source.StreamEmbeddings(ctx, filter, s.chunkSize, func(chunk []storage.StoredEmbedding) (bool, error) {
		for _, se := range chunk {
			if len(se.Vector) != len(queryVector) {
				scanErr = fmt.Errorf("%w: query has %d dimensions, stored message %s has %d",
					types.ErrDimensionMismatch, len(queryVector), se.MessageID, len(se.Vector))
				return false, scanErr
			}
			score := dotSimilarity(queryVector, se.Vector)
			if score < opts.Threshold {
				continue
			}
			candidates = append(candidates, types.SimilarityResult{
				MessageID:      se.MessageID,
				ConversationID: se.ConversationID,
				Content:        se.Content,
				Similarity:     score,
				CreatedAt:      se.CreatedAt,
			})
		}
		if len(candidates) >= target {
			return false, nil
		}
		// Yield between chunks so a long scan does not starve other
		// goroutines on a busy scheduler.
		runtime.Gosched()
		return true, ctx.Err()
	})
	if scanErr != nil {
		return nil, scanErr
	}
	if err != nil {
		return nil, fmt.Errorf("similarity scan failed: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// dotSimilarity computes cosine similarity between two unit vectors as a dot
// product, clamped to [0,1]. Negative cosines are floored to zero: opposed
// vectors are simply "not similar" for retrieval purposes.
func dotSimilarity(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	if sum < 0 {
		return 0
	}
	if sum > 1 {
		return 1
	}
	return sum
}
