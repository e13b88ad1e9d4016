package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/dwhitley/recollect/internal/storage"
	"github.com/dwhitley/recollect/pkg/types"
)

// memorySource serves embeddings from a slice, honoring the filter and chunk
// size the way the SQLite store does.
type memorySource struct {
	embeddings []storage.StoredEmbedding
	chunkCalls int
}

func (m *memorySource) StreamEmbeddings(ctx context.Context, filter storage.EmbeddingFilter, chunkSize int, fn func(chunk []storage.StoredEmbedding) (bool, error)) error {
	excluded := make(map[string]bool, len(filter.ExcludeIDs))
	for _, id := range filter.ExcludeIDs {
		excluded[id] = true
	}

	var filtered []storage.StoredEmbedding
	for _, se := range m.embeddings {
		if filter.ConversationID != "" && se.ConversationID != filter.ConversationID {
			continue
		}
		if excluded[se.MessageID] {
			continue
		}
		filtered = append(filtered, se)
	}

	for start := 0; start < len(filtered); start += chunkSize {
		end := start + chunkSize
		if end > len(filtered) {
			end = len(filtered)
		}
		m.chunkCalls++
		keepGoing, err := fn(filtered[start:end])
		if err != nil {
			return err
		}
		if !keepGoing {
			return nil
		}
	}
	return nil
}

func unitVector(dim int, seed float64) []float32 {
	v := make([]float32, dim)
	var sum float64
	for i := range v {
		x := math.Sin(seed + float64(i))
		v[i] = float32(x)
		sum += x * x
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

func buildSource(n, dim int) *memorySource {
	src := &memorySource{}
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		src.embeddings = append(src.embeddings, storage.StoredEmbedding{
			MessageID:      fmt.Sprintf("msg-%03d", i),
			ConversationID: "conv-1",
			Content:        fmt.Sprintf("message %d", i),
			Vector:         unitVector(dim, float64(i)),
			CreatedAt:      base.Add(-time.Duration(i) * time.Minute),
		})
	}
	return src
}

func TestFindSimilarSelfSimilarity(t *testing.T) {
	src := buildSource(20, 16)
	s := New(src, 0)

	query := src.embeddings[7].Vector
	results, err := s.FindSimilar(context.Background(), query, Options{Limit: 5})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].MessageID != "msg-007" {
		t.Errorf("expected the query's own message first, got %s", results[0].MessageID)
	}
	if math.Abs(results[0].Similarity-1.0) > 1e-4 {
		t.Errorf("self-similarity = %f, want ~1.0", results[0].Similarity)
	}
}

func TestFindSimilarScoreBounds(t *testing.T) {
	src := buildSource(50, 16)
	s := New(src, 0)

	results, err := s.FindSimilar(context.Background(), unitVector(16, 99), Options{Limit: 50})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	for _, r := range results {
		if r.Similarity < 0 || r.Similarity > 1 {
			t.Errorf("similarity %f out of [0,1] for %s", r.Similarity, r.MessageID)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not sorted descending at index %d", i)
		}
	}
}

func TestFindSimilarChunkedMatchesSingleChunk(t *testing.T) {
	src1 := buildSource(37, 16)
	src2 := buildSource(37, 16)
	query := unitVector(16, 42)

	// No threshold and a limit above the store size, so the early stop
	// never fires and both scans see everything.
	opts := Options{Limit: 100}

	chunked, err := New(src1, 5).FindSimilar(context.Background(), query, opts)
	if err != nil {
		t.Fatalf("chunked: %v", err)
	}
	single, err := New(src2, 1000).FindSimilar(context.Background(), query, opts)
	if err != nil {
		t.Fatalf("single: %v", err)
	}

	if src1.chunkCalls < 2 {
		t.Fatalf("expected multiple chunks, got %d", src1.chunkCalls)
	}
	if len(chunked) != len(single) {
		t.Fatalf("chunked returned %d results, single returned %d", len(chunked), len(single))
	}
	for i := range chunked {
		if chunked[i].MessageID != single[i].MessageID {
			t.Errorf("index %d: chunked=%s single=%s", i, chunked[i].MessageID, single[i].MessageID)
		}
	}
}

func TestFindSimilarThreshold(t *testing.T) {
	src := buildSource(30, 16)
	s := New(src, 0)

	results, err := s.FindSimilar(context.Background(), src.embeddings[0].Vector, Options{
		Limit:     30,
		Threshold: 0.99,
	})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	for _, r := range results {
		if r.Similarity < 0.99 {
			t.Errorf("result %s scored %f below threshold", r.MessageID, r.Similarity)
		}
	}
}

func TestFindSimilarEarlyStop(t *testing.T) {
	src := buildSource(200, 8)
	s := New(src, 10)

	// Zero threshold means every candidate counts, so the scan should stop
	// after collecting overfetch*limit rather than walking all 200.
	_, err := s.FindSimilar(context.Background(), unitVector(8, 3), Options{Limit: 5})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if src.chunkCalls >= 20 {
		t.Errorf("scan visited %d chunks, expected an early stop", src.chunkCalls)
	}
}

func TestFindSimilarDimensionMismatch(t *testing.T) {
	src := buildSource(5, 16)
	s := New(src, 0)

	_, err := s.FindSimilar(context.Background(), unitVector(8, 1), Options{Limit: 5})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if !errors.Is(err, types.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestFindSimilarValidation(t *testing.T) {
	s := New(buildSource(5, 8), 0)

	if _, err := s.FindSimilar(context.Background(), nil, Options{}); err == nil {
		t.Error("expected error for empty query vector")
	}
	if _, err := s.FindSimilar(context.Background(), unitVector(8, 1), Options{Threshold: 1.5}); err == nil {
		t.Error("expected error for out-of-range threshold")
	}
	if _, err := s.FindSimilar(context.Background(), unitVector(8, 1), Options{Limit: -1}); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected ErrValidation for negative limit, got %v", err)
	}
	if _, err := s.FindSimilar(context.Background(), unitVector(8, 1), Options{Limit: MaxLimit + 1}); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected ErrValidation for limit above %d, got %v", MaxLimit, err)
	}
	if _, err := s.FindSimilar(context.Background(), unitVector(8, 1), Options{Limit: 0}); err != nil {
		t.Errorf("zero limit should fall back to the default, got %v", err)
	}
}

func TestFindSimilarExcludeIDs(t *testing.T) {
	src := buildSource(10, 8)
	s := New(src, 0)

	query := src.embeddings[2].Vector
	results, err := s.FindSimilar(context.Background(), query, Options{
		Limit:      10,
		ExcludeIDs: []string{"msg-002"},
	})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	for _, r := range results {
		if r.MessageID == "msg-002" {
			t.Error("excluded message appeared in results")
		}
	}
}

func TestDotSimilarityClamp(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	if got := dotSimilarity(a, b); got != 0 {
		t.Errorf("opposed vectors scored %f, want 0", got)
	}
	if got := dotSimilarity(a, a); got != 1 {
		t.Errorf("identical vectors scored %f, want 1", got)
	}
}
