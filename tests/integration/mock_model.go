package integration

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/dwhitley/recollect/internal/embedder"
)

// MockModel is a deterministic ModelClient: the same text always produces the
// same vector, and texts sharing words produce correlated vectors. That gives
// semantic search something meaningful to rank without a model runtime.
type MockModel struct {
	dimension  int
	inferCalls int64
	batchCalls int64
}

// NewMockModel creates a mock model with the given output dimension.
func NewMockModel(dimension int) *MockModel {
	return &MockModel{dimension: dimension}
}

func (m *MockModel) Infer(ctx context.Context, text string) (embedder.ModelOutput, error) {
	atomic.AddInt64(&m.inferCalls, 1)
	return embedder.ModelOutput{Flat: m.vector(text)}, nil
}

func (m *MockModel) InferBatch(ctx context.Context, texts []string) (embedder.ModelOutput, error) {
	atomic.AddInt64(&m.batchCalls, 1)
	batch := make([][]float32, len(texts))
	for i, t := range texts {
		batch[i] = m.vector(t)
	}
	return embedder.ModelOutput{Batch: batch}, nil
}

func (m *MockModel) Model() string { return "nomic-embed-text" }
func (m *MockModel) Close() error  { return nil }

// InferCalls reports how many single-text model calls were made.
func (m *MockModel) InferCalls() int64 { return atomic.LoadInt64(&m.inferCalls) }

// vector builds a bag-of-words style embedding: each word contributes a
// deterministic direction, so overlapping texts land near each other.
func (m *MockModel) vector(text string) []float32 {
	v := make([]float32, m.dimension)
	word := make([]byte, 0, 32)
	flush := func() {
		if len(word) == 0 {
			return
		}
		sum := sha256.Sum256(word)
		for i := 0; i < m.dimension; i++ {
			bits := binary.LittleEndian.Uint32(sum[(i*4)%28:])
			v[i] += float32(bits%2000)/1000.0 - 1.0
		}
		word = word[:0]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\n' || c == '\t' {
			flush()
			continue
		}
		word = append(word, c|0x20)
	}
	flush()

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
