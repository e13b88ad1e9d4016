// Package reembed sweeps the store for messages without embeddings and fills
// them in with a bounded worker pool. A keyed lock serializes sweeps so a
// second trigger waits for the in-flight one instead of duplicating model
// calls.
package reembed

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwhitley/recollect/internal/embedder"
	"github.com/dwhitley/recollect/internal/storage"
)

const (
	// DefaultBatchSize is how many messages one worker embeds per model
	// round trip.
	DefaultBatchSize = 16

	// fetchSize is how many pending messages are pulled from the store per
	// sweep iteration.
	fetchSize = 256

	sweepLockKey = "reembed-sweep"
)

// Embedder is the slice of the generator the sweeper needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// Store is the slice of the storage layer the sweeper needs.
type Store interface {
	ListUnembedded(ctx context.Context, limit int) ([]*storage.Message, error)
	UpsertEmbedding(ctx context.Context, emb *storage.Embedding) error
}

// Report summarizes one sweep.
type Report struct {
	Scanned   int
	Embedded  int
	Failed    int
	Duration  time.Duration
	Model     string
	Dimension int
}

// Config tunes a Sweeper. Zero values fall back to defaults.
type Config struct {
	// Workers bounds concurrent embedding batches. Defaults to NumCPU,
	// capped at 4: the local model is the bottleneck, not the pool.
	Workers   int
	BatchSize int
	Logger    *log.Logger
}

// Sweeper embeds backlogged messages in batches.
type Sweeper struct {
	store     Store
	embedder  Embedder
	workers   int
	batchSize int
	lock      *embedder.KeyedLock
	logger    *log.Logger
}

// NewSweeper creates a Sweeper over the given store and embedder.
func NewSweeper(store Store, emb Embedder, cfg Config) *Sweeper {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > 4 {
			workers = 4
		}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		store:     store,
		embedder:  emb,
		workers:   workers,
		batchSize: batchSize,
		lock:      embedder.NewKeyedLock(),
		logger:    logger,
	}
}

// Sweep embeds every message that has no stored embedding. Concurrent calls
// serialize on the sweep lock; the later caller runs after the earlier one
// finishes and typically finds nothing left to do. Per-batch failures are
// counted and logged, not fatal.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	s.lock.Lock(sweepLockKey)
	defer s.lock.Unlock(sweepLockKey)

	start := time.Now()
	report := &Report{
		Model:     s.embedder.Model(),
		Dimension: s.embedder.Dimension(),
	}

	var scanned, embedded, failed int64
	seen := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Widen the fetch past the messages already attempted, otherwise a
		// window full of failures would hide older backlog behind it.
		pending, err := s.store.ListUnembedded(ctx, len(seen)+fetchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending messages: %w", err)
		}
		// Messages that failed embedding stay unembedded; drop ones we
		// already tried so the sweep terminates. An empty remainder means
		// everything still pending has been attempted this sweep.
		fresh := pending[:0:len(pending)]
		for _, msg := range pending {
			if !seen[msg.ID] {
				seen[msg.ID] = true
				fresh = append(fresh, msg)
			}
		}
		if len(fresh) == 0 {
			break
		}
		atomic.AddInt64(&scanned, int64(len(fresh)))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)

		for batchStart := 0; batchStart < len(fresh); batchStart += s.batchSize {
			batchEnd := batchStart + s.batchSize
			if batchEnd > len(fresh) {
				batchEnd = len(fresh)
			}
			batch := fresh[batchStart:batchEnd]

			g.Go(func() error {
				n, err := s.embedBatch(gctx, batch)
				atomic.AddInt64(&embedded, int64(n))
				if err != nil {
					atomic.AddInt64(&failed, int64(len(batch)-n))
					s.logger.Printf("reembed: batch of %d failed after %d: %v", len(batch), n, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	report.Scanned = int(scanned)
	report.Embedded = int(embedded)
	report.Failed = int(failed)
	report.Duration = time.Since(start)
	return report, nil
}

// embedBatch embeds one batch and upserts the vectors, returning how many
// messages were persisted before any error.
func (s *Sweeper) embedBatch(ctx context.Context, batch []*storage.Message) (int, error) {
	texts := make([]string, len(batch))
	for i, msg := range batch {
		texts[i] = msg.Content
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}

	for i, msg := range batch {
		emb := &storage.Embedding{
			MessageID: msg.ID,
			Vector:    vectors[i],
			Dimension: len(vectors[i]),
			Model:     s.embedder.Model(),
		}
		if err := s.store.UpsertEmbedding(ctx, emb); err != nil {
			return i, fmt.Errorf("failed to store embedding for %s: %w", msg.ID, err)
		}
	}
	return len(batch), nil
}
