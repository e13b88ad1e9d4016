package searcher

import (
	"sync"
	"time"
)

// defaultMetricsCapacity bounds the in-memory metrics ring.
const defaultMetricsCapacity = 256

// PhaseTimings records how long each stage of one search took.
type PhaseTimings struct {
	Analysis   time.Duration
	Semantic   time.Duration
	Lexical    time.Duration
	Fusion     time.Duration
	Formatting time.Duration
	Total      time.Duration
}

// QueryMetrics is the per-query record retained in the metrics ring.
type QueryMetrics struct {
	QueryID        string
	Strategy       Strategy
	Timings        PhaseTimings
	SemanticCount  int
	LexicalCount   int
	ResultCount    int
	CacheHit       bool
	DegradedBranch string // branch that failed in a degraded hybrid search
	Timestamp      time.Time
}

// metricsRing keeps the most recent query metrics, indexed by query ID.
// Oldest entries are dropped once capacity is reached.
type metricsRing struct {
	mu       sync.Mutex
	capacity int
	order    []string
	byID     map[string]*QueryMetrics
}

func newMetricsRing(capacity int) *metricsRing {
	if capacity <= 0 {
		capacity = defaultMetricsCapacity
	}
	return &metricsRing{
		capacity: capacity,
		byID:     make(map[string]*QueryMetrics, capacity),
	}
}

func (r *metricsRing) record(m *QueryMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[m.QueryID]; !exists {
		r.order = append(r.order, m.QueryID)
	}
	r.byID[m.QueryID] = m

	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.byID, oldest)
	}
}

// get returns a copy of the metrics for a query ID, or nil if evicted or
// unknown.
func (r *metricsRing) get(queryID string) *QueryMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[queryID]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

func (r *metricsRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
