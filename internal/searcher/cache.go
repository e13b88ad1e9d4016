package searcher

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dwhitley/recollect/pkg/types"
)

const (
	// DefaultCacheTTL is how long a cached response stays fresh. Lexical
	// results go stale as soon as new messages arrive, so the window is
	// deliberately short.
	DefaultCacheTTL = 60 * time.Second

	cacheCapacity = 1000
)

// cacheEntry pairs a cached response with its expiration time. The LRU cache
// handles capacity eviction; expiry is checked lazily on read.
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// queryCache is a TTL-bounded LRU over full search responses.
type queryCache struct {
	mu  sync.RWMutex
	lru *lru.Cache[[32]byte, *cacheEntry]
	ttl time.Duration
}

func newQueryCache(ttl time.Duration) *queryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cache, err := lru.New[[32]byte, *cacheEntry](cacheCapacity)
	if err != nil {
		// Only possible with a non-positive size.
		panic(fmt.Sprintf("failed to create query cache: %v", err))
	}
	return &queryCache{lru: cache, ttl: ttl}
}

// get returns a deep copy of the cached response, or nil on miss or expiry.
func (c *queryCache) get(key [32]byte) *SearchResponse {
	now := time.Now()

	c.mu.RLock()
	entry, found := c.lru.Get(key)
	if !found {
		c.mu.RUnlock()
		return nil
	}
	if now.After(entry.expiresAt) {
		c.mu.RUnlock()
		c.mu.Lock()
		c.lru.Remove(key)
		c.mu.Unlock()
		return nil
	}
	response := copyResponse(entry.response)
	c.mu.RUnlock()

	return response
}

// put stores a deep copy of the response so later mutations by the caller
// cannot corrupt the cache.
func (c *queryCache) put(key [32]byte, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copyResponse(response),
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Lock()
	c.lru.Add(key, entry)
	c.mu.Unlock()
}

func (c *queryCache) purge() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

func (c *queryCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// cacheKey hashes the full option set so any variation in query, scope, or
// scoring configuration gets its own entry.
func cacheKey(text string, opts SearchOptions) [32]byte {
	var data strings.Builder
	data.WriteString(text)
	data.WriteString("|")
	data.WriteString(string(opts.Strategy))
	data.WriteString("|")
	data.WriteString(string(opts.Mode))
	data.WriteString("|")
	fmt.Fprintf(&data, "%d|%d|%s", opts.Limit, opts.Offset, opts.ConversationID)
	if opts.StartDate != nil {
		data.WriteString("|start:" + opts.StartDate.UTC().Format(time.RFC3339Nano))
	}
	if opts.EndDate != nil {
		data.WriteString("|end:" + opts.EndDate.UTC().Format(time.RFC3339Nano))
	}
	fmt.Fprintf(&data, "|w:%.4f,%.4f|t:%.4f|e:%t",
		opts.Weights.Semantic, opts.Weights.Lexical, opts.SemanticThreshold, opts.Explain)
	return sha256.Sum256([]byte(data.String()))
}

// copyResponse deep-copies a response so cache entries stay isolated from
// callers.
func copyResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := &SearchResponse{
		QueryID:  src.QueryID,
		Strategy: src.Strategy,
		Total:    src.Total,
		HasMore:  src.HasMore,
		CacheHit: src.CacheHit,
		Duration: src.Duration,
		Results:  make([]types.HybridResult, len(src.Results)),
	}
	for i, r := range src.Results {
		cp := r
		if len(r.Highlights) > 0 {
			cp.Highlights = append([]string(nil), r.Highlights...)
		}
		dst.Results[i] = cp
	}
	if src.Metrics != nil {
		m := *src.Metrics
		dst.Metrics = &m
	}
	return dst
}
