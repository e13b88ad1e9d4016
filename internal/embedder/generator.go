package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dwhitley/recollect/internal/vectorcache"
	"github.com/dwhitley/recollect/pkg/types"
)

const (
	// DefaultOllamaURL is the local model runtime endpoint.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "nomic-embed-text"

	// DefaultDimension is the expected vector length for the default model.
	DefaultDimension = 384

	// MaxInputLength bounds the raw text accepted by Embed.
	MaxInputLength = 100000

	// maxEmbedChars is the normalized-text budget handed to the model.
	// Truncation prefers a word boundary.
	maxEmbedChars = 8192

	// SubBatchSize is the number of texts per batched model call.
	SubBatchSize = 16

	// cacheKeyLength is the hex prefix length of the cache key hash.
	cacheKeyLength = 32

	// DefaultFailureThreshold opens the circuit after this many consecutive
	// failures.
	DefaultFailureThreshold = 5

	// DefaultCircuitCooldown is how long the circuit stays open before a
	// half-open probe is allowed.
	DefaultCircuitCooldown = 30 * time.Second

	// Backoff window for EmbedWithFallback: min(1s * 2^attempt, 10s).
	baseBackoff = 1 * time.Second
	maxBackoff  = 10 * time.Second

	// DefaultPerformanceTarget is the per-embedding latency target used by
	// the health heuristic.
	DefaultPerformanceTarget = 200 * time.Millisecond

	// healthSampleMinimum is the sample count before latency health kicks in.
	healthSampleMinimum = 10

	// monitorInterval is the cadence of the background health monitor.
	monitorInterval = 30 * time.Second

	// resetLockKey serializes Reset calls through the keyed lock.
	resetLockKey = "embedder:reset"
)

// AllowedModels is the explicit allow-list of local model identifiers.
// Anything else is a configuration error.
var AllowedModels = map[string]int{
	"nomic-embed-text":  384,
	"all-minilm":        384,
	"mxbai-embed-large": 1024,
}

// Config holds generator configuration. Invalid configuration fails fast at
// construction, never inside a search call.
type Config struct {
	Model             string
	BaseURL           string
	Dimension         int
	CacheEnabled      bool
	CacheMaxEntries   int
	CacheMaxBytes     int64
	PerformanceTarget time.Duration
	FailureThreshold  int
	CircuitCooldown   time.Duration
}

// DefaultConfig returns the stock local-model configuration.
func DefaultConfig() Config {
	return Config{
		Model:             DefaultModel,
		BaseURL:           DefaultOllamaURL,
		Dimension:         DefaultDimension,
		CacheEnabled:      true,
		CacheMaxEntries:   vectorcache.DefaultMaxEntries,
		CacheMaxBytes:     vectorcache.DefaultMaxBytes,
		PerformanceTarget: DefaultPerformanceTarget,
		FailureThreshold:  DefaultFailureThreshold,
		CircuitCooldown:   DefaultCircuitCooldown,
	}
}

// Generator turns text into normalized embedding vectors using a locally
// hosted model, with caching, batching, a circuit breaker, and retry with
// backoff. It is the sole owner of the circuit state.
type Generator struct {
	cfg    Config
	client ModelClient
	cache  *vectorcache.Cache

	circuit *circuitBreaker
	locks   *KeyedLock

	mu           sync.Mutex
	initialized  bool
	dimension    int
	avgLatency   time.Duration
	samples      int
	monitorStop  chan struct{}
	monitorOnce  sync.Once
	shutdownOnce sync.Once
}

// New validates the configuration and constructs a Generator. The model
// identifier must be on the allow-list.
func New(cfg Config, client ModelClient) (*Generator, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	dim, ok := AllowedModels[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("%w: model %q is not in the allow-list", types.ErrValidation, cfg.Model)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = dim
	}
	if cfg.PerformanceTarget <= 0 {
		cfg.PerformanceTarget = DefaultPerformanceTarget
	}
	if client == nil {
		client = NewOllamaClient(cfg.Model, cfg.BaseURL)
	}

	g := &Generator{
		cfg:       cfg,
		client:    client,
		circuit:   newCircuitBreaker(cfg.FailureThreshold, cfg.CircuitCooldown),
		locks:     NewKeyedLock(),
		dimension: cfg.Dimension,
	}
	if cfg.CacheEnabled {
		g.cache = vectorcache.New(cfg.CacheMaxEntries, cfg.CacheMaxBytes)
	}
	return g, nil
}

// Initialize warms up the model and starts the background health monitor.
// Calling it again is a no-op.
func (g *Generator) Initialize(ctx context.Context) error {
	g.mu.Lock()
	if g.initialized {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	// Warm-up inference loads the model into the runtime.
	out, err := g.client.Infer(ctx, "warmup")
	if err != nil {
		return fmt.Errorf("model warm-up failed: %w", err)
	}
	vector, err := out.FlatVector()
	if err != nil {
		return fmt.Errorf("model warm-up returned bad shape: %w", err)
	}

	g.mu.Lock()
	if len(vector) != g.dimension {
		log.Printf("embedder: model %s reports dimension %d, expected %d; adopting observed",
			g.cfg.Model, len(vector), g.dimension)
		g.dimension = len(vector)
	}
	g.initialized = true
	g.mu.Unlock()

	g.monitorOnce.Do(func() {
		g.monitorStop = make(chan struct{})
		go g.monitor()
	})
	return nil
}

// Embed returns the normalized embedding vector for text, consulting the
// cache first. Fails with ErrNotInitialized before Initialize.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	g.mu.Lock()
	ready := g.initialized
	g.mu.Unlock()
	if !ready {
		return nil, types.ErrNotInitialized
	}

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", types.ErrValidation)
	}
	if len(text) > MaxInputLength {
		return nil, fmt.Errorf("%w: text exceeds %d characters", types.ErrValidation, MaxInputLength)
	}

	normalized := NormalizeText(text)
	key := g.cacheKey(normalized)

	if g.cache != nil {
		if vec, ok := g.cache.Get(key); ok {
			return vec, nil
		}
	}

	vector, err := g.inferOne(ctx, normalized)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		g.cache.Put(key, vector)
	}
	return vector, nil
}

// inferOne runs a single model call for already-normalized text, handles
// dimension adoption, and records latency.
func (g *Generator) inferOne(ctx context.Context, normalized string) ([]float32, error) {
	start := time.Now()
	out, err := g.client.Infer(ctx, normalized)
	if err != nil {
		return nil, err
	}
	vector, err := out.FlatVector()
	if err != nil {
		return nil, err
	}
	g.recordLatency(time.Since(start))

	g.mu.Lock()
	if len(vector) != g.dimension {
		// Warn and adopt the observed dimension rather than failing; the
		// configured value was wrong, not the model.
		log.Printf("embedder: observed dimension %d differs from configured %d; adopting observed",
			len(vector), g.dimension)
		g.dimension = len(vector)
	}
	g.mu.Unlock()

	return NormalizeVector(vector), nil
}

// EmbedBatch embeds texts preserving input order. Cached texts are served
// from cache; the rest go to the model in fixed-size sub-batches. A batched
// call whose output shape does not match falls back to per-item inference.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	g.mu.Lock()
	ready := g.initialized
	g.mu.Unlock()
	if !ready {
		return nil, types.ErrNotInitialized
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pendingIdx []int
	var pendingText []string

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", types.ErrValidation, i)
		}
		if len(text) > MaxInputLength {
			return nil, fmt.Errorf("%w: text at index %d exceeds %d characters", types.ErrValidation, i, MaxInputLength)
		}
		normalized := NormalizeText(text)
		if g.cache != nil {
			if vec, ok := g.cache.Get(g.cacheKey(normalized)); ok {
				results[i] = vec
				continue
			}
		}
		pendingIdx = append(pendingIdx, i)
		pendingText = append(pendingText, normalized)
	}

	for start := 0; start < len(pendingText); start += SubBatchSize {
		end := start + SubBatchSize
		if end > len(pendingText) {
			end = len(pendingText)
		}
		sub := pendingText[start:end]

		vectors, err := g.inferSubBatch(ctx, sub)
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			idx := pendingIdx[start+j]
			results[idx] = vec
			if g.cache != nil {
				g.cache.Put(g.cacheKey(sub[j]), vec)
			}
		}
	}

	return results, nil
}

// inferSubBatch attempts one batched model call; on a shape mismatch it falls
// back to embedding each text individually. The mismatch is an explicit
// sentinel, not control flow by exception.
func (g *Generator) inferSubBatch(ctx context.Context, normalized []string) ([][]float32, error) {
	start := time.Now()
	out, err := g.client.InferBatch(ctx, normalized)
	if err == nil {
		var batch [][]float32
		batch, err = out.BatchVectors(len(normalized))
		if err == nil {
			g.recordLatency(time.Since(start))
			vectors := make([][]float32, len(batch))
			for i, v := range batch {
				vectors[i] = NormalizeVector(v)
			}
			g.adoptDimension(len(batch[0]))
			return vectors, nil
		}
	}

	if !isShapeMismatch(err) {
		return nil, err
	}
	log.Printf("embedder: batch call shape mismatch, falling back to per-item: %v", err)

	vectors := make([][]float32, len(normalized))
	for i, text := range normalized {
		vec, itemErr := g.inferOne(ctx, text)
		if itemErr != nil {
			return nil, itemErr
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func isShapeMismatch(err error) bool {
	return err != nil && errors.Is(err, types.ErrShapeMismatch)
}

// EmbedWithFallback wraps Embed in the circuit breaker with bounded retries
// and exponential backoff. While the circuit is open it fails immediately
// without touching the model. On a failed attempt, an unhealthy generator
// gets one Reset before the next try.
func (g *Generator) EmbedWithFallback(ctx context.Context, text string, maxRetries int) ([]float32, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	resetTried := false

	for attempt := 0; attempt < maxRetries; attempt++ {
		if !g.circuit.Allow() {
			return nil, fmt.Errorf("%w: circuit open", types.ErrModelUnavailable)
		}

		vector, err := g.Embed(ctx, text)
		if err == nil {
			g.circuit.RecordSuccess()
			return vector, nil
		}
		// Caller mistakes are not model failures; surface them untouched.
		if errors.Is(err, types.ErrValidation) || errors.Is(err, types.ErrNotInitialized) {
			return nil, err
		}

		g.circuit.RecordFailure()
		lastErr = err

		if !resetTried && !g.IsHealthy() {
			resetTried = true
			if resetErr := g.Reset(ctx); resetErr != nil {
				log.Printf("embedder: reset during fallback failed: %v", resetErr)
			}
		}

		if attempt < maxRetries-1 {
			if err := sleepBackoff(ctx, attempt, baseBackoff, maxBackoff); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w: %d attempts exhausted: %v", types.ErrModelUnavailable, maxRetries, lastErr)
}

// Reset tears down model state, clears metrics and the circuit, and re-runs
// initialization. Concurrent resets serialize on the keyed lock so callers
// await the in-flight reset instead of duplicating it.
func (g *Generator) Reset(ctx context.Context) error {
	g.locks.Lock(resetLockKey)
	defer g.locks.Unlock(resetLockKey)

	g.mu.Lock()
	g.initialized = false
	g.avgLatency = 0
	g.samples = 0
	g.mu.Unlock()

	if g.cache != nil {
		g.cache.Clear()
	}
	g.circuit.Reset()

	return g.Initialize(ctx)
}

// IsHealthy is a heuristic liveness signal: false before initialization, and
// false once the moving-average latency exceeds 3x the performance target
// after a minimum sample count.
func (g *Generator) IsHealthy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized {
		return false
	}
	if g.samples >= healthSampleMinimum && g.avgLatency > 3*g.cfg.PerformanceTarget {
		return false
	}
	return true
}

// Dimension returns the current (possibly adopted) vector dimension.
func (g *Generator) Dimension() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dimension
}

// Model returns the configured model identifier.
func (g *Generator) Model() string {
	return g.cfg.Model
}

// CircuitState exposes the breaker state for status reporting.
func (g *Generator) CircuitState() CircuitState {
	return g.circuit.State()
}

// CacheStats reports entry count and estimated bytes, zero when caching is
// disabled.
func (g *Generator) CacheStats() (entries int, bytes int64) {
	if g.cache == nil {
		return 0, 0
	}
	return g.cache.Len(), g.cache.MemoryBytes()
}

// AvgLatency returns the moving-average embedding latency.
func (g *Generator) AvgLatency() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.avgLatency
}

// Close stops the monitor and releases the model client.
func (g *Generator) Close() error {
	g.shutdownOnce.Do(func() {
		if g.monitorStop != nil {
			close(g.monitorStop)
		}
	})
	return g.client.Close()
}

// monitor periodically checks health and cache pressure. It takes the same
// mutex as foreground calls, so there is no racing the request path.
func (g *Generator) monitor() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.monitorStop:
			return
		case <-ticker.C:
			if !g.IsHealthy() {
				log.Printf("embedder: unhealthy (avg latency %v, circuit %s)", g.AvgLatency(), g.CircuitState())
			}
			if g.cache != nil {
				entries, bytes := g.cache.Len(), g.cache.MemoryBytes()
				if bytes > g.cfg.CacheMaxBytes*9/10 {
					log.Printf("embedder: cache near memory budget (%d entries, %d bytes)", entries, bytes)
				}
			}
		}
	}
}

func (g *Generator) recordLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples++
	if g.samples == 1 {
		g.avgLatency = d
		return
	}
	// Exponential moving average, alpha = 0.2.
	g.avgLatency = time.Duration(0.8*float64(g.avgLatency) + 0.2*float64(d))
}

func (g *Generator) adoptDimension(observed int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if observed != g.dimension {
		log.Printf("embedder: observed dimension %d differs from configured %d; adopting observed", observed, g.dimension)
		g.dimension = observed
	}
}

// cacheKey derives the cache key from normalized text plus the model
// identifier, hashed and truncated to a fixed prefix.
func (g *Generator) cacheKey(normalized string) string {
	h := sha256.Sum256([]byte(normalized + "|" + g.cfg.Model))
	return hex.EncodeToString(h[:])[:cacheKeyLength]
}

// NormalizeText strips control characters, collapses whitespace, and
// truncates to the embedding budget preferring a word boundary.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	out := strings.TrimSpace(b.String())

	if len(out) > maxEmbedChars {
		end := maxEmbedChars
		// Back off to a rune boundary so the cut never splits a
		// multi-byte character.
		for end > 0 && !utf8.RuneStart(out[end]) {
			end--
		}
		cut := out[:end]
		if idx := strings.LastIndexByte(cut, ' '); idx > maxEmbedChars/2 {
			cut = cut[:idx]
		}
		out = cut
	}
	return out
}

// NormalizeVector scales a vector to unit L2 norm so cosine similarity
// reduces to a dot product.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = val / norm
	}
	return out
}
