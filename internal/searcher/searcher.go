package searcher

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dwhitley/recollect/internal/query"
	"github.com/dwhitley/recollect/internal/similarity"
	"github.com/dwhitley/recollect/internal/storage"
	"github.com/dwhitley/recollect/pkg/types"
)

const (
	// DefaultLimit applies when the caller does not set one.
	DefaultLimit = 10

	// MaxLimit caps the page size of a single search.
	MaxLimit = 100

	// hybridBranchLimit is how many candidates each branch fetches when both
	// run, so fusion has enough overlap to work with.
	hybridBranchLimit = 50
)

// DefaultWeights is the fusion weighting used when the caller supplies none.
var DefaultWeights = FusionWeights{Semantic: 0.6, Lexical: 0.4}

// FusionWeights scales each branch's contribution to the combined score. The
// weights are independent multipliers; they are not required to sum to 1, and
// combined scores are only comparable under the same weight configuration.
type FusionWeights struct {
	Semantic float64
	Lexical  float64
}

func (w FusionWeights) validate() error {
	if w.Semantic < 0 || w.Lexical < 0 {
		return fmt.Errorf("%w: fusion weights must be non-negative", types.ErrValidation)
	}
	if w.Semantic == 0 && w.Lexical == 0 {
		return fmt.Errorf("%w: at least one fusion weight must be positive", types.ErrValidation)
	}
	return nil
}

// Embedder is the slice of the embedding generator the searcher needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticSearcher ranks stored embeddings against a query vector.
type SemanticSearcher interface {
	FindSimilar(ctx context.Context, queryVector []float32, opts similarity.Options) ([]types.SimilarityResult, error)
}

// LexicalSearcher runs sanitized full-text matches against the store.
type LexicalSearcher interface {
	SearchMessages(ctx context.Context, match string, filter storage.SearchFilter) ([]storage.TextResult, error)
}

// SearchOptions controls one search.
type SearchOptions struct {
	// Strategy overrides automatic selection when set to a concrete strategy.
	Strategy Strategy
	// Mode hints the lexical match mode; empty means auto-detect.
	Mode query.MatchMode

	Limit          int
	Offset         int
	ConversationID string
	StartDate      *time.Time
	EndDate        *time.Time

	// Weights overrides the searcher's fusion weights for this query. The
	// zero value means "use defaults".
	Weights FusionWeights
	// SemanticThreshold drops semantic candidates below it, in [0,1].
	SemanticThreshold float64

	// Explain fills each result's Explanation with its score arithmetic.
	Explain bool
	// IncludeMetrics attaches the per-phase timings to the response.
	IncludeMetrics bool
	// UseCache consults and populates the short-TTL response cache.
	UseCache bool
}

// SearchResponse is the fused answer to one search.
type SearchResponse struct {
	Results  []types.HybridResult
	Total    int
	Strategy Strategy
	QueryID  string
	HasMore  bool
	CacheHit bool
	Duration time.Duration
	Metrics  *QueryMetrics
}

// Searcher routes queries between semantic and lexical retrieval and fuses
// the branch results into one ranked list.
type Searcher struct {
	lexical  LexicalSearcher
	semantic SemanticSearcher
	embedder Embedder
	weights  FusionWeights
	cache    *queryCache
	metrics  *metricsRing
	logger   *log.Logger
}

// Config tunes a Searcher. Zero values fall back to defaults.
type Config struct {
	Weights         FusionWeights
	CacheTTL        time.Duration
	MetricsCapacity int
	Logger          *log.Logger
}

// NewSearcher creates a hybrid searcher. Weight misconfiguration fails here,
// never inside Search.
func NewSearcher(lexical LexicalSearcher, semantic SemanticSearcher, embedder Embedder, cfg Config) (*Searcher, error) {
	weights := cfg.Weights
	if weights == (FusionWeights{}) {
		weights = DefaultWeights
	}
	if err := weights.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Searcher{
		lexical:  lexical,
		semantic: semantic,
		embedder: embedder,
		weights:  weights,
		cache:    newQueryCache(cfg.CacheTTL),
		metrics:  newMetricsRing(cfg.MetricsCapacity),
		logger:   logger,
	}, nil
}

// Search runs one query end to end: sanitize, pick a strategy, run the
// branches, fuse, paginate. Branch failures degrade the response rather than
// propagating; only invalid input returns an error.
func (s *Searcher) Search(ctx context.Context, text string, opts SearchOptions) (*SearchResponse, error) {
	start := time.Now()

	opts.Limit = clampLimit(opts.Limit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	weights := opts.Weights
	if weights == (FusionWeights{}) {
		weights = s.weights
	}
	if err := weights.validate(); err != nil {
		return nil, err
	}
	if opts.SemanticThreshold < 0 || opts.SemanticThreshold > 1 {
		return nil, fmt.Errorf("%w: semantic threshold %f out of range [0,1]", types.ErrValidation, opts.SemanticThreshold)
	}

	parsed := query.Parse(text, opts.Mode)
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: %s", types.ErrValidation, parsed.Reason)
	}

	if opts.UseCache {
		if cached := s.cache.get(cacheKey(text, opts)); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	metrics := &QueryMetrics{
		QueryID:   uuid.NewString(),
		Timestamp: start.UTC(),
	}

	analysisStart := time.Now()
	analysis := analyzeQuery(text)
	strategy := chooseStrategy(analysis, opts.Strategy)
	metrics.Timings.Analysis = time.Since(analysisStart)
	metrics.Strategy = strategy

	semRes, lexRes := s.runBranches(ctx, strategy, text, parsed.Sanitized, opts, metrics)

	if semRes.err != nil && strategy == StrategySemantic ||
		lexRes.err != nil && strategy == StrategyLexical ||
		(strategy == StrategyHybrid && semRes.err != nil && lexRes.err != nil) {
		s.logger.Printf("search %s: all branches failed: semantic=%v lexical=%v",
			metrics.QueryID, semRes.err, lexRes.err)
		metrics.Strategy = StrategyError
		return s.finish(&SearchResponse{Strategy: StrategyError}, opts, metrics, start, text), nil
	}
	if strategy == StrategyHybrid {
		if semRes.err != nil {
			s.logger.Printf("search %s: semantic branch failed, degrading to lexical: %v", metrics.QueryID, semRes.err)
			metrics.DegradedBranch = string(StrategySemantic)
		}
		if lexRes.err != nil {
			s.logger.Printf("search %s: lexical branch failed, degrading to semantic: %v", metrics.QueryID, lexRes.err)
			metrics.DegradedBranch = string(StrategyLexical)
		}
	}
	metrics.SemanticCount = len(semRes.results)
	metrics.LexicalCount = len(lexRes.results)

	fusionStart := time.Now()
	fused := fuse(semRes.results, lexRes.results, weights, opts.Explain)
	metrics.Timings.Fusion = time.Since(fusionStart)

	response := &SearchResponse{Strategy: strategy, Results: fused}
	resp := s.finish(response, opts, metrics, start, text)
	return resp, nil
}

// Metrics returns the retained metrics for a past query, or nil if the entry
// has been evicted from the ring.
func (s *Searcher) Metrics(queryID string) *QueryMetrics {
	return s.metrics.get(queryID)
}

// InvalidateCache drops all cached responses. Called after writes that change
// what searches should return.
func (s *Searcher) InvalidateCache() {
	s.cache.purge()
}

// branchResult carries one branch's outcome across its channel.
type branchResult struct {
	results []scoredMatch
	err     error
}

// scoredMatch is the branch-neutral candidate shape handed to fusion.
type scoredMatch struct {
	messageID      string
	conversationID string
	content        string
	score          float64
	highlight      string
	createdAt      time.Time
}

// runBranches executes the branches the strategy calls for. In hybrid mode
// both run concurrently and either may fail independently.
func (s *Searcher) runBranches(ctx context.Context, strategy Strategy, text, sanitized string, opts SearchOptions, metrics *QueryMetrics) (semRes, lexRes branchResult) {
	// Fetch one past the page so HasMore can be decided; hybrid branches
	// fetch more so fusion has overlap to work with.
	fetchN := opts.Limit + opts.Offset + 1
	if strategy == StrategyHybrid && fetchN < hybridBranchLimit {
		fetchN = hybridBranchLimit
	}

	switch strategy {
	case StrategySemantic:
		semStart := time.Now()
		semRes = s.runSemantic(ctx, text, opts, fetchN)
		metrics.Timings.Semantic = time.Since(semStart)
	case StrategyLexical:
		lexStart := time.Now()
		lexRes = s.runLexical(ctx, sanitized, opts, fetchN)
		metrics.Timings.Lexical = time.Since(lexStart)
	case StrategyHybrid:
		semChan := make(chan branchResult, 1)
		lexChan := make(chan branchResult, 1)
		branchStart := time.Now()

		go func() {
			res := s.runSemantic(ctx, text, opts, fetchN)
			select {
			case semChan <- res:
			case <-ctx.Done():
			}
		}()
		go func() {
			res := s.runLexical(ctx, sanitized, opts, fetchN)
			select {
			case lexChan <- res:
			case <-ctx.Done():
			}
		}()

		var semDone, lexDone bool
		for !semDone || !lexDone {
			select {
			case semRes = <-semChan:
				semDone = true
				metrics.Timings.Semantic = time.Since(branchStart)
			case lexRes = <-lexChan:
				lexDone = true
				metrics.Timings.Lexical = time.Since(branchStart)
			case <-ctx.Done():
				err := ctx.Err()
				if !semDone {
					semRes = branchResult{err: err}
					semDone = true
				}
				if !lexDone {
					lexRes = branchResult{err: err}
					lexDone = true
				}
			}
		}
	}
	return semRes, lexRes
}

func (s *Searcher) runSemantic(ctx context.Context, text string, opts SearchOptions, limit int) branchResult {
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return branchResult{err: fmt.Errorf("failed to embed query: %w", err)}
	}
	if limit > similarity.MaxLimit {
		limit = similarity.MaxLimit
	}
	found, err := s.semantic.FindSimilar(ctx, vector, similarity.Options{
		Limit:          limit,
		Threshold:      opts.SemanticThreshold,
		ConversationID: opts.ConversationID,
	})
	if err != nil {
		return branchResult{err: err}
	}
	matches := make([]scoredMatch, len(found))
	for i, r := range found {
		matches[i] = scoredMatch{
			messageID:      r.MessageID,
			conversationID: r.ConversationID,
			content:        r.Content,
			score:          r.Similarity,
			createdAt:      r.CreatedAt,
		}
	}
	return branchResult{results: matches}
}

func (s *Searcher) runLexical(ctx context.Context, sanitized string, opts SearchOptions, limit int) branchResult {
	found, err := s.lexical.SearchMessages(ctx, sanitized, storage.SearchFilter{
		ConversationID: opts.ConversationID,
		StartDate:      opts.StartDate,
		EndDate:        opts.EndDate,
		Limit:          limit,
	})
	if err != nil {
		return branchResult{err: fmt.Errorf("%w: %v", types.ErrIndexQuery, err)}
	}
	matches := make([]scoredMatch, len(found))
	for i, r := range found {
		matches[i] = scoredMatch{
			messageID:      r.MessageID,
			conversationID: r.ConversationID,
			content:        r.Content,
			score:          r.Score,
			highlight:      r.Snippet,
			createdAt:      r.CreatedAt,
		}
	}
	return branchResult{results: matches}
}

// fuse merges branch candidates by message. A message found by both branches
// gets both weighted terms; a single-branch message contributes only its own.
func fuse(semantic, lexical []scoredMatch, weights FusionWeights, explain bool) []types.HybridResult {
	merged := make(map[string]*types.HybridResult, len(semantic)+len(lexical))

	for _, m := range semantic {
		merged[m.messageID] = &types.HybridResult{
			MessageID:      m.messageID,
			ConversationID: m.conversationID,
			Content:        m.content,
			Scores:         types.ScoreBreakdown{Semantic: m.score},
			MatchType:      types.MatchSemantic,
			CreatedAt:      m.createdAt,
		}
	}
	for _, m := range lexical {
		if existing, ok := merged[m.messageID]; ok {
			existing.Scores.Lexical = m.score
			existing.MatchType = types.MatchHybrid
			if m.highlight != "" {
				existing.Highlights = appendUnique(existing.Highlights, m.highlight)
			}
			continue
		}
		r := &types.HybridResult{
			MessageID:      m.messageID,
			ConversationID: m.conversationID,
			Content:        m.content,
			Scores:         types.ScoreBreakdown{Lexical: m.score},
			MatchType:      types.MatchLexical,
			CreatedAt:      m.createdAt,
		}
		if m.highlight != "" {
			r.Highlights = []string{m.highlight}
		}
		merged[m.messageID] = r
	}

	results := make([]types.HybridResult, 0, len(merged))
	for _, r := range merged {
		r.Scores.Combined = r.Scores.Semantic*weights.Semantic + r.Scores.Lexical*weights.Lexical
		if explain {
			r.Explanation = fmt.Sprintf("semantic %.3f * %.2f + lexical %.3f * %.2f = %.3f",
				r.Scores.Semantic, weights.Semantic, r.Scores.Lexical, weights.Lexical, r.Scores.Combined)
		}
		results = append(results, *r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Scores.Combined != results[j].Scores.Combined {
			return results[i].Scores.Combined > results[j].Scores.Combined
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].MessageID < results[j].MessageID
	})
	return results
}

// finish paginates, records metrics, and populates the cache.
func (s *Searcher) finish(response *SearchResponse, opts SearchOptions, metrics *QueryMetrics, start time.Time, text string) *SearchResponse {
	formatStart := time.Now()

	response.QueryID = metrics.QueryID
	response.Total = len(response.Results)
	if opts.Offset >= len(response.Results) {
		response.Results = nil
	} else {
		end := opts.Offset + opts.Limit
		if end > len(response.Results) {
			end = len(response.Results)
		}
		response.Results = response.Results[opts.Offset:end]
	}
	response.HasMore = opts.Offset+len(response.Results) < response.Total

	metrics.Timings.Formatting = time.Since(formatStart)
	metrics.Timings.Total = time.Since(start)
	metrics.ResultCount = len(response.Results)
	response.Duration = metrics.Timings.Total

	if opts.IncludeMetrics {
		m := *metrics
		response.Metrics = &m
	}
	s.metrics.record(metrics)

	if opts.UseCache && response.Strategy != StrategyError {
		s.cache.put(cacheKey(text, opts), response)
	}
	return response
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
