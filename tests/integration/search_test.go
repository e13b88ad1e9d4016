package integration

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/dwhitley/recollect/internal/embedder"
	"github.com/dwhitley/recollect/internal/reembed"
	"github.com/dwhitley/recollect/internal/searcher"
	"github.com/dwhitley/recollect/internal/similarity"
	"github.com/dwhitley/recollect/internal/storage"
	"github.com/dwhitley/recollect/pkg/types"
)

// SearchTestSuite exercises the full pipeline: store, embed, search.
type SearchTestSuite struct {
	suite.Suite
	store    *storage.SQLiteStore
	model    *MockModel
	embedder *embedder.Generator
	searcher *searcher.Searcher
	sweeper  *reembed.Sweeper
	ctx      context.Context
}

func TestSearchSuite(t *testing.T) {
	suite.Run(t, new(SearchTestSuite))
}

// SetupTest runs before each test
func (s *SearchTestSuite) SetupTest() {
	s.ctx = context.Background()

	store, err := storage.NewSQLiteStore(filepath.Join(s.T().TempDir(), "integration.db"))
	s.Require().NoError(err)
	s.store = store

	s.model = NewMockModel(64)
	cfg := embedder.DefaultConfig()
	cfg.Dimension = 64
	gen, err := embedder.New(cfg, s.model)
	s.Require().NoError(err)
	s.Require().NoError(gen.Initialize(s.ctx))
	s.embedder = gen

	logger := log.New(io.Discard, "", 0)
	s.searcher, err = searcher.NewSearcher(store, similarity.New(store, 0), gen, searcher.Config{Logger: logger})
	s.Require().NoError(err)
	s.sweeper = reembed.NewSweeper(store, gen, reembed.Config{Logger: logger})
}

// TearDownTest runs after each test
func (s *SearchTestSuite) TearDownTest() {
	if s.embedder != nil {
		_ = s.embedder.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// seed stores a message and its embedding, returning the message ID.
func (s *SearchTestSuite) seed(conversationID, content string) string {
	msg := &storage.Message{ConversationID: conversationID, Role: "user", Content: content}
	s.Require().NoError(s.store.SaveMessage(s.ctx, msg))

	vector, err := s.embedder.Embed(s.ctx, content)
	s.Require().NoError(err)
	s.Require().NoError(s.store.UpsertEmbedding(s.ctx, &storage.Embedding{
		MessageID: msg.ID,
		Vector:    vector,
		Dimension: len(vector),
		Model:     s.embedder.Model(),
	}))
	return msg.ID
}

func (s *SearchTestSuite) newConversation(title string) string {
	conv := &storage.Conversation{Title: title}
	s.Require().NoError(s.store.CreateConversation(s.ctx, conv))
	return conv.ID
}

func (s *SearchTestSuite) TestHybridSearchFindsRelevantMessage() {
	convID := s.newConversation("infra")
	target := s.seed(convID, "the database connection pool keeps exhausting under load")
	s.seed(convID, "lunch options near the office are limited")
	s.seed(convID, "deployed the frontend with the new banner")

	resp, err := s.searcher.Search(s.ctx, "connection pool", searcher.SearchOptions{Limit: 10})
	s.Require().NoError(err)

	s.Equal(searcher.StrategyHybrid, resp.Strategy)
	s.Require().NotEmpty(resp.Results)
	s.Equal(target, resp.Results[0].MessageID)
	s.Equal(types.MatchHybrid, resp.Results[0].MatchType)
	s.Positive(resp.Results[0].Scores.Semantic)
	s.Positive(resp.Results[0].Scores.Lexical)
}

func (s *SearchTestSuite) TestExactPhraseSearch() {
	convID := s.newConversation("notes")
	target := s.seed(convID, "remember that the staging rollback procedure needs two approvals")
	s.seed(convID, "rollback happened on staging yesterday without procedure")

	resp, err := s.searcher.Search(s.ctx, `"rollback procedure"`, searcher.SearchOptions{Limit: 10})
	s.Require().NoError(err)

	s.Equal(searcher.StrategyLexical, resp.Strategy)
	s.Require().Len(resp.Results, 1, "only the adjacent phrase should match")
	s.Equal(target, resp.Results[0].MessageID)
}

func (s *SearchTestSuite) TestPunctuationQueryStillMatches() {
	convID := s.newConversation("punct")
	target := s.seed(convID, "can't find the login (page) after the redesign")

	for _, q := range []string{"can't find", "login (page)"} {
		resp, err := s.searcher.Search(s.ctx, q, searcher.SearchOptions{Limit: 10})
		s.Require().NoError(err)
		s.Equal(searcher.StrategyLexical, resp.Strategy)
		s.Require().NotEmpty(resp.Results, "query %q should match the stored message", q)
		s.Equal(target, resp.Results[0].MessageID)
	}
}

func (s *SearchTestSuite) TestSemanticSearchRanksByOverlap() {
	convID := s.newConversation("mixed")
	near := s.seed(convID, "kubernetes cluster autoscaling misbehaving")
	s.seed(convID, "birthday cake recipe with chocolate")

	resp, err := s.searcher.Search(s.ctx, "kubernetes", searcher.SearchOptions{Limit: 10})
	s.Require().NoError(err)

	s.Equal(searcher.StrategySemantic, resp.Strategy)
	s.Require().NotEmpty(resp.Results)
	s.Equal(near, resp.Results[0].MessageID)
}

func (s *SearchTestSuite) TestConversationScoping() {
	convA := s.newConversation("a")
	convB := s.newConversation("b")
	inA := s.seed(convA, "shared deployment checklist item")
	s.seed(convB, "shared deployment checklist item copy")

	resp, err := s.searcher.Search(s.ctx, "deployment checklist", searcher.SearchOptions{
		Limit:          10,
		ConversationID: convA,
	})
	s.Require().NoError(err)
	s.Require().Len(resp.Results, 1)
	s.Equal(inA, resp.Results[0].MessageID)
}

func (s *SearchTestSuite) TestReembedSweepMakesMessagesSearchable() {
	convID := s.newConversation("backlog")
	for _, content := range []string{
		"pending note about certificate renewal",
		"pending note about database vacuuming",
	} {
		s.Require().NoError(s.store.SaveMessage(s.ctx, &storage.Message{
			ConversationID: convID, Role: "user", Content: content,
		}))
	}

	report, err := s.sweeper.Sweep(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, report.Embedded)

	resp, err := s.searcher.Search(s.ctx, "certificate", searcher.SearchOptions{Limit: 10})
	s.Require().NoError(err)
	s.Require().NotEmpty(resp.Results)
	s.Contains(resp.Results[0].Content, "certificate")
}

func (s *SearchTestSuite) TestDeleteConversationRemovesFromSearch() {
	convID := s.newConversation("doomed")
	s.seed(convID, "unique disposable marker phrase")

	resp, err := s.searcher.Search(s.ctx, `"disposable marker"`, searcher.SearchOptions{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(resp.Results, 1)

	s.Require().NoError(s.store.DeleteConversation(s.ctx, convID))
	s.searcher.InvalidateCache()

	resp, err = s.searcher.Search(s.ctx, `"disposable marker"`, searcher.SearchOptions{Limit: 10})
	s.Require().NoError(err)
	s.Empty(resp.Results)
}

func (s *SearchTestSuite) TestEmbeddingCacheAvoidsRepeatModelCalls() {
	convID := s.newConversation("cached")
	s.seed(convID, "repeated query target message")

	before := s.model.InferCalls()
	for i := 0; i < 3; i++ {
		_, err := s.searcher.Search(s.ctx, "repeated", searcher.SearchOptions{Limit: 5})
		s.Require().NoError(err)
	}
	after := s.model.InferCalls()
	s.LessOrEqual(after-before, int64(1), "query embedding should be served from cache after the first call")
}

func (s *SearchTestSuite) TestFusionWeightOverride() {
	convID := s.newConversation("weights")
	s.seed(convID, "tuning fusion of retrieval scores")

	semHeavy, err := s.searcher.Search(s.ctx, "fusion retrieval", searcher.SearchOptions{
		Limit:   5,
		Weights: searcher.FusionWeights{Semantic: 1.0, Lexical: 0.0},
	})
	s.Require().NoError(err)
	s.Require().NotEmpty(semHeavy.Results)
	s.InDelta(semHeavy.Results[0].Scores.Semantic, semHeavy.Results[0].Scores.Combined, 1e-9)

	lexHeavy, err := s.searcher.Search(s.ctx, "fusion retrieval", searcher.SearchOptions{
		Limit:   5,
		Weights: searcher.FusionWeights{Semantic: 0.0, Lexical: 1.0},
	})
	s.Require().NoError(err)
	s.Require().NotEmpty(lexHeavy.Results)
	s.InDelta(lexHeavy.Results[0].Scores.Lexical, lexHeavy.Results[0].Scores.Combined, 1e-9)
}
