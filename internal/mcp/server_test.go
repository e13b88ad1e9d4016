package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"io"
	"log"
	"math"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwhitley/recollect/internal/embedder"
	"github.com/dwhitley/recollect/internal/reembed"
	"github.com/dwhitley/recollect/internal/searcher"
	"github.com/dwhitley/recollect/internal/similarity"
	"github.com/dwhitley/recollect/internal/storage"
)

// fakeModel is a deterministic in-process ModelClient so handler tests run
// without a model runtime.
type fakeModel struct{}

func (fakeModel) Infer(ctx context.Context, text string) (embedder.ModelOutput, error) {
	return embedder.ModelOutput{Flat: textVector(text)}, nil
}

func (fakeModel) InferBatch(ctx context.Context, texts []string) (embedder.ModelOutput, error) {
	batch := make([][]float32, len(texts))
	for i, t := range texts {
		batch[i] = textVector(t)
	}
	return embedder.ModelOutput{Batch: batch}, nil
}

func (fakeModel) Model() string { return "nomic-embed-text" }
func (fakeModel) Close() error  { return nil }

func textVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, 8)
	var norm float64
	for i := range v {
		bits := binary.LittleEndian.Uint32(sum[i*4:])
		x := float64(bits%2000)/1000.0 - 1.0
		if x == 0 {
			x = 0.1
		}
		v[i] = float32(x)
		norm += x * x
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := embedder.DefaultConfig()
	cfg.Dimension = 8
	gen, err := embedder.New(cfg, fakeModel{})
	require.NoError(t, err)
	require.NoError(t, gen.Initialize(context.Background()))
	t.Cleanup(func() { _ = gen.Close() })

	logger := log.New(io.Discard, "", 0)
	sim := similarity.New(store, 0)
	srch, err := searcher.NewSearcher(store, sim, gen, searcher.Config{Logger: logger})
	require.NoError(t, err)

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		store:    store,
		embedder: gen,
		searcher: srch,
		sweeper:  reembed.NewSweeper(store, gen, reembed.Config{Logger: logger}),
		logger:   logger,
	}
	s.registerTools()
	return s
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func saveMessage(t *testing.T, s *Server, conversationID, content string) (messageID, convID string) {
	t.Helper()
	args := map[string]interface{}{"content": content}
	if conversationID != "" {
		args["conversation_id"] = conversationID
	}
	result, err := s.handleSaveMessage(context.Background(), callRequest(args))
	require.NoError(t, err)
	payload := resultJSON(t, result)
	return payload["message_id"].(string), payload["conversation_id"].(string)
}

func TestSaveMessageCreatesConversation(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleSaveMessage(context.Background(), callRequest(map[string]interface{}{
		"content": "remember to rotate the api keys",
		"title":   "ops notes",
	}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.True(t, payload["conversation_created"].(bool))
	assert.True(t, payload["embedded"].(bool), "inline embedding should succeed with a live model")
	assert.NotEmpty(t, payload["message_id"])
	assert.NotEmpty(t, payload["conversation_id"])
}

func TestSaveMessageRejectsMissingContent(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleSaveMessage(context.Background(), callRequest(map[string]interface{}{}))
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}

func TestSaveMessageUnknownConversation(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleSaveMessage(context.Background(), callRequest(map[string]interface{}{
		"content":         "hello",
		"conversation_id": "no-such-conversation",
	}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeNotFound, mcpErr.Code)
}

func TestSearchMessagesRoundTrip(t *testing.T) {
	s := newTestServer(t)

	_, convID := saveMessage(t, s, "", "the database connection pool keeps timing out")
	saveMessage(t, s, convID, "switched the connection pool to lazy initialization")
	saveMessage(t, s, convID, "weather was nice today")

	result, err := s.handleSearchMessages(context.Background(), callRequest(map[string]interface{}{
		"query": "connection pool",
		"limit": float64(10),
	}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.Equal(t, "hybrid", payload["strategy"])
	results := payload["results"].([]interface{})
	require.NotEmpty(t, results)

	first := results[0].(map[string]interface{})
	assert.Contains(t, first["content"], "connection pool")
	scores := first["scores"].(map[string]interface{})
	assert.Greater(t, scores["combined"].(float64), 0.0)
}

func TestSearchMessagesExplainAndMetrics(t *testing.T) {
	s := newTestServer(t)
	_, convID := saveMessage(t, s, "", "rotating api credentials quarterly")
	_ = convID

	result, err := s.handleSearchMessages(context.Background(), callRequest(map[string]interface{}{
		"query":           "rotating credentials",
		"explain":         true,
		"include_metrics": true,
	}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	require.Contains(t, payload, "metrics")
	results := payload["results"].([]interface{})
	require.NotEmpty(t, results)
	first := results[0].(map[string]interface{})
	assert.Contains(t, first["explanation"], "semantic")
}

func TestSearchMessagesInvalidQuery(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleSearchMessages(context.Background(), callRequest(map[string]interface{}{
		"query": "((((",
	}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidQuery, mcpErr.Code)
}

func TestSearchMessagesInvalidStrategy(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleSearchMessages(context.Background(), callRequest(map[string]interface{}{
		"query":    "anything",
		"strategy": "psychic",
	}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)
}

func TestGetConversation(t *testing.T) {
	s := newTestServer(t)

	_, convID := saveMessage(t, s, "", "first message")
	saveMessage(t, s, convID, "second message")

	result, err := s.handleGetConversation(context.Background(), callRequest(map[string]interface{}{
		"conversation_id": convID,
	}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	assert.Equal(t, convID, payload["conversation_id"])
	messages := payload["messages"].([]interface{})
	assert.Len(t, messages, 2)
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleGetConversation(context.Background(), callRequest(map[string]interface{}{
		"conversation_id": "missing",
	}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeNotFound, mcpErr.Code)
}

func TestDeleteConversation(t *testing.T) {
	s := newTestServer(t)

	_, convID := saveMessage(t, s, "", "disposable")
	result, err := s.handleDeleteConversation(context.Background(), callRequest(map[string]interface{}{
		"conversation_id": convID,
	}))
	require.NoError(t, err)
	payload := resultJSON(t, result)
	assert.True(t, payload["deleted"].(bool))

	_, err = s.handleGetConversation(context.Background(), callRequest(map[string]interface{}{
		"conversation_id": convID,
	}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeNotFound, mcpErr.Code)
}

func TestReembedMessages(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// Bypass save_message so the messages land without embeddings.
	conv := &storage.Conversation{Title: "backlog"}
	require.NoError(t, s.store.CreateConversation(ctx, conv))
	for _, content := range []string{"first pending", "second pending", "third pending"} {
		require.NoError(t, s.store.SaveMessage(ctx, &storage.Message{
			ConversationID: conv.ID, Role: "user", Content: content,
		}))
	}

	result, err := s.handleReembedMessages(ctx, callRequest(map[string]interface{}{}))
	require.NoError(t, err)
	payload := resultJSON(t, result)
	assert.Equal(t, float64(3), payload["scanned"])
	assert.Equal(t, float64(3), payload["embedded"])
	assert.Equal(t, float64(0), payload["failed"])

	count, err := s.store.CountEmbedded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGetStatus(t *testing.T) {
	s := newTestServer(t)
	saveMessage(t, s, "", "status fixture")

	result, err := s.handleGetStatus(context.Background(), callRequest(map[string]interface{}{}))
	require.NoError(t, err)

	payload := resultJSON(t, result)
	store := payload["store"].(map[string]interface{})
	assert.Equal(t, float64(1), store["conversations"])
	assert.Equal(t, float64(1), store["messages"])
	assert.Equal(t, float64(1), store["embedded"])

	emb := payload["embedder"].(map[string]interface{})
	assert.Equal(t, "nomic-embed-text", emb["model"])
	assert.Equal(t, "closed", emb["circuit_state"])
}
