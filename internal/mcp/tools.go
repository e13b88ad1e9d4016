package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dwhitley/recollect/internal/searcher"
	"github.com/dwhitley/recollect/internal/storage"
	"github.com/dwhitley/recollect/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound      = -32001 // Referenced conversation or message does not exist
	ErrorCodeModelOffline  = -32002 // Embedding model is unavailable
	ErrorCodeInvalidQuery  = -32004 // Query failed sanitization
)

// handleSaveMessage handles the save_message tool invocation
func (s *Server) handleSaveMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	content, ok := args["content"].(string)
	if !ok || content == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "content parameter is required", map[string]interface{}{
			"param":  "content",
			"reason": "missing or empty",
		})
	}

	conversationID := getStringDefault(args, "conversation_id", "")
	role := getStringDefault(args, "role", "user")

	createdConversation := false
	if conversationID == "" {
		conv := &storage.Conversation{Title: getStringDefault(args, "title", "")}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to create conversation", errData(err))
		}
		conversationID = conv.ID
		createdConversation = true
	} else if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newMCPError(ErrorCodeNotFound, "conversation not found", map[string]interface{}{
				"conversation_id": conversationID,
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "failed to load conversation", errData(err))
	}

	msg := &storage.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to save message", errData(err))
	}
	s.searcher.InvalidateCache()

	// Embed inline so the message is searchable immediately. If the model
	// is down the message stays queued for the next reembed sweep.
	embeddedNow := false
	if err := s.embedder.Initialize(ctx); err == nil {
		if vector, err := s.embedder.Embed(ctx, content); err == nil {
			emb := &storage.Embedding{
				MessageID: msg.ID,
				Vector:    vector,
				Dimension: len(vector),
				Model:     s.embedder.Model(),
			}
			if err := s.store.UpsertEmbedding(ctx, emb); err != nil {
				s.logger.Printf("failed to store embedding for %s: %v", msg.ID, err)
			} else {
				embeddedNow = true
			}
		} else {
			s.logger.Printf("failed to embed message %s, deferred to sweep: %v", msg.ID, err)
		}
	}

	response := map[string]interface{}{
		"message_id":           msg.ID,
		"conversation_id":      conversationID,
		"conversation_created": createdConversation,
		"embedded":             embeddedNow,
		"created_at":           msg.CreatedAt.Format(time.RFC3339),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchMessages handles the search_messages tool invocation
func (s *Server) handleSearchMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	queryText, ok := args["query"].(string)
	if !ok || queryText == "" {
		return nil, newMCPError(ErrorCodeInvalidQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	opts := searcher.SearchOptions{
		Limit:          getIntDefault(args, "limit", 10),
		Offset:         getIntDefault(args, "offset", 0),
		ConversationID: getStringDefault(args, "conversation_id", ""),
		Strategy:       searcher.Strategy(getStringDefault(args, "strategy", "")),
		Explain:        getBoolDefault(args, "explain", false),
		IncludeMetrics: getBoolDefault(args, "include_metrics", false),
		UseCache:       true,
	}
	if opts.Limit < 1 || opts.Limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": opts.Limit,
		})
	}
	switch opts.Strategy {
	case searcher.StrategyAuto, searcher.StrategyHybrid, searcher.StrategySemantic, searcher.StrategyLexical:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid strategy", map[string]interface{}{
			"param":   "strategy",
			"value":   string(opts.Strategy),
			"allowed": []string{"hybrid", "semantic", "lexical"},
		})
	}

	if raw := getStringDefault(args, "start_date", ""); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "start_date must be RFC 3339", errData(err))
		}
		opts.StartDate = &ts
	}
	if raw := getStringDefault(args, "end_date", ""); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "end_date must be RFC 3339", errData(err))
		}
		opts.EndDate = &ts
	}

	semW := getFloatDefault(args, "semantic_weight", 0)
	lexW := getFloatDefault(args, "lexical_weight", 0)
	if semW != 0 || lexW != 0 {
		opts.Weights = searcher.FusionWeights{Semantic: semW, Lexical: lexW}
	}
	opts.SemanticThreshold = getFloatDefault(args, "min_similarity", 0)

	// Lazy warm-up: harmless if already initialized, and a failure just
	// degrades the semantic branch.
	if err := s.embedder.Initialize(ctx); err != nil {
		s.logger.Printf("embedder unavailable, semantic search degraded: %v", err)
	}

	resp, err := s.searcher.Search(ctx, queryText, opts)
	if err != nil {
		if errors.Is(err, types.ErrValidation) {
			return nil, newMCPError(ErrorCodeInvalidQuery, "invalid query", errData(err))
		}
		return nil, newMCPError(ErrorCodeInternalError, "search failed", errData(err))
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		entry := map[string]interface{}{
			"message_id":      r.MessageID,
			"conversation_id": r.ConversationID,
			"content":         r.Content,
			"match_type":      string(r.MatchType),
			"created_at":      r.CreatedAt.Format(time.RFC3339),
			"scores": map[string]interface{}{
				"semantic": r.Scores.Semantic,
				"lexical":  r.Scores.Lexical,
				"combined": r.Scores.Combined,
			},
		}
		if len(r.Highlights) > 0 {
			entry["highlights"] = r.Highlights
		}
		if r.Explanation != "" {
			entry["explanation"] = r.Explanation
		}
		results[i] = entry
	}

	response := map[string]interface{}{
		"query_id":    resp.QueryID,
		"strategy":    string(resp.Strategy),
		"results":     results,
		"total":       resp.Total,
		"has_more":    resp.HasMore,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	if resp.Metrics != nil {
		response["metrics"] = map[string]interface{}{
			"analysis_us":    resp.Metrics.Timings.Analysis.Microseconds(),
			"semantic_us":    resp.Metrics.Timings.Semantic.Microseconds(),
			"lexical_us":     resp.Metrics.Timings.Lexical.Microseconds(),
			"fusion_us":      resp.Metrics.Timings.Fusion.Microseconds(),
			"formatting_us":  resp.Metrics.Timings.Formatting.Microseconds(),
			"total_us":       resp.Metrics.Timings.Total.Microseconds(),
			"semantic_count": resp.Metrics.SemanticCount,
			"lexical_count":  resp.Metrics.LexicalCount,
		}
		if resp.Metrics.DegradedBranch != "" {
			response["degraded_branch"] = resp.Metrics.DegradedBranch
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetConversation handles the get_conversation tool invocation
func (s *Server) handleGetConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	conversationID, ok := args["conversation_id"].(string)
	if !ok || conversationID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "conversation_id parameter is required", nil)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeNotFound, "conversation not found", map[string]interface{}{
			"conversation_id": conversationID,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to load conversation", errData(err))
	}

	limit := getIntDefault(args, "limit", 50)
	offset := getIntDefault(args, "offset", 0)
	messages, err := s.store.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list messages", errData(err))
	}

	msgList := make([]map[string]interface{}, len(messages))
	for i, m := range messages {
		msgList[i] = map[string]interface{}{
			"message_id": m.ID,
			"role":       m.Role,
			"content":    m.Content,
			"created_at": m.CreatedAt.Format(time.RFC3339),
		}
	}

	response := map[string]interface{}{
		"conversation_id": conv.ID,
		"title":           conv.Title,
		"created_at":      conv.CreatedAt.Format(time.RFC3339),
		"updated_at":      conv.UpdatedAt.Format(time.RFC3339),
		"messages":        msgList,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDeleteConversation handles the delete_conversation tool invocation
func (s *Server) handleDeleteConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	conversationID, ok := args["conversation_id"].(string)
	if !ok || conversationID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "conversation_id parameter is required", nil)
	}

	err := s.store.DeleteConversation(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeNotFound, "conversation not found", map[string]interface{}{
			"conversation_id": conversationID,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to delete conversation", errData(err))
	}
	s.searcher.InvalidateCache()

	response := map[string]interface{}{
		"deleted":         true,
		"conversation_id": conversationID,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleReembedMessages handles the reembed_messages tool invocation
func (s *Server) handleReembedMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.embedder.Initialize(ctx); err != nil {
		return nil, newMCPError(ErrorCodeModelOffline, "embedding model unavailable", errData(err))
	}

	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "reembed sweep failed", errData(err))
	}
	if report.Embedded > 0 {
		s.searcher.InvalidateCache()
	}

	response := map[string]interface{}{
		"scanned":     report.Scanned,
		"embedded":    report.Embedded,
		"failed":      report.Failed,
		"model":       report.Model,
		"dimension":   report.Dimension,
		"duration_ms": report.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read store statistics", errData(err))
	}

	cacheEntries, cacheBytes := s.embedder.CacheStats()
	response := map[string]interface{}{
		"store": map[string]interface{}{
			"conversations": stats.Conversations,
			"messages":      stats.Messages,
			"embedded":      stats.Embedded,
			"pending":       stats.Messages - stats.Embedded,
		},
		"embedder": map[string]interface{}{
			"model":          s.embedder.Model(),
			"dimension":      s.embedder.Dimension(),
			"healthy":        s.embedder.IsHealthy(),
			"circuit_state":  string(s.embedder.CircuitState()),
			"avg_latency_ms": s.embedder.AvgLatency().Milliseconds(),
			"cache_entries":  cacheEntries,
			"cache_bytes":    cacheBytes,
		},
		"storage_driver": storage.BuildMode,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func errData(err error) map[string]interface{} {
	return map[string]interface{}{"error": err.Error()}
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a float parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
