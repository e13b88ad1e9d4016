package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// saveMessageTool returns the tool definition for save_message
func saveMessageTool() mcp.Tool {
	return mcp.Tool{
		Name:        "save_message",
		Description: "Save a conversation message and embed it for later retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation to append to; omit to start a new conversation",
				},
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Title for a newly created conversation",
				},
				"role": map[string]interface{}{
					"type":        "string",
					"description": "Speaker role",
					"enum":        []string{"user", "assistant", "system"},
					"default":     "user",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Message text to store",
				},
			},
			Required: []string{"content"},
		},
	}
}

// searchMessagesTool returns the tool definition for search_messages
func searchMessagesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_messages",
		Description: "Search stored messages with hybrid semantic and keyword retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query; wrap in quotes for an exact phrase, append * for prefix match",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results to skip for pagination",
					"default":     0,
					"minimum":     0,
				},
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Restrict the search to one conversation",
				},
				"strategy": map[string]interface{}{
					"type":        "string",
					"description": "Retrieval strategy: hybrid (semantic + keyword), semantic only, or lexical only. Omit to auto-select",
					"enum":        []string{"hybrid", "semantic", "lexical"},
				},
				"start_date": map[string]interface{}{
					"type":        "string",
					"description": "Only match messages created at or after this RFC 3339 timestamp",
				},
				"end_date": map[string]interface{}{
					"type":        "string",
					"description": "Only match messages created at or before this RFC 3339 timestamp",
				},
				"semantic_weight": map[string]interface{}{
					"type":        "number",
					"description": "Weight of the semantic score in fusion (default 0.6)",
					"minimum":     0.0,
				},
				"lexical_weight": map[string]interface{}{
					"type":        "number",
					"description": "Weight of the keyword score in fusion (default 0.4)",
					"minimum":     0.0,
				},
				"min_similarity": map[string]interface{}{
					"type":        "number",
					"description": "Minimum semantic similarity threshold (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"explain": map[string]interface{}{
					"type":        "boolean",
					"description": "Include score arithmetic per result",
					"default":     false,
				},
				"include_metrics": map[string]interface{}{
					"type":        "boolean",
					"description": "Include per-phase timing metrics in the response",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getConversationTool returns the tool definition for get_conversation
func getConversationTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_conversation",
		Description: "Fetch a conversation and its messages",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation to fetch",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of messages to return",
					"default":     50,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of messages to skip",
					"default":     0,
				},
			},
			Required: []string{"conversation_id"},
		},
	}
}

// deleteConversationTool returns the tool definition for delete_conversation
func deleteConversationTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_conversation",
		Description: "Delete a conversation with all its messages and embeddings",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation to delete",
				},
			},
			Required: []string{"conversation_id"},
		},
	}
}

// reembedMessagesTool returns the tool definition for reembed_messages
func reembedMessagesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reembed_messages",
		Description: "Embed every stored message that has no embedding yet",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report store statistics and embedding model health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
