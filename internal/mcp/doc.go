// Package mcp exposes the conversation store and hybrid retrieval engine as
// an MCP (Model Context Protocol) server over stdio.
//
// The server registers six tools:
//
//	save_message        - store a message (creating its conversation if
//	                      needed) and embed it inline when the model is up
//	search_messages     - hybrid semantic + keyword retrieval with optional
//	                      strategy override, fusion weights, date filters,
//	                      pagination, score explanations, and timing metrics
//	get_conversation    - fetch a conversation with its messages
//	delete_conversation - remove a conversation, its messages, and embeddings
//	reembed_messages    - sweep the store and embed every message that has
//	                      no embedding yet
//	get_status          - store counters plus embedding model health
//
// Tool errors follow JSON-RPC conventions: -32602 for invalid parameters,
// -32603 for internal failures, and server-specific codes for missing
// conversations (-32001), an offline model (-32002), and unsanitizable
// queries (-32004).
//
// The embedding model is warmed up lazily. A model outage never takes the
// server down: save_message defers embedding to the next sweep, and
// search_messages degrades to keyword-only results.
//
// Stdout is reserved for the MCP protocol; all logging goes to stderr.
package mcp
