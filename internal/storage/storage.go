package storage

import (
	"context"
	"time"
)

// Store defines the persistence interface for conversations, messages, and
// their embeddings. The retrieval core treats it as a black box beyond these
// operations.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Message operations
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error)
	DeleteMessage(ctx context.Context, id string) error

	// Embedding operations. Vectors are validated as unit-normalized at
	// write time so the read path can trust dot products.
	UpsertEmbedding(ctx context.Context, emb *Embedding) error
	GetEmbedding(ctx context.Context, messageID string) (*Embedding, error)
	CountEmbedded(ctx context.Context) (int, error)
	ListUnembedded(ctx context.Context, limit int) ([]*Message, error)

	// StreamEmbeddings walks stored embeddings newest-first in bounded
	// chunks. The callback returns false to stop early.
	StreamEmbeddings(ctx context.Context, filter EmbeddingFilter, chunkSize int, fn func(chunk []StoredEmbedding) (bool, error)) error

	// SearchMessages runs a sanitized FTS5 match expression over message
	// content with BM25 ranking and snippet extraction.
	SearchMessages(ctx context.Context, match string, filter SearchFilter) ([]TextResult, error)

	// Stats reports store-level counters for status reporting.
	Stats(ctx context.Context) (*StoreStats, error)

	Close() error
}

// Conversation groups a sequence of messages.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one stored conversation turn.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Embedding is the persisted vector for one message. Immutable once written;
// re-embedding replaces it wholesale.
type Embedding struct {
	MessageID string
	Vector    []float32
	Dimension int
	Model     string
	CreatedAt time.Time
}

// StoredEmbedding joins an embedding with its message for streaming scans.
type StoredEmbedding struct {
	MessageID      string
	ConversationID string
	Content        string
	Vector         []float32
	CreatedAt      time.Time
}

// EmbeddingFilter restricts a streaming scan.
type EmbeddingFilter struct {
	ConversationID string
	ExcludeIDs     []string
}

// SearchFilter restricts a full-text search.
type SearchFilter struct {
	ConversationID string
	StartDate      *time.Time
	EndDate        *time.Time
	Limit          int
	Offset         int
}

// TextResult is one lexical match with its normalized relevance score.
type TextResult struct {
	MessageID      string
	ConversationID string
	Content        string
	Snippet        string
	Score          float64 // normalized to (0,1], higher is better
	CreatedAt      time.Time
}

// StoreStats summarizes store contents.
type StoreStats struct {
	Conversations int
	Messages      int
	Embedded      int
}
