package mcp

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dwhitley/recollect/internal/embedder"
	"github.com/dwhitley/recollect/internal/reembed"
	"github.com/dwhitley/recollect/internal/searcher"
	"github.com/dwhitley/recollect/internal/similarity"
	"github.com/dwhitley/recollect/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "recollect"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// EnvDBPath overrides the default database location
	EnvDBPath = "RECOLLECT_DB_PATH"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	store    storage.Store
	embedder *embedder.Generator
	searcher *searcher.Searcher
	sweeper  *reembed.Sweeper
	logger   *log.Logger
}

// NewServer wires storage, the embedding generator, and the hybrid searcher
// behind an MCP server. dbPath empty means RECOLLECT_DB_PATH, falling back to
// ~/.recollect/recollect.db.
func NewServer(dbPath string) (*Server, error) {
	if dbPath == "" {
		dbPath = os.Getenv(EnvDBPath)
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".recollect", "recollect.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	gen, err := embedder.NewFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	// Stdout carries the MCP protocol; everything else goes to stderr.
	logger := log.New(os.Stderr, "recollect: ", log.LstdFlags)

	sim := similarity.New(store, 0)
	srch, err := searcher.NewSearcher(store, sim, gen, searcher.Config{Logger: logger})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize searcher: %w", err)
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		store:    store,
		embedder: gen,
		searcher: srch,
		sweeper:  reembed.NewSweeper(store, gen, reembed.Config{Logger: logger}),
		logger:   logger,
	}
	s.registerTools()
	return s, nil
}

// Serve warms up the model and blocks serving MCP over stdio. A warm-up
// failure is logged, not fatal: lexical search still works while the model
// runtime is down, and the first embed call retries initialization.
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.store.Close() }()
	defer func() { _ = s.embedder.Close() }()

	if err := s.embedder.Initialize(ctx); err != nil {
		s.logger.Printf("embedder warm-up failed, semantic search degraded: %v", err)
	}
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(saveMessageTool(), s.handleSaveMessage)
	s.mcp.AddTool(searchMessagesTool(), s.handleSearchMessages)
	s.mcp.AddTool(getConversationTool(), s.handleGetConversation)
	s.mcp.AddTool(deleteConversationTool(), s.handleDeleteConversation)
	s.mcp.AddTool(reembedMessagesTool(), s.handleReembedMessages)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
