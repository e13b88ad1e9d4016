// Package storage provides SQLite-backed persistence for conversations,
// messages, and their embeddings.
//
// The store uses a single SQLite database in WAL mode with three concerns:
//
//   - Relational tables for conversations and messages, with cascade deletes
//     so removing a conversation removes its messages and embeddings.
//   - An FTS5 external-content index over message content, kept in sync by
//     triggers, queried with BM25 ranking and snippet extraction.
//   - An embeddings table holding unit-normalized float32 vectors as
//     little-endian blobs, validated at write time.
//
// Two driver wirings are supported via build tags: the default pure-Go
// modernc.org/sqlite, and mattn/go-sqlite3 under the cgo_sqlite tag.
//
// Example usage:
//
//	store, err := storage.NewSQLiteStore("/path/to/recollect.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	results, err := store.SearchMessages(ctx, `"error handling"`, storage.SearchFilter{Limit: 10})
//
// Large scans go through StreamEmbeddings, which walks embedded messages
// newest-first in fixed-size chunks so memory stays bounded:
//
//	err = store.StreamEmbeddings(ctx, storage.EmbeddingFilter{}, 500,
//	    func(chunk []storage.StoredEmbedding) (bool, error) {
//	        for _, se := range chunk {
//	            // score se.Vector
//	        }
//	        return true, nil
//	    })
package storage
