package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// normTolerance is how far a stored vector's L2 norm may deviate from 1.0.
const normTolerance = 1e-3

// checkNormalized enforces the write-time unit-norm invariant.
func checkNormalized(vector []float32) error {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1.0) > normTolerance {
		return fmt.Errorf("%w: L2 norm is %f", ErrNotNormalized, norm)
	}
	return nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// streamEmbeddings walks embedded messages newest-first in bounded chunks so
// peak memory stays constant regardless of store size. The callback returns
// false to stop the scan early.
func streamEmbeddings(ctx context.Context, db *sql.DB, filter EmbeddingFilter, chunkSize int, fn func(chunk []StoredEmbedding) (bool, error)) error {
	if chunkSize <= 0 {
		chunkSize = 500
	}

	query := `
		SELECT m.id, m.conversation_id, m.content, e.vector, m.created_at
		FROM embeddings e
		INNER JOIN messages m ON m.id = e.message_id
	`
	var conds []string
	var args []interface{}

	if filter.ConversationID != "" {
		conds = append(conds, "m.conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if len(filter.ExcludeIDs) > 0 {
		conds = append(conds, "m.id NOT IN ("+placeholders(len(filter.ExcludeIDs))+")")
		for _, id := range filter.ExcludeIDs {
			args = append(args, id)
		}
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?"

	for offset := 0; ; offset += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunkArgs := append(append([]interface{}{}, args...), chunkSize, offset)
		chunk, err := fetchEmbeddingChunk(ctx, db, query, chunkArgs)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}

		keepGoing, err := fn(chunk)
		if err != nil {
			return err
		}
		if !keepGoing || len(chunk) < chunkSize {
			return nil
		}
	}
}

func fetchEmbeddingChunk(ctx context.Context, db *sql.DB, query string, args []interface{}) ([]StoredEmbedding, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to stream embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunk []StoredEmbedding
	for rows.Next() {
		var se StoredEmbedding
		var blob []byte
		if err := rows.Scan(&se.MessageID, &se.ConversationID, &se.Content, &blob, &se.CreatedAt); err != nil {
			return nil, err
		}
		se.Vector = deserializeVector(blob)
		chunk = append(chunk, se)
	}
	return chunk, rows.Err()
}

// searchMessages performs BM25 full-text search using FTS5. The match
// expression must already be sanitized by the query package.
func searchMessages(ctx context.Context, db *sql.DB, match string, filter SearchFilter) ([]TextResult, error) {
	if match == "" {
		return nil, fmt.Errorf("empty search expression")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT m.id, m.conversation_id, m.content,
		       snippet(messages_fts, 0, '[', ']', '…', 12) as snip,
		       bm25(messages_fts) as score,
		       m.created_at
		FROM messages_fts
		INNER JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ?
	`
	args := []interface{}{match}

	if filter.ConversationID != "" {
		query += " AND m.conversation_id = ?"
		args = append(args, filter.ConversationID)
	}
	if filter.StartDate != nil {
		query += " AND m.created_at >= ?"
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		query += " AND m.created_at <= ?"
		args = append(args, *filter.EndDate)
	}

	// bm25() is negative, lower is better
	query += " ORDER BY score LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []TextResult
	for rows.Next() {
		var r TextResult
		if err := rows.Scan(&r.MessageID, &r.ConversationID, &r.Content, &r.Snippet, &r.Score, &r.CreatedAt); err != nil {
			return nil, err
		}
		// Convert BM25 (negative, lower is better) to a positive score in
		// (0,1]; typical scores land in [-50, 0].
		r.Score = 1.0 / (1.0 + math.Abs(r.Score)/50.0)
		results = append(results, r)
	}
	return results, rows.Err()
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}
