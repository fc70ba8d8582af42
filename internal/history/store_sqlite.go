package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SQLite has a default limit of 999 bindable parameters per query
// (SQLITE_MAX_VARIABLE_NUMBER). With 11 columns per exchange we can insert
// up to 90 rows per statement; larger batches are chunked.
const (
	maxSQLiteParams    = 999
	columnsPerExchange = 11
	maxRowsPerInsert   = maxSQLiteParams / columnsPerExchange
)

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite exchange store.
// It creates the prompt_history table if it doesn't exist.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS prompt_history (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			model TEXT,
			messages JSON,
			response JSON,
			raw_response JSON,
			total_tokens INTEGER DEFAULT 0,
			response_ms INTEGER DEFAULT 0,
			created INTEGER DEFAULT 0,
			prompt_tokens INTEGER DEFAULT 0,
			completion_tokens INTEGER DEFAULT 0
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt_history table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_history_timestamp ON prompt_history(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_history_model ON prompt_history(model)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// WriteBatch writes multiple exchanges using batch inserts, chunked to stay
// within SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, exchanges []*Exchange) error {
	if len(exchanges) == 0 {
		return nil
	}

	for i := 0; i < len(exchanges); i += maxRowsPerInsert {
		end := i + maxRowsPerInsert
		if end > len(exchanges) {
			end = len(exchanges)
		}
		chunk := exchanges[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]interface{}, 0, len(chunk)*columnsPerExchange)

		for j, ex := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				ex.ID,
				ex.Timestamp.UTC().Format(time.RFC3339Nano),
				ex.Model,
				string(marshalJSON(ex.Messages, ex.ID)),
				string(ex.Response),
				string(ex.RawResponse),
				ex.TotalTokens,
				ex.ResponseMs,
				ex.Created,
				ex.PromptTokens,
				ex.CompletionTokens,
			)
		}

		query := `INSERT OR IGNORE INTO prompt_history (id, timestamp, model, messages, response, raw_response,
			total_tokens, response_ms, created, prompt_tokens, completion_tokens) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert exchange batch %d: %w", i/maxRowsPerInsert, err)
		}
	}

	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op; the DB connection is owned by the storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}
