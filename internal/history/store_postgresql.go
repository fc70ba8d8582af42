package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates a new PostgreSQL exchange store.
// It creates the prompt_history table if it doesn't exist.
func NewPostgreSQLStore(pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS prompt_history (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			model TEXT,
			messages JSONB,
			response JSONB,
			raw_response JSONB,
			total_tokens INTEGER DEFAULT 0,
			response_ms BIGINT DEFAULT 0,
			created BIGINT DEFAULT 0,
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
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// WriteBatch writes multiple exchanges to PostgreSQL. Small batches use
// individual inserts; larger ones run inside a transaction.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, exchanges []*Exchange) error {
	if len(exchanges) == 0 {
		return nil
	}

	if len(exchanges) < 10 {
		return s.writeBatchSmall(ctx, exchanges)
	}
	return s.writeBatchLarge(ctx, exchanges)
}

const insertExchangeSQL = `
	INSERT INTO prompt_history (id, timestamp, model, messages, response, raw_response,
		total_tokens, response_ms, created, prompt_tokens, completion_tokens)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING
`

func (s *PostgreSQLStore) writeBatchSmall(ctx context.Context, exchanges []*Exchange) error {
	for _, ex := range exchanges {
		_, err := s.pool.Exec(ctx, insertExchangeSQL,
			ex.ID, ex.Timestamp, ex.Model,
			marshalJSON(ex.Messages, ex.ID), []byte(ex.Response), []byte(ex.RawResponse),
			ex.TotalTokens, ex.ResponseMs, ex.Created, ex.PromptTokens, ex.CompletionTokens)
		if err != nil {
			slog.Warn("failed to insert exchange", "error", err, "id", ex.ID)
		}
	}
	return nil
}

func (s *PostgreSQLStore) writeBatchLarge(ctx context.Context, exchanges []*Exchange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, ex := range exchanges {
		_, err = tx.Exec(ctx, insertExchangeSQL,
			ex.ID, ex.Timestamp, ex.Model,
			marshalJSON(ex.Messages, ex.ID), []byte(ex.Response), []byte(ex.RawResponse),
			ex.TotalTokens, ex.ResponseMs, ex.Created, ex.PromptTokens, ex.CompletionTokens)
		if err != nil {
			slog.Warn("failed to insert exchange in batch", "error", err, "id", ex.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op; the pool is owned by the storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
