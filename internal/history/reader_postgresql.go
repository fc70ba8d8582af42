package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLReader implements Reader for PostgreSQL databases.
type PostgreSQLReader struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLReader creates a new PostgreSQL exchange reader.
func NewPostgreSQLReader(pool *pgxpool.Pool) (*PostgreSQLReader, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLReader{pool: pool}, nil
}

// ListSince returns exchanges recorded at or after since, newest first.
// A zero since returns all exchanges.
func (r *PostgreSQLReader) ListSince(ctx context.Context, since time.Time) ([]Exchange, error) {
	query := `SELECT id, timestamp, model, messages, response, raw_response,
		total_tokens, response_ms, created, prompt_tokens, completion_tokens
		FROM prompt_history`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE timestamp >= $1`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt history: %w", err)
	}
	defer rows.Close()

	exchanges := make([]Exchange, 0)
	for rows.Next() {
		var ex Exchange
		var messagesJSON, responseJSON, rawResponseJSON []byte

		if err := rows.Scan(&ex.ID, &ex.Timestamp, &ex.Model, &messagesJSON, &responseJSON, &rawResponseJSON,
			&ex.TotalTokens, &ex.ResponseMs, &ex.Created, &ex.PromptTokens, &ex.CompletionTokens); err != nil {
			return nil, fmt.Errorf("failed to scan prompt history row: %w", err)
		}

		ex.Messages = decodeMessages(string(messagesJSON), ex.ID)
		ex.Response = responseJSON
		ex.RawResponse = rawResponseJSON

		exchanges = append(exchanges, ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prompt history rows: %w", err)
	}

	return exchanges, nil
}
