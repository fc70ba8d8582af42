package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"promptkeeper/internal/core"
)

// SQLiteReader implements Reader for SQLite databases.
type SQLiteReader struct {
	db *sql.DB
}

// NewSQLiteReader creates a new SQLite exchange reader.
func NewSQLiteReader(db *sql.DB) (*SQLiteReader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteReader{db: db}, nil
}

const sqliteSelectColumns = `id, timestamp, model, messages, response, raw_response,
	total_tokens, response_ms, created, prompt_tokens, completion_tokens`

// ListSince returns exchanges recorded at or after since, newest first.
// A zero since returns all exchanges.
func (r *SQLiteReader) ListSince(ctx context.Context, since time.Time) ([]Exchange, error) {
	query := `SELECT ` + sqliteSelectColumns + ` FROM prompt_history`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE timestamp >= ?`
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt history: %w", err)
	}
	defer rows.Close()

	exchanges := make([]Exchange, 0)
	for rows.Next() {
		var ex Exchange
		var ts string
		var messagesJSON, responseJSON, rawResponseJSON sql.NullString

		if err := rows.Scan(&ex.ID, &ts, &ex.Model, &messagesJSON, &responseJSON, &rawResponseJSON,
			&ex.TotalTokens, &ex.ResponseMs, &ex.Created, &ex.PromptTokens, &ex.CompletionTokens); err != nil {
			return nil, fmt.Errorf("failed to scan prompt history row: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp for exchange %s: %w", ex.ID, err)
		}
		ex.Timestamp = parsed

		ex.Messages = decodeMessages(messagesJSON.String, ex.ID)
		ex.Response = nullStringToRaw(responseJSON)
		ex.RawResponse = nullStringToRaw(rawResponseJSON)

		exchanges = append(exchanges, ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prompt history rows: %w", err)
	}

	return exchanges, nil
}

// decodeMessages unmarshals the stored message list, degrading to an empty
// list on malformed data rather than failing the whole query.
func decodeMessages(raw string, id string) []core.Message {
	if raw == "" {
		return []core.Message{}
	}
	var messages []core.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		slog.Warn("failed to unmarshal stored messages", "id", id, "error", err)
		return []core.Message{}
	}
	return messages
}

func nullStringToRaw(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
