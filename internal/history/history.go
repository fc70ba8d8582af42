// Package history provides durable recording of completed exchanges and
// read access for the search engine. Writes are buffered and asynchronous;
// a failure to record never affects the client-visible response.
package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"promptkeeper/internal/core"
)

// Exchange is one logged request/response pair with usage metadata.
// Once written, an exchange is immutable; there is no update or delete path.
type Exchange struct {
	// ID is a unique identifier for this exchange (UUID)
	ID string `json:"id"`

	// Timestamp is when the exchange was durably recorded
	Timestamp time.Time `json:"timestamp"`

	// Model is the provider/model identifier, opaque to the gateway
	Model string `json:"model"`

	// Messages is the ordered input. Prompt-style requests are normalized
	// into a single synthetic user message before recording.
	Messages []core.Message `json:"messages"`

	// Response is the normalized output projection: message content, role
	// and finish reason.
	Response json.RawMessage `json:"response"`

	// RawResponse is the full provider output. Currently identical to
	// Response, but persisted independently so the two can diverge.
	RawResponse json.RawMessage `json:"raw_response"`

	TotalTokens      int `json:"total_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	// ResponseMs is the provider-reported latency in milliseconds (0 if unknown)
	ResponseMs int64 `json:"response_ms"`

	// Created is the provider-reported completion instant as a Unix
	// timestamp, falling back to the time of recording.
	Created int64 `json:"created"`
}

// responseProjection is the normalized shape persisted in the response column.
type responseProjection struct {
	Choices []core.Choice `json:"choices"`
	Model   string        `json:"model,omitempty"`
	Usage   *core.Usage   `json:"usage,omitempty"`
	Created int64         `json:"created,omitempty"`
}

// NewExchange builds an Exchange from a completed (or reconstructed)
// response. Missing usage and timing data defaults to zero; a missing
// created instant falls back to the current time. It never fails.
func NewExchange(model string, messages []core.Message, resp *core.ChatResponse) *Exchange {
	now := time.Now().UTC()

	created := resp.Created
	if created == 0 {
		created = now.Unix()
	}

	ex := &Exchange{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Model:      model,
		Messages:   messages,
		ResponseMs: resp.ResponseMs,
		Created:    created,
	}
	if ex.Messages == nil {
		ex.Messages = []core.Message{}
	}

	if resp.Usage != nil {
		ex.TotalTokens = resp.Usage.TotalTokens
		ex.PromptTokens = resp.Usage.PromptTokens
		ex.CompletionTokens = resp.Usage.CompletionTokens
	}

	projection := responseProjection{
		Choices: resp.Choices,
		Model:   resp.Model,
		Usage:   resp.Usage,
		Created: created,
	}
	if projection.Model == "" {
		projection.Model = model
	}
	ex.Response = marshalJSON(projection, ex.ID)
	ex.RawResponse = marshalJSON(projection, ex.ID)

	return ex
}

// marshalJSON marshals v, degrading to an empty object rather than failing
// the recording path.
func marshalJSON(v interface{}, id string) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal exchange payload", "id", id, "error", err)
		return json.RawMessage("{}")
	}
	return b
}

// Store defines the interface for exchange storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes multiple exchanges to storage.
	// This is called by the Recorder when flushing buffered exchanges.
	WriteBatch(ctx context.Context, exchanges []*Exchange) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// Reader provides read access to recorded exchanges for the search engine.
type Reader interface {
	// ListSince returns exchanges whose timestamp is at or after the given
	// instant, newest first. A zero since returns all exchanges.
	ListSince(ctx context.Context, since time.Time) ([]Exchange, error)
}
