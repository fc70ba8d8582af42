// Package stream relays streamed completion chunks to the client while
// reconstructing one complete logical response for durable recording.
package stream

import (
	"errors"
	"strings"

	"promptkeeper/internal/core"
)

// maxContentCapture bounds accumulated content (1MB) so a runaway stream
// can't exhaust memory.
const maxContentCapture = 1024 * 1024

// ErrNoChunks is returned by Complete when nothing was accumulated.
var ErrNoChunks = errors.New("no chunks accumulated")

// Builder accumulates streamed chunks and synthesizes a complete response
// equivalent to what the provider would have returned without streaming:
// delta content is concatenated, the final finish reason and final usage
// totals win, and identity fields come from the first chunk that carries them.
type Builder struct {
	id           string
	model        string
	created      int64
	role         string
	finishReason string
	content      strings.Builder
	usage        *core.Usage
	responseMs   int64

	added      int
	contentLen int
	truncated  bool
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add accumulates one chunk. Nil and empty chunks are ignored.
func (b *Builder) Add(chunk *core.StreamChunk) {
	if chunk.IsEmpty() {
		return
	}
	b.added++

	if b.id == "" && chunk.ID != "" {
		b.id = chunk.ID
	}
	if b.model == "" && chunk.Model != "" {
		b.model = chunk.Model
	}
	if chunk.Created != 0 {
		b.created = chunk.Created
	}
	if chunk.Usage != nil {
		b.usage = chunk.Usage
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if b.role == "" && choice.Delta.Role != "" {
		b.role = choice.Delta.Role
	}
	if choice.FinishReason != "" {
		b.finishReason = choice.FinishReason
	}
	if content := choice.Delta.Content; content != "" {
		if !b.truncated && b.contentLen < maxContentCapture {
			if remaining := maxContentCapture - b.contentLen; len(content) > remaining {
				content = content[:remaining]
				b.truncated = true
			}
			b.content.WriteString(content)
			b.contentLen += len(content)
		}
	}
}

// Added returns the number of non-empty chunks accumulated so far.
func (b *Builder) Added() int {
	return b.added
}

// SetResponseMs records the stream duration carried into the synthesized
// response when the provider itself reported nothing.
func (b *Builder) SetResponseMs(ms int64) {
	b.responseMs = ms
}

// Complete synthesizes the accumulated chunks into one complete response.
// Returns ErrNoChunks when nothing was accumulated.
func (b *Builder) Complete() (*core.ChatResponse, error) {
	if b.added == 0 {
		return nil, ErrNoChunks
	}

	role := b.role
	if role == "" {
		role = "assistant"
	}

	return &core.ChatResponse{
		ID:     b.id,
		Object: "chat.completion",
		Model:  b.model,
		Choices: []core.Choice{
			{
				Index: 0,
				Message: core.Message{
					Role:    role,
					Content: b.content.String(),
				},
				FinishReason: b.finishReason,
			},
		},
		Usage:      b.usage,
		Created:    b.created,
		ResponseMs: b.responseMs,
	}, nil
}
