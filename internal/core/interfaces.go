// Package core defines the core interfaces and types for the gateway.
package core

import (
	"context"
)

// Provider defines the completion provider capability. The gateway consumes
// all upstream LLM backends through this single interface.
type Provider interface {
	// ChatCompletion executes a chat completion request and returns the
	// complete result.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// StreamChatCompletion executes a streaming chat completion request.
	// The returned stream yields normalized chunks in arrival order;
	// the caller must close it.
	StreamChatCompletion(ctx context.Context, req *ChatRequest) (ChunkStream, error)
}

// ChunkStream is a finite, non-restartable sequence of streamed chunks.
// Recv returns io.EOF after the final chunk.
type ChunkStream interface {
	// Recv returns the next chunk. It blocks until a chunk is available,
	// the stream ends (io.EOF) or the stream fails.
	Recv() (*StreamChunk, error)

	// Close releases the underlying connection. Safe to call multiple times.
	Close() error
}
