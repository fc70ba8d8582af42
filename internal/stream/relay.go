package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"promptkeeper/internal/core"
)

// Emitter delivers relayed events to the client. The server implements it
// over an SSE response; tests implement it over a slice.
type Emitter interface {
	// Emit forwards one chunk downstream.
	Emit(chunk *core.StreamChunk) error

	// EmitError sends a single {"error": ...} event.
	EmitError(message string) error

	// EmitDone sends the terminal [DONE] marker.
	EmitDone() error
}

// Relay consumes the chunk stream, forwarding each non-empty chunk to the
// emitter in arrival order while accumulating state for reconstruction.
// After the stream ends (normally or with an error) it synthesizes one
// complete response from whatever was accumulated.
//
// Exactly one terminal event is emitted: [DONE] on clean completion, or
// one error event when the stream or the reconstruction failed. A failed
// stream never gets a [DONE], so clients cannot mistake it for success.
//
// The synthesized response is returned for recording; it is nil when
// nothing could be reconstructed. Relay itself never returns an error:
// by the time a failure can occur, the response is already streaming.
func Relay(ctx context.Context, chunks core.ChunkStream, em Emitter) *core.ChatResponse {
	builder := NewBuilder()
	start := time.Now()
	errorEmitted := false

	for {
		chunk, err := chunks.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				// Client is gone; stop consuming and reconstruct what we have.
				slog.Debug("client disconnected mid-stream", "error", ctx.Err())
				break
			}
			slog.Error("stream receive failed", "error", err)
			if emitErr := em.EmitError(err.Error()); emitErr != nil {
				slog.Debug("failed to emit stream error", "error", emitErr)
			}
			errorEmitted = true
			break
		}

		if chunk.IsEmpty() {
			continue
		}
		builder.Add(chunk)

		if err := em.Emit(chunk); err != nil {
			// Client stopped reading; stop relaying but still attempt
			// reconstruction of the partial content for the record.
			slog.Debug("client write failed, stopping relay", "error", err)
			errorEmitted = true // terminal marker would not reach anyone
			break
		}
	}

	builder.SetResponseMs(time.Since(start).Milliseconds())

	resp, synthErr := builder.Complete()
	switch {
	case synthErr == nil:
		if !errorEmitted {
			if err := em.EmitDone(); err != nil {
				slog.Debug("failed to emit done marker", "error", err)
			}
		}
		return resp

	case errors.Is(synthErr, ErrNoChunks):
		// Zero chunks: nothing to record, only the terminal marker.
		if !errorEmitted {
			if err := em.EmitDone(); err != nil {
				slog.Debug("failed to emit done marker", "error", err)
			}
		}
		return nil

	default:
		slog.Error("failed to reconstruct streamed response", "error", synthErr)
		if !errorEmitted {
			if err := em.EmitError("failed to assemble streamed response"); err != nil {
				slog.Debug("failed to emit stream error", "error", err)
			}
		}
		return nil
	}
}
