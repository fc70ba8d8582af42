package openaicompat

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"promptkeeper/internal/core"
)

// doneMarker terminates an SSE completion stream.
const doneMarker = "[DONE]"

// maxLineSize bounds a single SSE line. Chunks larger than this indicate
// a misbehaving upstream.
const maxLineSize = 1024 * 1024

// chunkStream decodes server-sent events from an upstream response body
// into normalized StreamChunk values.
type chunkStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newChunkStream(body io.ReadCloser) *chunkStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &chunkStream{
		body:    body,
		scanner: scanner,
	}
}

// Recv returns the next chunk from the stream. It returns io.EOF when the
// upstream signals completion or closes the connection. Malformed frames
// are skipped, not surfaced, so one bad chunk does not kill the stream.
func (s *chunkStream) Recv() (*core.StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// SSE fields other than data (event, id, retry) carry no
			// completion payload.
			continue
		}
		data = strings.TrimSpace(data)

		if data == doneMarker {
			s.done = true
			return nil, io.EOF
		}

		var chunk core.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Debug("skipping malformed stream chunk", "error", err)
			continue
		}
		return &chunk, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, core.NewProviderError(http.StatusBadGateway, "provider stream read failed: "+err.Error(), err)
	}
	return nil, io.EOF
}

// Close releases the underlying response body.
func (s *chunkStream) Close() error {
	s.done = true
	return s.body.Close()
}
