package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"promptkeeper/internal/core"
)

// sseEmitter writes server-sent events to an Echo response. It implements
// stream.Emitter. Headers are written lazily on the first event so an
// error before any output can still produce a proper JSON status response.
type sseEmitter struct {
	c       echo.Context
	flusher http.Flusher
	started bool
	emitted int
}

func newSSEEmitter(c echo.Context) *sseEmitter {
	flusher, _ := c.Response().Writer.(http.Flusher)
	return &sseEmitter{c: c, flusher: flusher}
}

func (e *sseEmitter) start() {
	if e.started {
		return
	}
	h := e.c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	e.c.Response().WriteHeader(http.StatusOK)
	e.started = true
}

// Emit writes one chunk as a data frame.
func (e *sseEmitter) Emit(chunk *core.StreamChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal stream chunk: %w", err)
	}
	if err := e.write(data); err != nil {
		return err
	}
	e.emitted++
	return nil
}

// EmitError writes a terminal error frame. No further frames follow it.
func (e *sseEmitter) EmitError(message string) error {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return fmt.Errorf("marshal stream error: %w", err)
	}
	return e.write(data)
}

// EmitDone writes the stream completion marker.
func (e *sseEmitter) EmitDone() error {
	return e.write([]byte("[DONE]"))
}

func (e *sseEmitter) write(data []byte) error {
	e.start()
	if _, err := fmt.Fprintf(e.c.Response().Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
