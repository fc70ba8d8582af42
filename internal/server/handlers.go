// Package server provides HTTP handlers and server setup for the gateway.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"promptkeeper/internal/core"
	"promptkeeper/internal/history"
	"promptkeeper/internal/observability"
	"promptkeeper/internal/search"
	"promptkeeper/internal/stream"
)

// Handler holds the HTTP handlers and their collaborators.
type Handler struct {
	provider core.Provider
	recorder history.RecorderInterface
	engine   *search.Engine
	models   []string
	metrics  *observability.Metrics
}

// NewHandler creates a new handler. engine may be nil when history
// recording is disabled; metrics may be nil when metrics are disabled.
func NewHandler(provider core.Provider, recorder history.RecorderInterface, engine *search.Engine, models []string, metrics *observability.Metrics) *Handler {
	if recorder == nil {
		recorder = &history.NoopRecorder{}
	}
	return &Handler{
		provider: provider,
		recorder: recorder,
		engine:   engine,
		models:   models,
		metrics:  metrics,
	}
}

// ChatCompletion handles POST /v1/chat/completions
func (h *Handler) ChatCompletion(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	if req.Model == "" {
		return handleError(c, core.NewInvalidRequestError("model is required", nil))
	}
	if len(req.Messages) == 0 {
		return handleError(c, core.NewInvalidRequestError("messages must not be empty", nil))
	}

	return h.complete(c, &req)
}

// Completion handles POST /v1/completions. The prompt is normalized into
// a single user message so both endpoints share one pipeline.
func (h *Handler) Completion(c echo.Context) error {
	var req core.CompletionRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	if req.Model == "" {
		return handleError(c, core.NewInvalidRequestError("model is required", nil))
	}
	if req.Prompt.IsZero() {
		return handleError(c, core.NewInvalidRequestError("prompt is required", nil))
	}

	chatReq := &core.ChatRequest{
		Model:            req.Model,
		Messages:         req.Prompt.ChatMessages(),
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		N:                req.N,
		MaxTokens:        req.MaxTokens,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		User:             req.User,
		Stream:           req.Stream,
	}
	return h.complete(c, chatReq)
}

// complete runs a normalized chat request through the provider, relays or
// returns the result, and records the exchange.
func (h *Handler) complete(c echo.Context, req *core.ChatRequest) error {
	if req.Stream {
		return h.completeStreaming(c, req)
	}

	resp, err := h.provider.ChatCompletion(c.Request().Context(), req)
	if err != nil {
		return handleError(c, err)
	}

	h.record(req, resp)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) completeStreaming(c echo.Context, req *core.ChatRequest) error {
	chunks, err := h.provider.StreamChatCompletion(c.Request().Context(), req)
	if err != nil {
		return handleError(c, err)
	}
	defer func() {
		_ = chunks.Close() //nolint:errcheck
	}()

	em := newSSEEmitter(c)
	resp := stream.Relay(c.Request().Context(), chunks, em)
	if h.metrics != nil {
		h.metrics.StreamChunksTotal.Add(float64(em.emitted))
	}

	// Record whatever was reconstructed, even from a partial stream.
	if resp != nil {
		h.record(req, resp)
	}
	return nil
}

// record queues the exchange for async history writing.
func (h *Handler) record(req *core.ChatRequest, resp *core.ChatResponse) {
	if !h.recorder.Enabled() {
		return
	}
	ex := history.NewExchange(req.Model, req.Messages, resp)
	h.recorder.Record(ex)
	if h.metrics != nil {
		h.metrics.ExchangesRecorded.Inc()
	}
}

// searchRequest is the wire shape of a POST /search body.
type searchRequest struct {
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
	MinScore  int    `json:"min_score"`
	Mode      string `json:"search_mode"`
	TimeRange string `json:"time_range"`
}

// Search handles POST /search
func (h *Handler) Search(c echo.Context) error {
	if h.engine == nil {
		return handleError(c, core.NewInvalidRequestError("history recording is disabled, search is unavailable", nil))
	}

	var body searchRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	if strings.TrimSpace(body.Query) == "" {
		return handleError(c, core.NewInvalidRequestError("query is required", nil))
	}

	mode, err := search.ParseMode(body.Mode)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}
	timeRange, err := search.ParseTimeRange(body.TimeRange)
	if err != nil {
		return handleError(c, core.NewInvalidRequestError(err.Error(), err))
	}

	resp, err := h.engine.Search(c.Request().Context(), &search.Request{
		Query:    body.Query,
		Limit:    body.Limit,
		MinScore: body.MinScore,
		Mode:     mode,
		Range:    timeRange,
	})
	if err != nil {
		slog.Error("history search failed", "error", err)
		return handleError(c, core.NewInternalError("search failed", err))
	}

	if h.metrics != nil {
		h.metrics.SearchesTotal.WithLabelValues(mode.String()).Inc()
	}
	return c.JSON(http.StatusOK, resp)
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	created := time.Now().Unix()
	data := make([]core.Model, 0, len(h.models))
	for _, id := range h.models {
		data = append(data, core.Model{
			ID:      id,
			Object:  "model",
			OwnedBy: inferOwner(id),
			Created: created,
		})
	}
	return c.JSON(http.StatusOK, core.ModelsResponse{
		Object: "list",
		Data:   data,
	})
}

// inferOwner guesses the owning organization from a model identifier.
func inferOwner(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "anthropic/") || strings.HasPrefix(lower, "claude"):
		return "anthropic"
	case strings.Contains(lower, "google") || strings.HasPrefix(lower, "gemini"):
		return "google"
	case strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1-") || strings.HasPrefix(lower, "chatgpt-"):
		return "openai"
	default:
		return "openai"
	}
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
