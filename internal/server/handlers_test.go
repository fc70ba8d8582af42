package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptkeeper/internal/core"
	"promptkeeper/internal/history"
	"promptkeeper/internal/search"
)

// mockProvider implements core.Provider for testing
type mockProvider struct {
	response  *core.ChatResponse
	chunks    []*core.StreamChunk
	err       error
	streamErr error
	lastReq   *core.ChatRequest
}

func (m *mockProvider) ChatCompletion(_ context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockProvider) StreamChatCompletion(_ context.Context, req *core.ChatRequest) (core.ChunkStream, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &mockStream{chunks: m.chunks, err: m.streamErr}, nil
}

type mockStream struct {
	chunks []*core.StreamChunk
	err    error
	pos    int
}

func (s *mockStream) Recv() (*core.StreamChunk, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *mockStream) Close() error { return nil }

// captureRecorder implements history.RecorderInterface and remembers
// every recorded exchange.
type captureRecorder struct {
	exchanges []*history.Exchange
}

func (r *captureRecorder) Record(ex *history.Exchange) { r.exchanges = append(r.exchanges, ex) }
func (r *captureRecorder) Enabled() bool               { return true }
func (r *captureRecorder) Close() error                { return nil }

func okResponse() *core.ChatResponse {
	return &core.ChatResponse{
		ID:     "chatcmpl-123",
		Object: "chat.completion",
		Model:  "gpt-4o-mini",
		Choices: []core.Choice{
			{Index: 0, Message: core.Message{Role: "assistant", Content: "Hello!"}, FinishReason: "stop"},
		},
		Usage:   &core.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Created: 1700000000,
	}
}

func testServer(mock *mockProvider, recorder *captureRecorder, engine *search.Engine) *Server {
	return New(mock, recorder, engine, nil, &Config{
		AvailableModels: []string{"gpt-4o-mini", "anthropic/claude-sonnet-4"},
	})
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletionNonStreaming(t *testing.T) {
	mock := &mockProvider{response: okResponse()}
	recorder := &captureRecorder{}
	srv := testServer(mock, recorder, nil)

	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp core.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chatcmpl-123", resp.ID)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)

	// The exchange was recorded with the request's messages.
	require.Len(t, recorder.exchanges, 1)
	ex := recorder.exchanges[0]
	assert.Equal(t, "gpt-4o-mini", ex.Model)
	require.Len(t, ex.Messages, 1)
	assert.Equal(t, "Hi", ex.Messages[0].Content)
	assert.Equal(t, 15, ex.TotalTokens)
}

func TestChatCompletionUnprefixedRoute(t *testing.T) {
	mock := &mockProvider{response: okResponse()}
	srv := testServer(mock, &captureRecorder{}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/chat/completions",
		`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatCompletionValidation(t *testing.T) {
	srv := testServer(&mockProvider{response: okResponse()}, &captureRecorder{}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"Hi"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "model is required")

	rec = doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o-mini","messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "messages must not be empty")
}

func TestChatCompletionProviderError(t *testing.T) {
	mock := &mockProvider{err: core.NewProviderError(http.StatusTooManyRequests, "rate limited", nil)}
	recorder := &captureRecorder{}
	srv := testServer(mock, recorder, nil)

	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}]}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	// Failed calls are not recorded.
	assert.Empty(t, recorder.exchanges)
}

func TestChatCompletionStreaming(t *testing.T) {
	mock := &mockProvider{chunks: []*core.StreamChunk{
		{ID: "chatcmpl-1", Model: "gpt-4o-mini", Choices: []core.ChunkChoice{{Delta: core.Message{Role: "assistant", Content: "Hel"}}}},
		{ID: "chatcmpl-1", Choices: []core.ChunkChoice{{Delta: core.Message{Content: "lo"}}}},
		{ID: "chatcmpl-1", Choices: []core.ChunkChoice{{FinishReason: "stop"}}, Usage: &core.Usage{TotalTokens: 7}},
	}}
	recorder := &captureRecorder{}
	srv := testServer(mock, recorder, nil)

	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	require.Len(t, frames, 4)
	for _, frame := range frames {
		assert.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
	}
	assert.Contains(t, frames[0], `"Hel"`)
	assert.Contains(t, frames[1], `"lo"`)
	assert.Contains(t, frames[2], `"finish_reason":"stop"`)
	assert.Equal(t, "data: [DONE]", frames[3])

	// One reconstructed exchange was recorded.
	require.Len(t, recorder.exchanges, 1)
	ex := recorder.exchanges[0]
	resp := struct {
		Choices []core.Choice `json:"choices"`
	}{}
	require.NoError(t, json.Unmarshal(ex.Response, &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello", resp.Choices[0].Message.Content)
	assert.Equal(t, 7, ex.TotalTokens)
}

func TestChatCompletionStreamingError(t *testing.T) {
	mock := &mockProvider{
		chunks: []*core.StreamChunk{
			{ID: "chatcmpl-1", Choices: []core.ChunkChoice{{Delta: core.Message{Content: "partial"}}}},
		},
		streamErr: core.NewProviderError(http.StatusBadGateway, "upstream reset", nil),
	}
	recorder := &captureRecorder{}
	srv := testServer(mock, recorder, nil)

	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, rec.Code)

	// One chunk frame, one error frame, and no [DONE] after the error.
	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, frames, 2)
	assert.Contains(t, frames[0], `"partial"`)
	assert.Contains(t, frames[1], `"error"`)
	assert.NotContains(t, rec.Body.String(), "[DONE]")

	// The partial content was still recorded.
	require.Len(t, recorder.exchanges, 1)
	assert.Contains(t, string(recorder.exchanges[0].Response), "partial")
}

func TestChatCompletionStreamingNoChunks(t *testing.T) {
	mock := &mockProvider{}
	recorder := &captureRecorder{}
	srv := testServer(mock, recorder, nil)

	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data: [DONE]\n\n", rec.Body.String())
	// Nothing to record from an empty stream.
	assert.Empty(t, recorder.exchanges)
}

func TestCompletionNormalizesPrompt(t *testing.T) {
	mock := &mockProvider{response: okResponse()}
	recorder := &captureRecorder{}
	srv := testServer(mock, recorder, nil)

	rec := doJSON(t, srv, http.MethodPost, "/v1/completions",
		`{"model":"gpt-4o-mini","prompt":"translate this"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	// The provider saw a synthetic user message.
	require.NotNil(t, mock.lastReq)
	require.Len(t, mock.lastReq.Messages, 1)
	assert.Equal(t, "user", mock.lastReq.Messages[0].Role)
	assert.Equal(t, "translate this", mock.lastReq.Messages[0].Content)

	// And the recorded exchange carries the normalized form.
	require.Len(t, recorder.exchanges, 1)
	assert.Equal(t, "translate this", recorder.exchanges[0].Messages[0].Content)
}

func TestCompletionRequiresPrompt(t *testing.T) {
	srv := testServer(&mockProvider{response: okResponse()}, &captureRecorder{}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/v1/completions", `{"model":"gpt-4o-mini"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "prompt is required")
}

func TestListModels(t *testing.T) {
	srv := testServer(&mockProvider{}, &captureRecorder{}, nil)

	rec := doJSON(t, srv, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp core.ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "gpt-4o-mini", resp.Data[0].ID)
	assert.Equal(t, "openai", resp.Data[0].OwnedBy)
	assert.Equal(t, "anthropic/claude-sonnet-4", resp.Data[1].ID)
	assert.Equal(t, "anthropic", resp.Data[1].OwnedBy)
}

func TestHealth(t *testing.T) {
	srv := testServer(&mockProvider{}, &captureRecorder{}, nil)

	rec := doJSON(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

// staticReader serves fixed exchanges for search tests.
type staticReader struct {
	exchanges []history.Exchange
}

func (r *staticReader) ListSince(_ context.Context, since time.Time) ([]history.Exchange, error) {
	var out []history.Exchange
	for _, ex := range r.exchanges {
		if since.IsZero() || !ex.Timestamp.Before(since) {
			out = append(out, ex)
		}
	}
	return out, nil
}

func searchFixture() *search.Engine {
	resp, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": "use kubectl rollout restart"}},
		},
	})
	return search.NewEngine(&staticReader{exchanges: []history.Exchange{
		{
			ID:        "ex-1",
			Timestamp: time.Now().UTC().Add(-time.Hour),
			Model:     "gpt-4o-mini",
			Messages:  []core.Message{{Role: "user", Content: "how do I restart a deployment"}},
			Response:  resp,
		},
		{
			ID:        "ex-2",
			Timestamp: time.Now().UTC().Add(-30 * 24 * time.Hour),
			Model:     "gpt-4o-mini",
			Messages:  []core.Message{{Role: "user", Content: "sourdough starter feeding"}},
			Response:  json.RawMessage(`{}`),
		},
	}})
}

func TestSearchEndpoint(t *testing.T) {
	srv := testServer(&mockProvider{}, &captureRecorder{}, searchFixture())

	rec := doJSON(t, srv, http.MethodPost, "/search",
		`{"query":"restart deployment","search_mode":"keyword"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp search.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalResults)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "ex-1", resp.Results[0].ID)
	assert.Equal(t, 100, resp.Results[0].MatchScore)
}

func TestSearchEndpointTimeRange(t *testing.T) {
	srv := testServer(&mockProvider{}, &captureRecorder{}, searchFixture())

	// Week window excludes the month-old exchange even with a matching query.
	rec := doJSON(t, srv, http.MethodPost, "/search",
		`{"query":"sourdough","search_mode":"keyword","time_range":"week"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp search.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.TotalResults)
	assert.Empty(t, resp.Results)
}

func TestSearchEndpointValidation(t *testing.T) {
	srv := testServer(&mockProvider{}, &captureRecorder{}, searchFixture())

	rec := doJSON(t, srv, http.MethodPost, "/search", `{"query":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query is required")

	rec = doJSON(t, srv, http.MethodPost, "/search", `{"query":"x","search_mode":"semantic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid search_mode")

	rec = doJSON(t, srv, http.MethodPost, "/search", `{"query":"x","time_range":"decade"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid time_range")
}

func TestSearchUnavailableWithoutHistory(t *testing.T) {
	srv := testServer(&mockProvider{}, &captureRecorder{}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/search", `{"query":"anything"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "search is unavailable")
}
