// Package openaicompat provides a completion provider backed by any
// OpenAI-compatible API. It owns the wire protocol: downstream consumers
// receive normalized, fully-populated results and chunks, never raw frames.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"promptkeeper/internal/core"
)

// Config holds configuration for the provider client
type Config struct {
	// BaseURL is the API base URL (e.g. https://api.openai.com/v1)
	BaseURL string

	// APIKey authenticates against the upstream API
	APIKey string
}

// Provider implements core.Provider over an OpenAI-compatible HTTP API.
type Provider struct {
	httpClient *http.Client
	config     Config
}

// New creates a new provider with a connection-pooled HTTP client.
// Streaming responses are bounded by the upstream, not a client timeout.
func New(cfg Config) *Provider {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}
	return &Provider{
		httpClient: &http.Client{Transport: transport},
		config:     cfg,
	}
}

// NewWithHTTPClient creates a provider with a custom HTTP client.
// If httpClient is nil, http.DefaultClient is used.
func NewWithHTTPClient(cfg Config, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Provider{
		httpClient: httpClient,
		config:     cfg,
	}
}

// ChatCompletion sends a chat completion request and returns the complete
// normalized result. Missing created/usage fields are zero-filled, and the
// measured call latency is attached as ResponseMs.
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	start := time.Now()

	body, err := p.post(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, core.NewProviderError(http.StatusBadGateway, "failed to read provider response: "+err.Error(), err)
	}

	var resp core.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, core.NewProviderError(http.StatusBadGateway, "failed to unmarshal provider response: "+err.Error(), err)
	}

	if resp.Model == "" {
		resp.Model = req.Model
	}
	resp.ResponseMs = time.Since(start).Milliseconds()
	return &resp, nil
}

// StreamChatCompletion sends a streaming chat completion request and
// returns a normalized chunk stream. The caller must close it.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (core.ChunkStream, error) {
	body, err := p.post(ctx, "/chat/completions", req.WithStreaming())
	if err != nil {
		return nil, err
	}
	return newChunkStream(body), nil
}

// post executes a JSON POST and returns the response body on 200.
// Other status codes are parsed into GatewayErrors.
func (p *Provider) post(ctx context.Context, endpoint string, payload interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewInternalError("failed to marshal provider request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, core.NewInternalError("failed to build provider request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError(http.StatusBadGateway, fmt.Sprintf("provider request failed: %v", err), err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, core.ParseProviderError(resp.StatusCode, errBody, nil)
	}

	return resp.Body, nil
}
