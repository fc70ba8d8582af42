package core

import (
	"encoding/json"
	"fmt"
)

// Message represents a single message in a chat conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents an incoming chat completion request
type ChatRequest struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	N                *int           `json:"n,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	Model            string         `json:"model"`
	Messages         []Message      `json:"messages"`
	User             string         `json:"user,omitempty"`
	Stream           bool           `json:"stream,omitempty"`
	StreamOptions    *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions controls streaming behavior of OpenAI-compatible backends
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// WithStreaming returns a shallow copy of the request with Stream set to true
// and usage reporting requested. This avoids mutating the caller's request.
func (r *ChatRequest) WithStreaming() *ChatRequest {
	cp := *r
	cp.Stream = true
	cp.StreamOptions = &StreamOptions{IncludeUsage: true}
	return &cp
}

// CompletionRequest represents a legacy prompt-style completion request
type CompletionRequest struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	N                *int     `json:"n,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Model            string   `json:"model"`
	Prompt           Prompt   `json:"prompt"`
	User             string   `json:"user,omitempty"`
	Stream           bool     `json:"stream,omitempty"`
}

// Prompt accepts either a single string or an array of strings on the wire.
type Prompt struct {
	value string
	parts []string
	isSet bool
}

// NewPrompt creates a Prompt from a plain string (used in tests and normalization).
func NewPrompt(s string) Prompt {
	return Prompt{value: s, isSet: true}
}

// UnmarshalJSON implements json.Unmarshaler
func (p *Prompt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.value = s
		p.parts = nil
		p.isSet = true
		return nil
	}
	var parts []string
	if err := json.Unmarshal(data, &parts); err == nil {
		p.parts = parts
		p.value = ""
		p.isSet = true
		return nil
	}
	return fmt.Errorf("prompt must be a string or an array of strings")
}

// MarshalJSON implements json.Marshaler
func (p Prompt) MarshalJSON() ([]byte, error) {
	if p.parts != nil {
		return json.Marshal(p.parts)
	}
	return json.Marshal(p.value)
}

// Text returns the prompt as a single string. Array prompts are
// JSON-encoded, matching how they are normalized into a user message.
func (p Prompt) Text() string {
	if p.parts != nil {
		b, err := json.Marshal(p.parts)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return p.value
}

// IsZero reports whether the prompt was absent from the request body
func (p Prompt) IsZero() bool {
	return !p.isSet
}

// ChatMessages normalizes the prompt into a single synthetic user message.
func (p Prompt) ChatMessages() []Message {
	return []Message{{Role: "user", Content: p.Text()}}
}

// ChatResponse represents a complete (non-streamed or reconstructed)
// chat completion response
type ChatResponse struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
	Created int64    `json:"created,omitempty"`

	// ResponseMs is the provider call latency in milliseconds.
	// Zero when the provider does not report it.
	ResponseMs int64 `json:"response_ms,omitempty"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Index        int     `json:"index"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one incremental unit of a streamed response, normalized
// at the provider boundary. All fields are populated (possibly zero-filled)
// so downstream consumers never probe for shape.
type StreamChunk struct {
	ID      string        `json:"id,omitempty"`
	Object  string        `json:"object,omitempty"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
	Created int64         `json:"created,omitempty"`
}

// ChunkChoice carries the incremental delta for one choice
type ChunkChoice struct {
	Delta        Message `json:"delta"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Index        int     `json:"index"`
}

// IsEmpty reports whether the chunk is nil or carries nothing at all:
// no choices, no usage, no identity. Such chunks are skipped by the relay.
func (c *StreamChunk) IsEmpty() bool {
	if c == nil {
		return true
	}
	return len(c.Choices) == 0 && c.Usage == nil && c.ID == "" && c.Model == ""
}

// Model represents a single model in the models list
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Created int64  `json:"created,omitempty"`
}

// ModelsResponse represents the response from the /v1/models endpoint
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
