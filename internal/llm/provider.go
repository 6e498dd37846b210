// Package llm abstracts the model backend behind a Provider interface.
// The assistant runs against a local Ollama instance by default; the
// interface keeps the pipeline independent of any single backend.
package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall bounds every model call. Local models can stall on load;
// a request must never hang the pipeline.
const TimeoutLLMCall = 60 * time.Second

// Domain errors for the llm package.
var (
	// ErrModelUnavailable means the backend could not be reached at all.
	ErrModelUnavailable = errors.New("model backend unavailable")
	// ErrModelError means the backend responded with an error.
	ErrModelError = errors.New("model backend error")
)

// Provider is the interface all model backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "ollama").
	Name() string
	// Generate sends a chat request to the model and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a model generation request.
type Request struct {
	Model    string
	Messages []Message
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Response represents a model generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
