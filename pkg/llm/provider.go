package llm

import "context"

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request
// formatting, authentication, and response parsing. The engine treats it
// as an opaque capability that returns text, tool calls, and token usage.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}
