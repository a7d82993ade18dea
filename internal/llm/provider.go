package llm

import "context"

// Turn is one message of the conversation handed to a provider
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request contains chat completion parameters
type Request struct {
	System      string
	Turns       []Turn
	Temperature float32
	MaxTokens   int
}

// Response summarizes a finished completion
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// DeltaFunc receives each piece of generated text as it arrives. Returning an
// error aborts the completion.
type DeltaFunc func(delta string) error

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// AvailableModels returns list of supported models
	AvailableModels() []string

	// DefaultModel returns the default model
	DefaultModel() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// StreamChat generates a reply, calling onDelta for every chunk
	StreamChat(ctx context.Context, req Request, model string, onDelta DeltaFunc) (*Response, error)
}
