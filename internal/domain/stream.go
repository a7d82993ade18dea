package domain

import "context"

// StreamEventType enumerates the events a completion backend produces
type StreamEventType string

const (
	EventStatus   StreamEventType = "status"
	EventContent  StreamEventType = "content"
	EventSources  StreamEventType = "sources"
	EventError    StreamEventType = "error"
	EventComplete StreamEventType = "complete"
)

// StreamEvent is one typed update for an in-flight assistant message
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Status  string          `json:"status,omitempty"`
	Delta   string          `json:"delta,omitempty"`
	Sources []Source        `json:"sources,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CompletionRequest is the context handed to the completion backend
type CompletionRequest struct {
	ChatID      string      `json:"chat_id" validate:"required"`
	MessageID   string      `json:"message_id" validate:"required"`
	RoleContext RoleContext `json:"role_context,omitempty"`
	Messages    []Message   `json:"messages" validate:"required,min=1"`
	DocumentIDs []string    `json:"document_ids,omitempty"`
}

// CompletionBackend starts a streaming completion. The returned channel is closed
// by the backend after a terminal (error or complete) event or when ctx is done.
type CompletionBackend interface {
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}
