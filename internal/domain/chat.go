package domain

import (
	"time"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// RoleContext is the audience a chat was started for
type RoleContext string

const (
	RoleContextAthlete RoleContext = "athlete"
	RoleContextParent  RoleContext = "parent"
	RoleContextCoach   RoleContext = "coach"
)

// AttachmentKind distinguishes inline images from other files
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a file reference carried by a message
type Attachment struct {
	Kind       AttachmentKind `json:"kind"`
	Name       string         `json:"name"`
	PreviewRef string         `json:"preview_ref,omitempty"`
	DocumentID string         `json:"document_id,omitempty"`
	MIMEType   string         `json:"mime_type"`
}

// Source is a citation attached to an assistant message
type Source struct {
	Title      string `json:"title"`
	URL        string `json:"url,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// Message represents a single chat message
type Message struct {
	ID          string       `json:"id"`
	Role        MessageRole  `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	DocumentIDs []string     `json:"document_ids,omitempty"`
	Sources     []Source     `json:"sources,omitempty"`
	IsStreaming bool         `json:"is_streaming,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`

	// Edit lineage
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	OriginalContent string     `json:"original_content,omitempty"`
}

// Clone returns a deep copy of the message
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.DocumentIDs != nil {
		out.DocumentIDs = append([]string(nil), m.DocumentIDs...)
	}
	if m.Sources != nil {
		out.Sources = append([]Source(nil), m.Sources...)
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	return out
}

// MessagePatch is a partial update merged into a message. Nil fields are left untouched.
type MessagePatch struct {
	Content     *string
	IsStreaming *bool
	Sources     *[]Source
	Attachments *[]Attachment
}

// Apply merges the patch into m
func (p MessagePatch) Apply(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.IsStreaming != nil {
		m.IsStreaming = *p.IsStreaming
	}
	if p.Sources != nil {
		m.Sources = append([]Source(nil), (*p.Sources)...)
	}
	if p.Attachments != nil {
		m.Attachments = append([]Attachment(nil), (*p.Attachments)...)
	}
}

// Chat represents a conversation thread
type Chat struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Messages    []Message   `json:"messages"`
	Draft       string      `json:"draft,omitempty"`
	RoleContext RoleContext `json:"role_context"`
	IsPinned    bool        `json:"is_pinned"`
	IsArchived  bool        `json:"is_archived"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of the chat
func (c Chat) Clone() Chat {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// StreamingMessage returns the index of the message currently streaming, or -1
func (c Chat) StreamingMessage() int {
	for i := range c.Messages {
		if c.Messages[i].IsStreaming {
			return i
		}
	}
	return -1
}

// MessageIndex returns the index of the message with the given id, or -1
func (c Chat) MessageIndex(messageID string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// ChatUpsert is the request body of an upsert call
type ChatUpsert struct {
	ID          string      `json:"id" validate:"required,max=128"`
	Title       string      `json:"title" validate:"max=255"`
	Messages    []Message   `json:"messages" validate:"dive"`
	Draft       string      `json:"draft"`
	RoleContext RoleContext `json:"role_context" validate:"omitempty,oneof=athlete parent coach"`
	IsPinned    bool        `json:"is_pinned"`
	IsArchived  bool        `json:"is_archived"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// MessageEdit is the request body of an edit call
type MessageEdit struct {
	Content string `json:"content" validate:"required,max=32000"`
}

// ToChat converts the upsert body into a Chat
func (u ChatUpsert) ToChat() Chat {
	return Chat{
		ID:          u.ID,
		Title:       u.Title,
		Messages:    u.Messages,
		Draft:       u.Draft,
		RoleContext: u.RoleContext,
		IsPinned:    u.IsPinned,
		IsArchived:  u.IsArchived,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// UpsertFromChat builds the upsert body for a chat
func UpsertFromChat(c Chat) ChatUpsert {
	return ChatUpsert{
		ID:          c.ID,
		Title:       c.Title,
		Messages:    c.Messages,
		Draft:       c.Draft,
		RoleContext: c.RoleContext,
		IsPinned:    c.IsPinned,
		IsArchived:  c.IsArchived,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
