package domain

import (
	"context"
	"time"
)

// ChatRepository is the remote persistence contract. Every call is scoped to userID.
type ChatRepository interface {
	LoadChatsForUser(ctx context.Context, userID string) ([]Chat, error)
	UpsertChat(ctx context.Context, userID string, chat Chat) error
	DeleteChat(ctx context.Context, userID, chatID string) error
	DeleteMessage(ctx context.Context, userID, chatID, messageID string) error
	EditMessage(ctx context.Context, userID, chatID, messageID, content string) error
}

// Identity exposes the authenticated user and bearer credential
type Identity interface {
	UserID() string
	Token() string
}

// UploadStatus is the processing state of a staged file
type UploadStatus string

const (
	UploadPending    UploadStatus = "pending"
	UploadProcessing UploadStatus = "processing"
	UploadReady      UploadStatus = "ready"
	UploadFailed     UploadStatus = "failed"
)

// FileUpload is a file staged in the composer
type FileUpload struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	MIMEType   string       `json:"mime_type"`
	Size       int64        `json:"size"`
	Data       []byte       `json:"-"`
	Preview    string       `json:"preview,omitempty"`
	Status     UploadStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	DocumentID string       `json:"document_id,omitempty"`
}

// IsImage reports whether the upload is an image
func (f FileUpload) IsImage() bool {
	return len(f.MIMEType) > 6 && f.MIMEType[:6] == "image/"
}

// Attachment converts a processed upload into a message attachment
func (f FileUpload) Attachment() Attachment {
	kind := AttachmentFile
	if f.IsImage() {
		kind = AttachmentImage
	}
	return Attachment{
		Kind:       kind,
		Name:       f.Name,
		PreviewRef: f.Preview,
		DocumentID: f.DocumentID,
		MIMEType:   f.MIMEType,
	}
}

// DocumentProcessor turns an uploaded file into a document id usable as AI context
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// Document is a processed upload stored by the remote service
type Document struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	MIMEType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Text      string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentRepository stores processed documents
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetMany(ctx context.Context, userID string, ids []string) ([]Document, error)
}
