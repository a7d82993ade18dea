package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/upload"
)

// ErrInvalidDocument is returned for uploads the policy rejects
var ErrInvalidDocument = errors.New("invalid document")

// DocumentService turns uploads into documents usable as completion context
type DocumentService struct {
	docRepo domain.DocumentRepository
	policy  upload.Policy
	maxText int
	nowFunc func() time.Time
}

// NewDocumentService creates a new document service. maxText caps the stored
// text in characters; zero keeps everything.
func NewDocumentService(docRepo domain.DocumentRepository, policy upload.Policy, maxText int) *DocumentService {
	return &DocumentService{
		docRepo: docRepo,
		policy:  policy,
		maxText: maxText,
		nowFunc: time.Now,
	}
}

// Process validates an upload, extracts its text and stores it
func (s *DocumentService) Process(ctx context.Context, userID, name, declaredType string, data []byte) (*domain.Document, error) {
	typ, err := s.policy.Check(name, declaredType, int64(len(data)), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	doc := &domain.Document{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		MIMEType:  typ,
		Size:      int64(len(data)),
		Text:      s.extractText(name, typ, data),
		CreatedAt: s.nowFunc(),
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Str("document_id", doc.ID).
		Str("mime_type", typ).
		Int64("size", doc.Size).
		Msg("document processed")

	return doc, nil
}

// extractText returns the prompt text of a document. Plain text is used as
// is; other types are described by name only.
func (s *DocumentService) extractText(name, typ string, data []byte) string {
	var text string
	switch {
	case strings.HasPrefix(typ, "text/") && utf8.Valid(data):
		text = strings.TrimSpace(string(data))
	case upload.IsImage(typ):
		text = fmt.Sprintf("[Image attachment: %s]", name)
	default:
		text = fmt.Sprintf("[%s attachment: %s, %d bytes; content not extracted]", typ, name, len(data))
	}

	if s.maxText > 0 {
		if r := []rune(text); len(r) > s.maxText {
			text = string(r[:s.maxText])
		}
	}
	return text
}
