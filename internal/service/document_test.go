package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDocumentService_Process(t *testing.T) {
	ctx := context.Background()
	policy := upload.Policy{MaxBytes: 1 << 20}

	t.Run("plain text is stored as is", func(t *testing.T) {
		repo := new(MockDocumentRepository)
		repo.On("Create", ctx, mock.AnythingOfType("*domain.Document")).Return(nil)

		svc := NewDocumentService(repo, policy, 0)
		doc, err := svc.Process(ctx, "u1", "contract.txt", "text/plain; charset=utf-8", []byte("  Term: 12 months\n"))
		require.NoError(t, err)

		assert.NotEmpty(t, doc.ID)
		assert.Equal(t, "u1", doc.UserID)
		assert.Equal(t, "text/plain", doc.MIMEType)
		assert.Equal(t, "Term: 12 months", doc.Text)
		assert.Equal(t, int64(18), doc.Size)
		repo.AssertExpectations(t)
	})

	t.Run("sniffed pdf gets a placeholder", func(t *testing.T) {
		repo := new(MockDocumentRepository)
		repo.On("Create", ctx, mock.AnythingOfType("*domain.Document")).Return(nil)

		svc := NewDocumentService(repo, policy, 0)
		doc, err := svc.Process(ctx, "u1", "deal.pdf", "", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"))
		require.NoError(t, err)

		assert.Equal(t, "application/pdf", doc.MIMEType)
		assert.Contains(t, doc.Text, "deal.pdf")
	})

	t.Run("text is capped", func(t *testing.T) {
		repo := new(MockDocumentRepository)
		repo.On("Create", ctx, mock.AnythingOfType("*domain.Document")).Return(nil)

		svc := NewDocumentService(repo, policy, 10)
		doc, err := svc.Process(ctx, "u1", "long.txt", "text/plain", []byte(strings.Repeat("a", 50)))
		require.NoError(t, err)
		assert.Len(t, doc.Text, 10)
	})

	t.Run("unsupported type is rejected", func(t *testing.T) {
		repo := new(MockDocumentRepository)

		svc := NewDocumentService(repo, policy, 0)
		_, err := svc.Process(ctx, "u1", "tool.zip", "application/zip", []byte("PK\x03\x04"))
		assert.ErrorIs(t, err, ErrInvalidDocument)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("empty file is rejected", func(t *testing.T) {
		svc := NewDocumentService(new(MockDocumentRepository), policy, 0)
		_, err := svc.Process(ctx, "u1", "empty.txt", "text/plain", nil)
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	t.Run("repository error", func(t *testing.T) {
		repo := new(MockDocumentRepository)
		repo.On("Create", ctx, mock.Anything).Return(errors.New("db down"))

		svc := NewDocumentService(repo, policy, 0)
		_, err := svc.Process(ctx, "u1", "a.txt", "text/plain", []byte("x"))
		assert.ErrorContains(t, err, "failed to store document")
	})
}

var _ domain.DocumentRepository = (*MockDocumentRepository)(nil)
