package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rrens/chatnil/internal/domain"
)

// DocumentRepository implements domain.DocumentRepository
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	query := `
		INSERT INTO documents (id, user_id, name, mime_type, size, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		doc.ID,
		doc.UserID,
		doc.Name,
		doc.MIMEType,
		doc.Size,
		doc.Text,
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetMany returns the documents of userID among ids; unknown ids are skipped
func (r *DocumentRepository) GetMany(ctx context.Context, userID string, ids []string) ([]domain.Document, error) {
	var valid []string
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	query := `
		SELECT id::text, user_id, name, mime_type, size, text, created_at
		FROM documents
		WHERE user_id = $1 AND id = ANY($2::uuid[])
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, query, userID, valid)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(
			&d.ID,
			&d.UserID,
			&d.Name,
			&d.MIMEType,
			&d.Size,
			&d.Text,
			&d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
