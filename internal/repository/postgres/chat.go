package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rrens/chatnil/internal/domain"
)

// ChatRepository implements domain.ChatRepository
type ChatRepository struct {
	pool *pgxpool.Pool
}

// NewChatRepository creates a new chat repository
func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// LoadChatsForUser returns every chat of a user with its messages in order
func (r *ChatRepository) LoadChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	query := `
		SELECT id, title, draft, role_context, is_pinned, is_archived, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := []domain.Chat{}
	index := make(map[string]int)
	for rows.Next() {
		var c domain.Chat
		if err := rows.Scan(
			&c.ID,
			&c.Title,
			&c.Draft,
			&c.RoleContext,
			&c.IsPinned,
			&c.IsArchived,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		c.Messages = []domain.Message{}
		index[c.ID] = len(chats)
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	if err := r.loadMessages(ctx, userID, chats, index); err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *ChatRepository) loadMessages(ctx context.Context, userID string, chats []domain.Chat, index map[string]int) error {
	query := `
		SELECT chat_id, id, role, content, attachments, document_ids, sources, original_content, edited_at, created_at
		FROM chat_messages
		WHERE user_id = $1
		ORDER BY chat_id, position
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chatID string
		var m domain.Message
		var attachments, documentIDs, srcs []byte
		if err := rows.Scan(
			&chatID,
			&m.ID,
			&m.Role,
			&m.Content,
			&attachments,
			&documentIDs,
			&srcs,
			&m.OriginalContent,
			&m.EditedAt,
			&m.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan message: %w", err)
		}
		if err := unmarshalJSONB(attachments, &m.Attachments); err != nil {
			return err
		}
		if err := unmarshalJSONB(documentIDs, &m.DocumentIDs); err != nil {
			return err
		}
		if err := unmarshalJSONB(srcs, &m.Sources); err != nil {
			return err
		}

		i, ok := index[chatID]
		if !ok {
			continue
		}
		chats[i].Messages = append(chats[i].Messages, m)
	}
	return rows.Err()
}

// UpsertChat replaces the stored copy of a chat, messages included
func (r *ChatRepository) UpsertChat(ctx context.Context, userID string, chat domain.Chat) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = now
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_sessions (user_id, id, title, draft, role_context, is_pinned, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, id) DO UPDATE SET
			title = EXCLUDED.title,
			draft = EXCLUDED.draft,
			role_context = EXCLUDED.role_context,
			is_pinned = EXCLUDED.is_pinned,
			is_archived = EXCLUDED.is_archived,
			updated_at = EXCLUDED.updated_at
	`,
		userID,
		chat.ID,
		chat.Title,
		chat.Draft,
		chat.RoleContext,
		chat.IsPinned,
		chat.IsArchived,
		chat.CreatedAt,
		chat.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chat: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE user_id = $1 AND chat_id = $2`, userID, chat.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	batch := &pgx.Batch{}
	for pos, m := range chat.Messages {
		attachments, documentIDs, srcs, err := marshalMessageJSON(m)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO chat_messages (user_id, chat_id, id, position, role, content, attachments, document_ids, sources, original_content, edited_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			userID,
			chat.ID,
			m.ID,
			pos,
			m.Role,
			m.Content,
			attachments,
			documentIDs,
			srcs,
			m.OriginalContent,
			m.EditedAt,
			m.CreatedAt,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert messages: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chat: %w", err)
	}
	return nil
}

// DeleteChat removes a chat and its messages
func (r *ChatRepository) DeleteChat(ctx context.Context, userID, chatID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE user_id = $1 AND id = $2`, userID, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteMessage removes one message from a chat
func (r *ChatRepository) DeleteMessage(ctx context.Context, userID, chatID, messageID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM chat_messages WHERE user_id = $1 AND chat_id = $2 AND id = $3`,
		userID, chatID, messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return r.touch(ctx, userID, chatID)
}

// EditMessage replaces a message's content, keeping the first original
func (r *ChatRepository) EditMessage(ctx context.Context, userID, chatID, messageID, content string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE chat_messages
		SET original_content = CASE WHEN original_content = '' THEN content ELSE original_content END,
			content = $4,
			edited_at = NOW()
		WHERE user_id = $1 AND chat_id = $2 AND id = $3
	`, userID, chatID, messageID, content)
	if err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return r.touch(ctx, userID, chatID)
}

func (r *ChatRepository) touch(ctx context.Context, userID, chatID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE chat_sessions SET updated_at = NOW() WHERE user_id = $1 AND id = $2`, userID, chatID)
	if err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}
	return nil
}

func marshalMessageJSON(m domain.Message) (attachments, documentIDs, srcs []byte, err error) {
	if attachments, err = marshalJSONB(m.Attachments); err != nil {
		return nil, nil, nil, err
	}
	if documentIDs, err = marshalJSONB(m.DocumentIDs); err != nil {
		return nil, nil, nil, err
	}
	if srcs, err = marshalJSONB(m.Sources); err != nil {
		return nil, nil, nil, err
	}
	return attachments, documentIDs, srcs, nil
}

// marshalJSONB encodes nil slices as an empty array
func marshalJSONB[T any](v []T) ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json: %w", err)
	}
	return b, nil
}

// unmarshalJSONB leaves the target nil for an empty array
func unmarshalJSONB[T any](b []byte, out *[]T) error {
	if len(b) == 0 || string(b) == "[]" || string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is a missing-row error
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
