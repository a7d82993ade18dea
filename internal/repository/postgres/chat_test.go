package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/chatnil/internal/domain"
)

func TestMarshalJSONB_NilIsEmptyArray(t *testing.T) {
	b, err := marshalJSONB[domain.Source](nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))

	var out []domain.Source
	require.NoError(t, unmarshalJSONB(b, &out))
	assert.Nil(t, out)

	b, err = marshalJSONB([]string{"doc-1"})
	require.NoError(t, err)
	var ids []string
	require.NoError(t, unmarshalJSONB(b, &ids))
	assert.Equal(t, []string{"doc-1"}, ids)
}

// testPool connects to POSTGRES_TEST_DSN with migrations already applied
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("Requires database connection - run as integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestChatRepository_Integration(t *testing.T) {
	pool := testPool(t)
	repo := NewChatRepository(pool)
	ctx := context.Background()
	userID := "it-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)

	chat := domain.Chat{
		ID:          "chat-1",
		Title:       "Recruiting questions",
		RoleContext: domain.RoleContextParent,
		CreatedAt:   now,
		UpdatedAt:   now,
		Messages: []domain.Message{
			{ID: "m1", Role: domain.RoleUser, Content: "What is NIL?", CreatedAt: now},
			{ID: "m2", Role: domain.RoleAssistant, Content: "Name, image, likeness.", CreatedAt: now,
				Sources: []domain.Source{{Title: "Handbook"}}},
		},
	}
	require.NoError(t, repo.UpsertChat(ctx, userID, chat))
	t.Cleanup(func() { _ = repo.DeleteChat(ctx, userID, chat.ID) })

	chats, err := repo.LoadChatsForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Len(t, chats[0].Messages, 2)
	assert.Equal(t, "m1", chats[0].Messages[0].ID)
	assert.Equal(t, "Handbook", chats[0].Messages[1].Sources[0].Title)

	require.NoError(t, repo.EditMessage(ctx, userID, chat.ID, "m1", "What is NIL exactly?"))
	require.NoError(t, repo.DeleteMessage(ctx, userID, chat.ID, "m2"))
	assert.ErrorIs(t, repo.DeleteMessage(ctx, userID, chat.ID, "m2"), domain.ErrNotFound)

	chats, err = repo.LoadChatsForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, chats[0].Messages, 1)
	assert.Equal(t, "What is NIL exactly?", chats[0].Messages[0].Content)
	assert.Equal(t, "What is NIL?", chats[0].Messages[0].OriginalContent)
	assert.NotNil(t, chats[0].Messages[0].EditedAt)

	other, err := repo.LoadChatsForUser(ctx, "it-"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, other)
}
