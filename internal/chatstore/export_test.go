package chatstore

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/chatnil/internal/domain"
)

func TestStore_ExportImport(t *testing.T) {
	src := newTestEnv(t, false)
	keep := src.store.CreateChatWithFirstMessage("keep me")
	src.store.AddMessageToChat(keep, domain.Message{Role: domain.RoleAssistant, Content: "partial", IsStreaming: true})
	hidden := src.store.CreateChatWithFirstMessage("archived")
	src.store.ArchiveChat(hidden)

	data, err := src.store.ExportChats()
	require.NoError(t, err)

	var env exportEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, ExportVersion, env.Version)
	require.Len(t, env.Chats, 1)
	assert.Equal(t, keep, env.Chats[0].ID)
	assert.Len(t, env.Chats[0].Messages, 1, "streaming replies are not exported")

	dst := newTestEnv(t, false)
	existing := dst.store.NewChat()
	n, err := dst.store.ImportChats(data)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, dst.store.ChatCount())
	assert.Equal(t, existing, dst.store.ActiveChatID())

	// imported chats get fresh ids and land first
	assert.NotEqual(t, keep, dst.store.chats[0].ID)
	assert.Equal(t, "keep me", dst.store.chats[0].Title)
}

func TestStore_ImportRejectsGarbage(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.store.ImportChats([]byte("nope"))
	assert.Error(t, err)
	_, err = env.store.ImportChats([]byte(`{"version":"1.0"}`))
	assert.Error(t, err)
	assert.Equal(t, 0, env.store.ChatCount())
}

func exportFixture() domain.Chat {
	at := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return domain.Chat{
		ID:          "c1",
		Title:       "Recovery",
		RoleContext: domain.RoleContextCoach,
		CreatedAt:   at,
		UpdatedAt:   at,
		Messages: []domain.Message{
			{ID: "m1", Role: domain.RoleUser, Content: "How long should we rest?", CreatedAt: at},
			{ID: "m2", Role: domain.RoleAssistant, Content: "At least 48 hours.", CreatedAt: at,
				Sources: []domain.Source{{Title: "NCAA guide", URL: "https://example.org/guide"}}},
		},
	}
}

func TestExportMarkdown(t *testing.T) {
	out := ExportMarkdown(exportFixture(), DefaultExportOptions)

	assert.True(t, strings.HasPrefix(out, "# Recovery\n\n---\n"))
	assert.Contains(t, out, "**Messages:** 2\n")
	assert.Contains(t, out, "**Role Context:** coach\n")
	assert.Contains(t, out, "## You *(Mar 14, 2025, 9:30:00 AM)*\n\nHow long should we rest?\n\n---\n\n")
	assert.Contains(t, out, "## ChatNIL *(Mar 14, 2025, 9:30:00 AM)*\n\nAt least 48 hours.")
	assert.Contains(t, out, "- [NCAA guide](https://example.org/guide)\n")

	bare := ExportMarkdown(exportFixture(), ExportOptions{})
	assert.NotContains(t, bare, "**Created:**")
	assert.Contains(t, bare, "## You\n\n")
}

func TestExportText(t *testing.T) {
	out := ExportText(exportFixture(), DefaultExportOptions)

	assert.True(t, strings.HasPrefix(out, "Recovery\n========\n\n"))
	assert.Contains(t, out, "Messages: 2\n")
	assert.Contains(t, out, strings.Repeat("=", 50))
	assert.Contains(t, out, "[You] (Mar 14, 2025, 9:30:00 AM)\nHow long should we rest?\n\n"+strings.Repeat("-", 50))
	assert.Contains(t, out, "[ChatNIL] (Mar 14, 2025, 9:30:00 AM)\nAt least 48 hours.\n\n")
}
