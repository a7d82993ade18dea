package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Rrens/chatnil/internal/domain"
)

var _ domain.ChatRepository = (*Client)(nil)

// LoadChatsForUser fetches every chat the user has stored remotely
func (c *Client) LoadChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	if err := c.scoped(userID); err != nil {
		return nil, err
	}
	var chats []domain.Chat
	if err := c.doJSON(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, fmt.Errorf("failed to load chats: %w", err)
	}
	return chats, nil
}

// UpsertChat stores a chat with all of its messages
func (c *Client) UpsertChat(ctx context.Context, userID string, chat domain.Chat) error {
	if err := c.scoped(userID); err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodPut, "/chats/"+url.PathEscape(chat.ID), chat, nil); err != nil {
		return fmt.Errorf("failed to upsert chat: %w", err)
	}
	return nil
}

// DeleteChat removes a chat
func (c *Client) DeleteChat(ctx context.Context, userID, chatID string) error {
	if err := c.scoped(userID); err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

// DeleteMessage removes one message
func (c *Client) DeleteMessage(ctx context.Context, userID, chatID, messageID string) error {
	if err := c.scoped(userID); err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodDelete, messagePath(chatID, messageID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

type editRequest struct {
	Content string `json:"content"`
}

// EditMessage replaces the content of one message
func (c *Client) EditMessage(ctx context.Context, userID, chatID, messageID, content string) error {
	if err := c.scoped(userID); err != nil {
		return err
	}
	if err := c.doJSON(ctx, http.MethodPatch, messagePath(chatID, messageID), editRequest{Content: content}, nil); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

func messagePath(chatID, messageID string) string {
	return "/chats/" + url.PathEscape(chatID) + "/messages/" + url.PathEscape(messageID)
}
