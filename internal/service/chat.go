package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/chatnil/internal/domain"
)

// ChatCache caches the chat list of a user
type ChatCache interface {
	Get(ctx context.Context, userID string) ([]domain.Chat, bool, error)
	Set(ctx context.Context, userID string, chats []domain.Chat) error
	Invalidate(ctx context.Context, userID string) error
}

// ChatService handles chat persistence for authenticated users
type ChatService struct {
	chatRepo domain.ChatRepository
	cache    ChatCache
}

// NewChatService creates a new chat service. cache may be nil.
func NewChatService(chatRepo domain.ChatRepository, cache ChatCache) *ChatService {
	return &ChatService{
		chatRepo: chatRepo,
		cache:    cache,
	}
}

// List returns every chat of a user, newest first
func (s *ChatService) List(ctx context.Context, userID string) ([]domain.Chat, error) {
	if s.cache != nil {
		chats, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("chat cache read failed")
		} else if ok {
			return chats, nil
		}
	}

	chats, err := s.chatRepo.LoadChatsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chats: %w", err)
	}
	if chats == nil {
		chats = []domain.Chat{}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, chats); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("chat cache write failed")
		}
	}
	return chats, nil
}

// Upsert stores a chat with all of its messages. The path id wins over the body.
func (s *ChatService) Upsert(ctx context.Context, userID, chatID string, req domain.ChatUpsert) error {
	chat := req.ToChat()
	chat.ID = chatID
	for i := range chat.Messages {
		chat.Messages[i].IsStreaming = false
	}
	if err := s.chatRepo.UpsertChat(ctx, userID, chat); err != nil {
		return fmt.Errorf("failed to upsert chat: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// Delete removes a chat
func (s *ChatService) Delete(ctx context.Context, userID, chatID string) error {
	if err := s.chatRepo.DeleteChat(ctx, userID, chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// DeleteMessage removes one message of a chat
func (s *ChatService) DeleteMessage(ctx context.Context, userID, chatID, messageID string) error {
	if err := s.chatRepo.DeleteMessage(ctx, userID, chatID, messageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// EditMessage replaces the content of one message
func (s *ChatService) EditMessage(ctx context.Context, userID, chatID, messageID, content string) error {
	if err := s.chatRepo.EditMessage(ctx, userID, chatID, messageID, content); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *ChatService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("chat cache invalidation failed")
	}
}
