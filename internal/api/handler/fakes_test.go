package handler_test

import (
	"context"
	"errors"
	"sync"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/llm"
)

type memChatRepo struct {
	mu    sync.Mutex
	chats map[string]map[string]domain.Chat
}

func newMemChatRepo() *memChatRepo {
	return &memChatRepo{chats: make(map[string]map[string]domain.Chat)}
}

func (r *memChatRepo) LoadChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Chat
	for _, c := range r.chats[userID] {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (r *memChatRepo) UpsertChat(ctx context.Context, userID string, chat domain.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chats[userID] == nil {
		r.chats[userID] = make(map[string]domain.Chat)
	}
	r.chats[userID][chat.ID] = chat.Clone()
	return nil
}

func (r *memChatRepo) DeleteChat(ctx context.Context, userID, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[userID][chatID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.chats[userID], chatID)
	return nil
}

func (r *memChatRepo) DeleteMessage(ctx context.Context, userID, chatID, messageID string) error {
	return r.update(userID, chatID, messageID, func(c *domain.Chat, i int) {
		c.Messages = append(c.Messages[:i:i], c.Messages[i+1:]...)
	})
}

func (r *memChatRepo) EditMessage(ctx context.Context, userID, chatID, messageID, content string) error {
	return r.update(userID, chatID, messageID, func(c *domain.Chat, i int) {
		c.Messages[i].Content = content
	})
}

func (r *memChatRepo) update(userID, chatID, messageID string, fn func(*domain.Chat, int)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[userID][chatID]
	if !ok {
		return domain.ErrNotFound
	}
	i := c.MessageIndex(messageID)
	if i < 0 {
		return domain.ErrNotFound
	}
	fn(&c, i)
	r.chats[userID][chatID] = c
	return nil
}

type memDocRepo struct {
	mu   sync.Mutex
	docs []domain.Document
	err  error
}

func (r *memDocRepo) Create(ctx context.Context, doc *domain.Document) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, *doc)
	return nil
}

func (r *memDocRepo) GetMany(ctx context.Context, userID string, ids []string) ([]domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Document
	for _, d := range r.docs {
		for _, id := range ids {
			if d.ID == id && d.UserID == userID {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// stubProvider replays fixed deltas
type stubProvider struct {
	deltas []string
	err    error
}

func (p *stubProvider) Name() string              { return "stub" }
func (p *stubProvider) AvailableModels() []string { return []string{"stub-1"} }
func (p *stubProvider) DefaultModel() string      { return "stub-1" }
func (p *stubProvider) IsConfigured() bool        { return true }

func (p *stubProvider) StreamChat(ctx context.Context, req llm.Request, model string, onDelta llm.DeltaFunc) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	for _, d := range p.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
	}
	return &llm.Response{Model: model}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }
