package service

import (
	"context"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/llm"
	"github.com/stretchr/testify/mock"
)

// MockChatRepository mocks the ChatRepository interface
type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) LoadChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chat), args.Error(1)
}

func (m *MockChatRepository) UpsertChat(ctx context.Context, userID string, chat domain.Chat) error {
	args := m.Called(ctx, userID, chat)
	return args.Error(0)
}

func (m *MockChatRepository) DeleteChat(ctx context.Context, userID, chatID string) error {
	args := m.Called(ctx, userID, chatID)
	return args.Error(0)
}

func (m *MockChatRepository) DeleteMessage(ctx context.Context, userID, chatID, messageID string) error {
	args := m.Called(ctx, userID, chatID, messageID)
	return args.Error(0)
}

func (m *MockChatRepository) EditMessage(ctx context.Context, userID, chatID, messageID, content string) error {
	args := m.Called(ctx, userID, chatID, messageID, content)
	return args.Error(0)
}

// MockChatCache mocks the ChatCache interface
type MockChatCache struct {
	mock.Mock
}

func (m *MockChatCache) Get(ctx context.Context, userID string) ([]domain.Chat, bool, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]domain.Chat), args.Bool(1), args.Error(2)
}

func (m *MockChatCache) Set(ctx context.Context, userID string, chats []domain.Chat) error {
	args := m.Called(ctx, userID, chats)
	return args.Error(0)
}

func (m *MockChatCache) Invalidate(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// MockDocumentRepository mocks the DocumentRepository interface
type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentRepository) GetMany(ctx context.Context, userID string, ids []string) ([]domain.Document, error) {
	args := m.Called(ctx, userID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Document), args.Error(1)
}

// MockLLMProvider mocks the Provider interface. StreamChat replays Deltas
// through onDelta before returning.
type MockLLMProvider struct {
	mock.Mock
	Deltas []string
}

func (m *MockLLMProvider) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockLLMProvider) AvailableModels() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockLLMProvider) DefaultModel() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockLLMProvider) IsConfigured() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockLLMProvider) StreamChat(ctx context.Context, req llm.Request, model string, onDelta llm.DeltaFunc) (*llm.Response, error) {
	args := m.Called(ctx, req, model)
	for _, d := range m.Deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}
