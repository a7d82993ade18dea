package chatstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/kv"
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

// fakeIdentity is a switchable authenticated user
type fakeIdentity struct {
	mu     sync.Mutex
	userID string
}

func (f *fakeIdentity) UserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID
}

func (f *fakeIdentity) Token() string { return "token-" + f.UserID() }

func (f *fakeIdentity) set(id string) {
	f.mu.Lock()
	f.userID = id
	f.mu.Unlock()
}

type testEnv struct {
	store  *Store
	kv     *kv.Memory
	remote *MockChatRepository
	clock  *clockwork.FakeClock
}

// sequentialIDs returns deterministic ids: id-1, id-2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestEnv(t *testing.T, withRemote bool) *testEnv {
	t.Helper()
	env := &testEnv{
		kv:    kv.NewMemory(),
		clock: clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)),
	}
	cfg := Config{
		KV:          env.kv,
		Clock:       env.clock,
		MirrorDelay: 500 * time.Millisecond,
		NewID:       sequentialIDs(),
	}
	if withRemote {
		env.remote = &MockChatRepository{}
		cfg.Remote = env.remote
	}
	env.store = New(cfg)
	t.Cleanup(func() { env.store.mirror.Close() })
	return env
}
