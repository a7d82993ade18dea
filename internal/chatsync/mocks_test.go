package chatsync

import (
	"context"
	"sync"

	"github.com/Rrens/chatnil/internal/domain"
)

// fakeRemote is an in-memory chat service that records every call
type fakeRemote struct {
	mu      sync.Mutex
	chats   map[string][]domain.Chat
	calls   []string
	loadErr error
	onLoad  func(userID string)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{chats: make(map[string][]domain.Chat)}
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRemote) seed(userID string, chats ...domain.Chat) {
	f.mu.Lock()
	f.chats[userID] = append(f.chats[userID], chats...)
	f.mu.Unlock()
}

func (f *fakeRemote) LoadChatsForUser(_ context.Context, userID string) ([]domain.Chat, error) {
	f.record("load:" + userID)

	f.mu.Lock()
	hook := f.onLoad
	err := f.loadErr
	out := make([]domain.Chat, 0, len(f.chats[userID]))
	for _, c := range f.chats[userID] {
		out = append(out, c.Clone())
	}
	f.mu.Unlock()

	if hook != nil {
		hook(userID)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeRemote) UpsertChat(_ context.Context, userID string, chat domain.Chat) error {
	f.record("upsert:" + chat.ID)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.chats[userID] {
		if c.ID == chat.ID {
			f.chats[userID][i] = chat.Clone()
			return nil
		}
	}
	f.chats[userID] = append(f.chats[userID], chat.Clone())
	return nil
}

func (f *fakeRemote) DeleteChat(_ context.Context, _, chatID string) error {
	f.record("delete:" + chatID)
	return nil
}

func (f *fakeRemote) DeleteMessage(_ context.Context, _, chatID, messageID string) error {
	f.record("delete:" + chatID + "/" + messageID)
	return nil
}

func (f *fakeRemote) EditMessage(_ context.Context, _, chatID, messageID, _ string) error {
	f.record("edit:" + chatID + "/" + messageID)
	return nil
}
