package streaming

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/Rrens/chatnil/internal/domain"
)

// MockDocumentProcessor mocks the DocumentProcessor interface
type MockDocumentProcessor struct {
	mock.Mock
}

func (m *MockDocumentProcessor) ProcessDocument(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	args := m.Called(ctx, name, mimeType, data)
	return args.String(0), args.Error(1)
}

// fakeBackend hands every stream it opens to the test
type fakeBackend struct {
	mu      sync.Mutex
	err     error
	reqs    []domain.CompletionRequest
	streams []chan domain.StreamEvent
	ctxs    []context.Context
}

func (f *fakeBackend) StreamCompletion(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan domain.StreamEvent, 16)
	f.streams = append(f.streams, ch)
	f.ctxs = append(f.ctxs, ctx)
	return ch, nil
}

func (f *fakeBackend) last() (chan domain.StreamEvent, context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.streams) - 1
	return f.streams[n], f.ctxs[n]
}

func (f *fakeBackend) lastRequest() domain.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func content(delta string) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.EventContent, Delta: delta}
}

var complete = domain.StreamEvent{Type: domain.EventComplete}
