package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockProvider(configured bool, deltas ...string) *MockLLMProvider {
	p := &MockLLMProvider{Deltas: deltas}
	p.On("Name").Return("mock").Maybe()
	p.On("IsConfigured").Return(configured).Maybe()
	p.On("DefaultModel").Return("mock-1").Maybe()
	p.On("AvailableModels").Return([]string{"mock-1"}).Maybe()
	return p
}

func newRouter(p llm.Provider) *llm.Router {
	r := llm.NewRouter("mock")
	r.RegisterProvider(p)
	return r
}

type recorder struct {
	events []domain.StreamEvent
	failOn domain.StreamEventType
}

func (r *recorder) emit(ev domain.StreamEvent) error {
	if r.failOn != "" && ev.Type == r.failOn {
		return errors.New("client went away")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []domain.StreamEventType {
	out := make([]domain.StreamEventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func completionRequest(docIDs ...string) domain.CompletionRequest {
	return domain.CompletionRequest{
		ChatID:      "c1",
		MessageID:   "m2",
		RoleContext: domain.RoleContextParent,
		Messages: []domain.Message{
			{ID: "m1", Role: domain.RoleUser, Content: "Is this contract fair?"},
			{ID: "m2", Role: domain.RoleAssistant, IsStreaming: true},
		},
		DocumentIDs: docIDs,
	}
}

func TestCompletionService_Stream(t *testing.T) {
	ctx := context.Background()

	t.Run("streams content then sources then complete", func(t *testing.T) {
		p := newMockProvider(true, "Hello", "", " there")
		p.On("StreamChat", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
			return strings.Contains(req.System, "# USER'S UPLOADED DOCUMENTS") &&
				strings.Contains(req.System, "## contract.txt (text/plain)") &&
				len(req.Turns) == 1
		}), "mock-1").Return(&llm.Response{Content: "Hello there", Model: "mock-1"}, nil)

		docs := new(MockDocumentRepository)
		docs.On("GetMany", mock.Anything, "u1", []string{"d1"}).
			Return([]domain.Document{{ID: "d1", Name: "contract.txt", MIMEType: "text/plain", Text: "Term: 12 months"}}, nil)

		rec := &recorder{}
		svc := NewCompletionService(newRouter(p), docs, 0)
		err := svc.Stream(ctx, "u1", completionRequest("d1"), rec.emit)
		require.NoError(t, err)

		assert.Equal(t, []domain.StreamEventType{
			domain.EventStatus,
			domain.EventStatus,
			domain.EventContent,
			domain.EventContent,
			domain.EventSources,
			domain.EventComplete,
		}, rec.types())
		assert.Equal(t, statusSearching, rec.events[0].Status)
		assert.Equal(t, "Hello", rec.events[2].Delta)
		assert.Equal(t, " there", rec.events[3].Delta)
		assert.Equal(t, []domain.Source{{Title: "contract.txt", DocumentID: "d1"}}, rec.events[4].Sources)
		p.AssertExpectations(t)
	})

	t.Run("no documents means no lookup and no sources", func(t *testing.T) {
		p := newMockProvider(true, "Hi")
		p.On("StreamChat", mock.Anything, mock.Anything, "mock-1").Return(&llm.Response{Model: "mock-1"}, nil)
		docs := new(MockDocumentRepository)

		rec := &recorder{}
		svc := NewCompletionService(newRouter(p), docs, 0)
		require.NoError(t, svc.Stream(ctx, "u1", completionRequest(), rec.emit))

		assert.NotContains(t, rec.types(), domain.EventSources)
		docs.AssertNotCalled(t, "GetMany", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("document lookup failure is not fatal", func(t *testing.T) {
		p := newMockProvider(true, "Hi")
		p.On("StreamChat", mock.Anything, mock.Anything, "mock-1").Return(&llm.Response{Model: "mock-1"}, nil)
		docs := new(MockDocumentRepository)
		docs.On("GetMany", mock.Anything, "u1", []string{"d1"}).Return(nil, errors.New("db down"))

		rec := &recorder{}
		svc := NewCompletionService(newRouter(p), docs, 0)
		require.NoError(t, svc.Stream(ctx, "u1", completionRequest("d1"), rec.emit))
		assert.Equal(t, domain.EventComplete, rec.events[len(rec.events)-1].Type)
	})

	t.Run("provider failure ends with an error event", func(t *testing.T) {
		p := newMockProvider(true)
		p.On("StreamChat", mock.Anything, mock.Anything, "mock-1").Return(nil, errors.New("upstream 500"))

		rec := &recorder{}
		svc := NewCompletionService(newRouter(p), new(MockDocumentRepository), 0)
		err := svc.Stream(ctx, "u1", completionRequest(), rec.emit)
		assert.Error(t, err)

		last := rec.events[len(rec.events)-1]
		assert.Equal(t, domain.EventError, last.Type)
		assert.Equal(t, generationFailed, last.Error)
		assert.NotContains(t, rec.types(), domain.EventComplete)
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		p := newMockProvider(false)

		rec := &recorder{}
		svc := NewCompletionService(newRouter(p), new(MockDocumentRepository), 0)
		err := svc.Stream(ctx, "u1", completionRequest(), rec.emit)
		assert.ErrorContains(t, err, "provider not configured")
		assert.Equal(t, []domain.StreamEventType{domain.EventStatus, domain.EventError}, rec.types())
	})

	t.Run("disconnected client stops generation", func(t *testing.T) {
		p := newMockProvider(true, "a", "b")
		p.On("StreamChat", mock.Anything, mock.Anything, "mock-1").Return(&llm.Response{}, nil)

		rec := &recorder{failOn: domain.EventContent}
		svc := NewCompletionService(newRouter(p), new(MockDocumentRepository), 0)
		err := svc.Stream(ctx, "u1", completionRequest(), rec.emit)
		assert.EqualError(t, err, "client went away")
		assert.NotContains(t, rec.types(), domain.EventComplete)
	})
}
