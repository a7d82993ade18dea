package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/llm"
)

const (
	statusSearching  = "Searching knowledge base"
	statusGenerating = "Generating response"

	generationFailed = "Failed to generate a response"
)

// EmitFunc delivers one stream event to the client. An error stops the completion.
type EmitFunc func(domain.StreamEvent) error

// CompletionService streams assistant replies
type CompletionService struct {
	llmRouter *llm.Router
	docRepo   domain.DocumentRepository
	timeout   time.Duration
}

// NewCompletionService creates a new completion service
func NewCompletionService(llmRouter *llm.Router, docRepo domain.DocumentRepository, timeout time.Duration) *CompletionService {
	return &CompletionService{
		llmRouter: llmRouter,
		docRepo:   docRepo,
		timeout:   timeout,
	}
}

// Stream generates the reply to req, emitting status, content, sources and
// finally complete. Failures after the stream started are reported as an
// error event and returned.
func (s *CompletionService) Stream(ctx context.Context, userID string, req domain.CompletionRequest, emit EmitFunc) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := emit(domain.StreamEvent{Type: domain.EventStatus, Status: statusSearching}); err != nil {
		return err
	}

	docs, err := s.loadDocuments(ctx, userID, req.DocumentIDs)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", req.ChatID).Msg("continuing without documents")
		docs = nil
	}

	provider, err := s.llmRouter.GetProvider("")
	if err != nil {
		return s.fail(emit, req, fmt.Errorf("failed to get LLM provider: %w", err))
	}

	contexts := make([]llm.DocumentContext, 0, len(docs))
	for _, d := range docs {
		contexts = append(contexts, llm.DocumentContext{Name: d.Name, Kind: d.MIMEType, Text: d.Text})
	}
	llmReq := llm.BuildRequest(req, contexts)

	if err := emit(domain.StreamEvent{Type: domain.EventStatus, Status: statusGenerating}); err != nil {
		return err
	}

	var emitErr error
	resp, err := provider.StreamChat(ctx, llmReq, provider.DefaultModel(), func(delta string) error {
		if delta == "" {
			return nil
		}
		if err := emit(domain.StreamEvent{Type: domain.EventContent, Delta: delta}); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		return emitErr
	}
	if err != nil {
		return s.fail(emit, req, fmt.Errorf("failed to generate reply: %w", err))
	}

	if len(docs) > 0 {
		sources := make([]domain.Source, 0, len(docs))
		for _, d := range docs {
			sources = append(sources, domain.Source{Title: d.Name, DocumentID: d.ID})
		}
		if err := emit(domain.StreamEvent{Type: domain.EventSources, Sources: sources}); err != nil {
			return err
		}
	}

	log.Info().
		Str("user_id", userID).
		Str("chat_id", req.ChatID).
		Str("provider", provider.Name()).
		Str("model", resp.Model).
		Int("tokens_used", resp.TokensUsed).
		Int64("latency_ms", resp.LatencyMs).
		Int("documents", len(docs)).
		Msg("completion finished")

	return emit(domain.StreamEvent{Type: domain.EventComplete})
}

func (s *CompletionService) loadDocuments(ctx context.Context, userID string, ids []string) ([]domain.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := s.docRepo.GetMany(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	return docs, nil
}

func (s *CompletionService) fail(emit EmitFunc, req domain.CompletionRequest, err error) error {
	log.Error().Err(err).Str("chat_id", req.ChatID).Str("message_id", req.MessageID).Msg("completion failed")
	msg := generationFailed
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "The response took too long. Please try again."
	}
	if emitErr := emit(domain.StreamEvent{Type: domain.EventError, Error: msg}); emitErr != nil {
		return errors.Join(err, emitErr)
	}
	return err
}
