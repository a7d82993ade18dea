// Package streaming drives one outstanding assistant reply at a time, from
// attachment processing through the final or failed message.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/upload"
)

// DefaultApology replaces the content of a reply that failed
const DefaultApology = "Sorry, I encountered an error. Please try again."

const maxParallelUploads = 4

// Store is the part of the chat store the controller writes to
type Store interface {
	ActiveChatID() string
	CreateChatWithMessage(msg domain.Message) string
	AddMessageToChat(chatID string, msg domain.Message) bool
	UpdateChatMessage(chatID, messageID string, patch domain.MessagePatch) bool
	GetChat(chatID string) (domain.Chat, bool)
}

// Config holds the collaborators of a Controller
type Config struct {
	Store     Store
	Backend   domain.CompletionBackend
	Documents domain.DocumentProcessor
	Policy    upload.Policy
	Apology   string
	Clock     clockwork.Clock
	Logger    zerolog.Logger
	NewID     func() string
	OnState   func(domain.StreamingState)
}

// Submission is one send from the composer
type Submission struct {
	Text  string
	Files []domain.FileUpload
	// ChatID targets a chat; empty means the active chat, or a new one
	ChatID string
}

// Result describes where a submission landed
type Result struct {
	ChatID    string
	MessageID string
	ReplyID   string
	Files     []domain.FileUpload
}

// Controller owns the streaming state machine
type Controller struct {
	store     Store
	backend   domain.CompletionBackend
	documents domain.DocumentProcessor
	policy    upload.Policy
	apology   string
	clock     clockwork.Clock
	logger    zerolog.Logger
	newID     func() string
	onState   func(domain.StreamingState)

	base     context.Context
	shutdown context.CancelFunc

	mu     sync.Mutex
	state  domain.StreamingState
	status string
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle Controller
func New(cfg Config) *Controller {
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Policy.MaxBytes == 0 {
		cfg.Policy = upload.DefaultPolicy()
	}

	base, shutdown := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)
	return &Controller{
		store:     cfg.Store,
		backend:   cfg.Backend,
		documents: cfg.Documents,
		policy:    cfg.Policy,
		apology:   cfg.Apology,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		newID:     cfg.NewID,
		onState:   cfg.OnState,
		base:      base,
		shutdown:  shutdown,
		state:     domain.StreamIdle,
		done:      done,
	}
}

// State returns the streaming state
func (c *Controller) State() domain.StreamingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the latest status text of the backend, e.g. "Searching
// knowledge base". It is never written into a message.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Busy reports whether a submission is in progress
func (c *Controller) Busy() bool {
	return !c.State().Accepting()
}

// Wait blocks until the current reply is final or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops applying events to the current reply. What has arrived so far
// is kept.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close cancels the current reply and waits for it to settle
func (c *Controller) Close() {
	c.shutdown()
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	<-done
}

// begin claims the controller for a new submission
func (c *Controller) begin(next domain.StreamingState) error {
	c.mu.Lock()
	if !c.state.Accepting() {
		c.mu.Unlock()
		return domain.ErrBusy
	}
	if c.base.Err() != nil {
		c.mu.Unlock()
		return errors.New("streaming: controller closed")
	}
	c.state = next
	c.status = ""
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.notify(next)
	return nil
}

func (c *Controller) setState(st domain.StreamingState) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	c.notify(st)
}

// end records a terminal state and releases waiters
func (c *Controller) end(st domain.StreamingState) {
	c.mu.Lock()
	c.state = st
	c.cancel = nil
	done := c.done
	c.mu.Unlock()

	c.notify(st)
	close(done)
}

func (c *Controller) notify(st domain.StreamingState) {
	if c.onState != nil {
		c.onState(st)
	}
}

// Submit processes attachments, appends the user message and a streaming
// placeholder, and starts the reply. It returns once the reply is streaming;
// use Wait to block until it is final. A busy controller rejects the call with
// domain.ErrBusy and does not change state.
func (c *Controller) Submit(ctx context.Context, sub Submission) (Result, error) {
	text := strings.TrimSpace(sub.Text)
	if text == "" && len(sub.Files) == 0 {
		return Result{}, domain.ErrEmptyMessage
	}
	if err := c.begin(domain.StreamSubmitting); err != nil {
		return Result{}, err
	}

	files := sub.Files
	if len(files) > 0 {
		c.setState(domain.StreamProcessingAttachments)
		files = c.processFiles(ctx, files)
	}

	msg := domain.Message{
		ID:        c.newID(),
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: c.clock.Now(),
	}
	for _, f := range files {
		if f.Status != domain.UploadReady {
			continue
		}
		msg.Attachments = append(msg.Attachments, f.Attachment())
		if f.DocumentID != "" {
			msg.DocumentIDs = append(msg.DocumentIDs, f.DocumentID)
		}
	}
	res := Result{Files: files, MessageID: msg.ID}

	if msg.Content == "" && len(msg.Attachments) == 0 {
		c.end(domain.StreamError)
		return res, fmt.Errorf("every attachment failed: %w", domain.ErrEmptyMessage)
	}

	chatID := sub.ChatID
	if chatID == "" {
		chatID = c.store.ActiveChatID()
	}
	if chatID == "" || !c.store.AddMessageToChat(chatID, msg) {
		chatID = c.store.CreateChatWithMessage(msg)
	}
	res.ChatID = chatID

	reply := domain.Message{
		ID:          c.newID(),
		Role:        domain.RoleAssistant,
		IsStreaming: true,
		CreatedAt:   c.clock.Now(),
	}
	if !c.store.AddMessageToChat(chatID, reply) {
		c.end(domain.StreamError)
		return res, fmt.Errorf("failed to add reply placeholder to chat %s: %w", chatID, domain.ErrBusy)
	}
	res.ReplyID = reply.ID

	c.start(chatID, reply.ID)
	return res, nil
}

// Regenerate reruns the reply lifecycle on a finalized assistant message. Its
// content and sources are replaced by the new reply.
func (c *Controller) Regenerate(ctx context.Context, chatID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat, ok := c.store.GetChat(chatID)
	if !ok {
		return domain.ErrNotFound
	}
	j := chat.MessageIndex(messageID)
	if j < 0 || chat.Messages[j].Role != domain.RoleAssistant {
		return domain.ErrNotFound
	}
	if chat.Messages[j].IsStreaming {
		return domain.ErrBusy
	}
	if err := c.begin(domain.StreamSubmitting); err != nil {
		return err
	}

	empty := ""
	streaming := true
	noSources := []domain.Source{}
	if !c.store.UpdateChatMessage(chatID, messageID, domain.MessagePatch{
		Content:     &empty,
		IsStreaming: &streaming,
		Sources:     &noSources,
	}) {
		c.end(domain.StreamError)
		return fmt.Errorf("failed to reset message %s: %w", messageID, domain.ErrBusy)
	}

	c.start(chatID, messageID)
	return nil
}

// processFiles validates and uploads every pending file concurrently. A
// failure marks only that file.
func (c *Controller) processFiles(ctx context.Context, files []domain.FileUpload) []domain.FileUpload {
	out := make([]domain.FileUpload, len(files))
	copy(out, files)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i := range out {
		if out[i].Status == domain.UploadReady || out[i].Status == domain.UploadFailed {
			continue
		}
		g.Go(func() error {
			out[i] = c.processFile(gctx, out[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Controller) processFile(ctx context.Context, f domain.FileUpload) domain.FileUpload {
	typ, err := c.policy.Check(f.Name, f.MIMEType, f.Size, f.Data)
	if err != nil {
		f.Status = domain.UploadFailed
		f.Error = err.Error()
		return f
	}
	f.MIMEType = typ
	if f.Preview == "" {
		f.Preview = upload.Preview(typ, f.Data)
	}

	if c.documents == nil {
		f.Status = domain.UploadReady
		return f
	}

	f.Status = domain.UploadProcessing
	id, err := c.documents.ProcessDocument(ctx, f.Name, typ, f.Data)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", f.Name).Msg("document processing failed")
		f.Status = domain.UploadFailed
		f.Error = err.Error()
		return f
	}
	f.DocumentID = id
	f.Status = domain.UploadReady
	return f
}

// start opens the completion stream and reduces its events in the background
func (c *Controller) start(chatID, replyID string) {
	ctx, cancel := context.WithCancel(c.base)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.setState(domain.StreamStreaming)

	chat, ok := c.store.GetChat(chatID)
	if !ok {
		cancel()
		c.end(domain.StreamComplete)
		return
	}
	req := buildRequest(chat, replyID)

	events, err := c.backend.StreamCompletion(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).Str("chat_id", chatID).Msg("failed to start completion")
		c.fail(chatID, replyID)
		cancel()
		c.end(domain.StreamError)
		return
	}

	go func() {
		st := c.reduce(ctx, events, chatID, replyID)
		cancel()
		c.end(st)
	}()
}

// reduce applies events to the reply until a terminal event and returns the
// final state
func (c *Controller) reduce(ctx context.Context, events <-chan domain.StreamEvent, chatID, replyID string) domain.StreamingState {
	var content strings.Builder
	for {
		select {
		case <-ctx.Done():
			return c.settle(chatID, replyID)
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return c.settle(chatID, replyID)
				}
				c.logger.Warn().Str("chat_id", chatID).Msg("stream closed without completing")
				c.fail(chatID, replyID)
				return domain.StreamError
			}

			switch ev.Type {
			case domain.EventStatus:
				c.mu.Lock()
				c.status = ev.Status
				c.mu.Unlock()
			case domain.EventContent:
				content.WriteString(ev.Delta)
				text := content.String()
				if !c.store.UpdateChatMessage(chatID, replyID, domain.MessagePatch{Content: &text}) {
					return c.vanished(chatID, replyID)
				}
			case domain.EventSources:
				sources := ev.Sources
				if !c.store.UpdateChatMessage(chatID, replyID, domain.MessagePatch{Sources: &sources}) {
					return c.vanished(chatID, replyID)
				}
			case domain.EventError:
				c.logger.Warn().Str("chat_id", chatID).Str("error", ev.Error).Msg("completion failed")
				c.fail(chatID, replyID)
				return domain.StreamError
			case domain.EventComplete:
				done := false
				if !c.store.UpdateChatMessage(chatID, replyID, domain.MessagePatch{IsStreaming: &done}) {
					return c.vanished(chatID, replyID)
				}
				return domain.StreamComplete
			}
		}
	}
}

// vanished handles a reply whose chat or message was removed mid-stream: the
// remaining events are dropped and the stream is cancelled by the caller
func (c *Controller) vanished(chatID, replyID string) domain.StreamingState {
	c.logger.Info().Str("chat_id", chatID).Str("message_id", replyID).Msg("reply target removed, dropping stream")
	return domain.StreamComplete
}

// settle finalizes a cancelled reply with what has arrived so far
func (c *Controller) settle(chatID, replyID string) domain.StreamingState {
	done := false
	c.store.UpdateChatMessage(chatID, replyID, domain.MessagePatch{IsStreaming: &done})
	return domain.StreamComplete
}

func (c *Controller) fail(chatID, replyID string) {
	apology := c.apology
	done := false
	c.store.UpdateChatMessage(chatID, replyID, domain.MessagePatch{Content: &apology, IsStreaming: &done})
}

// buildRequest gives the backend every finalized message before the reply
func buildRequest(chat domain.Chat, replyID string) domain.CompletionRequest {
	req := domain.CompletionRequest{
		ChatID:      chat.ID,
		MessageID:   replyID,
		RoleContext: chat.RoleContext,
	}
	seen := make(map[string]bool)
	for _, m := range chat.Messages {
		if m.ID == replyID {
			break
		}
		if m.IsStreaming {
			continue
		}
		req.Messages = append(req.Messages, m)
		for _, id := range m.DocumentIDs {
			if !seen[id] {
				seen[id] = true
				req.DocumentIDs = append(req.DocumentIDs, id)
			}
		}
	}
	return req
}
