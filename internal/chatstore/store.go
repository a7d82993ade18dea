// Package chatstore owns the in-memory chats of the signed-in user and mirrors
// them to a local key-value store and the remote chat service.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Rrens/chatnil/internal/autosave"
	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/kv"
)

const defaultMirrorDelay = 500 * time.Millisecond

// Config holds the collaborators of a Store
type Config struct {
	KV     kv.Store
	Remote domain.ChatRepository
	// Identity, when set, is checked on every read; a mismatch wipes the store
	Identity domain.Identity
	// Seal returns the cipher used for a user's mirror; nil stores plaintext
	Seal        func(userID string) (kv.Cipher, error)
	Clock       clockwork.Clock
	Logger      zerolog.Logger
	MirrorDelay time.Duration
	NewID       func() string
}

// Store is the single owner of the chats of one user scope
type Store struct {
	mu          sync.Mutex
	chats       []domain.Chat
	activeID    string
	globalDraft string
	userID      string

	// rev counts mutations; revs records the last one per chat
	rev  uint64
	revs map[string]uint64

	// scope mirrors userID for the mirror writer, which never takes mu
	scope atomic.Value

	kv       kv.Store
	remote   domain.ChatRepository
	identity domain.Identity
	seal     func(userID string) (kv.Cipher, error)
	clock    clockwork.Clock
	logger   zerolog.Logger
	newID    func() string
	mirror   *autosave.Debouncer[snapshot]
	onChange func(chatID string)
}

// New creates an empty, unscoped Store
func New(cfg Config) *Store {
	if cfg.KV == nil {
		cfg.KV = kv.NewMemory()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MirrorDelay <= 0 {
		cfg.MirrorDelay = defaultMirrorDelay
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	s := &Store{
		kv:       cfg.KV,
		remote:   cfg.Remote,
		identity: cfg.Identity,
		seal:     cfg.Seal,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		newID:    cfg.NewID,
		revs:     make(map[string]uint64),
	}
	s.scope.Store("")
	s.mirror = autosave.New(snapshot{}, cfg.MirrorDelay, s.persist,
		autosave.WithClock(cfg.Clock),
		autosave.WithLogger(cfg.Logger),
		autosave.WithTimeout(10*time.Second),
	)
	return s
}

// Close flushes the pending mirror write and stops the writer
func (s *Store) Close(ctx context.Context) error {
	var err error
	if s.mirror.State().Pending {
		err = s.mirror.SaveNow(ctx)
	}
	s.mirror.Close()
	return err
}

// MirrorState exposes the state of the local mirror writer
func (s *Store) MirrorState() autosave.State {
	return s.mirror.State()
}

// FlushMirror writes the current snapshot immediately
func (s *Store) FlushMirror(ctx context.Context) error {
	s.mu.Lock()
	s.scheduleLocked()
	s.mu.Unlock()
	return s.mirror.SaveNow(ctx)
}

// UserID returns the user the store is scoped to
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// GetActiveChat returns a copy of the active chat
func (s *Store) GetActiveChat() (domain.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verifyScopeLocked() {
		return domain.Chat{}, false
	}
	i := s.indexLocked(s.activeID)
	if i < 0 {
		return domain.Chat{}, false
	}
	return s.chats[i].Clone(), true
}

// ActiveChatID returns the id of the active chat, or "" when drafting
func (s *Store) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// GetChat returns a copy of a chat
func (s *Store) GetChat(chatID string) (domain.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verifyScopeLocked() {
		return domain.Chat{}, false
	}
	i := s.indexLocked(chatID)
	if i < 0 {
		return domain.Chat{}, false
	}
	return s.chats[i].Clone(), true
}

// Chats returns every chat, archived included, pinned first then most recent
func (s *Store) Chats() []domain.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verifyScopeLocked() {
		return nil
	}
	out := make([]domain.Chat, len(s.chats))
	for i := range s.chats {
		out[i] = s.chats[i].Clone()
	}
	sortChats(out)
	return out
}

// FilteredChats returns non-archived chats whose title or messages contain query
func (s *Store) FilteredChats(query string) []domain.Chat {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []domain.Chat
	for _, c := range s.Chats() {
		if c.IsArchived {
			continue
		}
		if q == "" || matches(c, q) {
			out = append(out, c)
		}
	}
	return out
}

// NewChat creates an empty chat for the athlete role and makes it active
func (s *Store) NewChat() string {
	return s.NewChatFor(domain.RoleContextAthlete)
}

// NewChatFor creates an empty chat for role and makes it active
func (s *Store) NewChatFor(role domain.RoleContext) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.newChatLocked(role)
	s.chats = append([]domain.Chat{c}, s.chats...)
	s.activeID = c.ID
	s.touchLocked(c.ID)
	return c.ID
}

// BeginDraft deselects the active chat so the next send creates a new one
func (s *Store) BeginDraft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = ""
	s.globalDraft = ""
	s.scheduleLocked()
}

// CreateChatWithFirstMessage creates a chat holding one user message, titled
// from text, and makes it active
func (s *Store) CreateChatWithFirstMessage(text string, attachments ...domain.Attachment) string {
	return s.CreateChatWithMessage(domain.Message{
		Role:        domain.RoleUser,
		Content:     text,
		Attachments: attachments,
	})
}

// CreateChatWithMessage is CreateChatWithFirstMessage for a prepared user message
func (s *Store) CreateChatWithMessage(msg domain.Message) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.newChatLocked(domain.RoleContextAthlete)
	s.fillMessageLocked(&msg)
	msg.IsStreaming = false
	c.Title = MakeTitle(msg.Content, s.clock.Now())
	c.Messages = []domain.Message{msg.Clone()}

	s.chats = append([]domain.Chat{c}, s.chats...)
	s.activeID = c.ID
	s.globalDraft = ""
	s.touchLocked(c.ID)
	return c.ID
}

// SetActiveChat selects a chat; archived or unknown chats are refused
func (s *Store) SetActiveChat(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(chatID)
	if i < 0 || s.chats[i].IsArchived {
		return false
	}
	s.activeID = chatID
	s.scheduleLocked()
	return true
}

// AddMessageToChat appends msg. It is a no-op returning false when the chat no
// longer exists or when msg would be a second streaming message in the chat.
func (s *Store) AddMessageToChat(chatID string, msg domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(chatID)
	if i < 0 {
		return false
	}
	c := &s.chats[i]
	if msg.IsStreaming && c.StreamingMessage() >= 0 {
		s.logger.Warn().Str("chat_id", chatID).Msg("refusing second streaming message")
		return false
	}

	s.fillMessageLocked(&msg)
	if len(c.Messages) == 0 && msg.Role == domain.RoleUser {
		c.Title = MakeTitle(msg.Content, s.clock.Now())
	}
	c.Messages = append(c.Messages, msg.Clone())
	if msg.Role == domain.RoleUser {
		c.Draft = ""
	}
	c.UpdatedAt = s.clock.Now()
	s.touchLocked(chatID)
	return true
}

// UpdateChatMessage merges patch into a message; false when chat or message is gone
func (s *Store) UpdateChatMessage(chatID, messageID string, patch domain.MessagePatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(chatID)
	if i < 0 {
		return false
	}
	c := &s.chats[i]
	j := c.MessageIndex(messageID)
	if j < 0 {
		return false
	}
	if patch.IsStreaming != nil && *patch.IsStreaming {
		if k := c.StreamingMessage(); k >= 0 && k != j {
			return false
		}
	}

	patch.Apply(&c.Messages[j])
	c.UpdatedAt = s.clock.Now()
	s.touchLocked(chatID)
	return true
}

// EditMessage replaces a message's content locally, then remotely. When the
// remote call fails the local message is restored and the error returned.
func (s *Store) EditMessage(ctx context.Context, chatID, messageID, content string) error {
	if strings.TrimSpace(content) == "" {
		return domain.ErrEmptyMessage
	}

	s.mu.Lock()
	i := s.indexLocked(chatID)
	if i < 0 {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	c := &s.chats[i]
	j := c.MessageIndex(messageID)
	if j < 0 {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	if c.Messages[j].IsStreaming {
		s.mu.Unlock()
		return domain.ErrBusy
	}

	prev := c.Messages[j].Clone()
	prevUpdated := c.UpdatedAt
	now := s.clock.Now()
	m := &c.Messages[j]
	if m.OriginalContent == "" {
		m.OriginalContent = m.Content
	}
	m.Content = content
	m.EditedAt = &now
	c.UpdatedAt = now
	userID := s.userID
	s.touchLocked(chatID)
	s.mu.Unlock()

	if userID == "" || s.remote == nil {
		return nil
	}

	err := s.remote.EditMessage(ctx, userID, chatID, messageID, content)
	if errors.Is(err, domain.ErrNotFound) {
		// not pushed yet; the upsert carries the edit
		err = s.SyncChatToDatabase(ctx, chatID, userID)
	}
	if err == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == userID {
		if i := s.indexLocked(chatID); i >= 0 {
			c := &s.chats[i]
			if j := c.MessageIndex(messageID); j >= 0 && c.Messages[j].Content == content {
				c.Messages[j] = prev
				c.UpdatedAt = prevUpdated
				s.touchLocked(chatID)
			}
		}
	}
	return fmt.Errorf("failed to edit message: %w", err)
}

// DeleteMessage removes a message locally, then remotely. When the remote call
// fails the message is re-inserted at its original position.
func (s *Store) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	s.mu.Lock()
	i := s.indexLocked(chatID)
	if i < 0 {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	c := &s.chats[i]
	j := c.MessageIndex(messageID)
	if j < 0 {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	if c.Messages[j].IsStreaming {
		s.mu.Unlock()
		return domain.ErrBusy
	}

	removed := c.Messages[j]
	prevUpdated := c.UpdatedAt
	c.Messages = append(c.Messages[:j:j], c.Messages[j+1:]...)
	c.UpdatedAt = s.clock.Now()
	userID := s.userID
	s.touchLocked(chatID)
	s.mu.Unlock()

	if userID == "" || s.remote == nil {
		return nil
	}

	err := s.remote.DeleteMessage(ctx, userID, chatID, messageID)
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == userID {
		if i := s.indexLocked(chatID); i >= 0 && s.chats[i].MessageIndex(messageID) < 0 {
			c := &s.chats[i]
			pos := min(j, len(c.Messages))
			c.Messages = append(c.Messages[:pos:pos], append([]domain.Message{removed}, c.Messages[pos:]...)...)
			c.UpdatedAt = prevUpdated
			s.touchLocked(chatID)
		}
	}
	return fmt.Errorf("failed to delete message: %w", err)
}

// GetDraft returns the draft of chatID; "" means the active chat, or the
// global draft when no chat is active
func (s *Store) GetDraft(chatID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verifyScopeLocked() {
		return ""
	}
	if chatID == "" {
		chatID = s.activeID
	}
	if chatID == "" {
		return s.globalDraft
	}
	if i := s.indexLocked(chatID); i >= 0 {
		return s.chats[i].Draft
	}
	return ""
}

// SetDraft stores text as the draft of chatID, resolved like GetDraft
func (s *Store) SetDraft(chatID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verifyScopeLocked() {
		return
	}
	if chatID == "" {
		chatID = s.activeID
	}
	if chatID == "" {
		s.globalDraft = text
		s.scheduleLocked()
		return
	}
	if i := s.indexLocked(chatID); i >= 0 {
		s.chats[i].Draft = text
		s.touchLocked(chatID)
	}
}

// RenameChat sets a chat's title; a blank title becomes "Untitled Chat"
func (s *Store) RenameChat(chatID, title string) bool {
	return s.mutateChat(chatID, func(c *domain.Chat) {
		c.Title = strings.TrimSpace(title)
		if c.Title == "" {
			c.Title = UntitledTitle
		}
	})
}

// SetRoleContext changes the audience of a chat
func (s *Store) SetRoleContext(chatID string, role domain.RoleContext) bool {
	return s.mutateChat(chatID, func(c *domain.Chat) { c.RoleContext = role })
}

// TogglePin flips the pinned flag of a chat
func (s *Store) TogglePin(chatID string) bool {
	return s.mutateChat(chatID, func(c *domain.Chat) { c.IsPinned = !c.IsPinned })
}

// ClearChatMessages removes every message of a chat, keeping the chat
func (s *Store) ClearChatMessages(chatID string) bool {
	return s.mutateChat(chatID, func(c *domain.Chat) { c.Messages = []domain.Message{} })
}

// ArchiveChat archives a chat; if it was active the first remaining
// non-archived chat becomes active
func (s *Store) ArchiveChat(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(chatID)
	if i < 0 {
		return false
	}
	s.chats[i].IsArchived = true
	s.chats[i].UpdatedAt = s.clock.Now()
	s.fixActiveLocked()
	s.touchLocked(chatID)
	return true
}

// DeleteChat removes a chat locally and remotely, restoring it on remote failure
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	i := s.indexLocked(chatID)
	if i < 0 {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	removed := s.chats[i]
	wasActive := s.activeID == chatID
	s.chats = append(s.chats[:i:i], s.chats[i+1:]...)
	if wasActive {
		s.activeID = ""
		for _, c := range s.sortedLocked() {
			if !c.IsArchived {
				s.activeID = c.ID
				break
			}
		}
	}
	userID := s.userID
	s.scheduleLocked()
	s.mu.Unlock()

	if userID == "" || s.remote == nil {
		return nil
	}

	err := s.remote.DeleteChat(ctx, userID, chatID)
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == userID && s.indexLocked(chatID) < 0 {
		s.chats = append(s.chats, removed)
		if wasActive {
			s.activeID = chatID
		}
		s.touchLocked(chatID)
	}
	return fmt.Errorf("failed to delete chat: %w", err)
}

// SetUserID rebinds the store to userID. Leaving a non-empty scope, for
// another user or for none, wipes memory, drops pending mirror writes and
// deletes the previous user's mirror before returning true.
func (s *Store) SetUserID(userID string) bool {
	s.mu.Lock()
	prev := s.userID
	switched := prev != "" && prev != userID
	s.userID = userID
	s.scope.Store(userID)
	if switched {
		s.resetLocked()
		s.mirror.Cancel()
	}
	s.mu.Unlock()

	if switched {
		s.logger.Warn().Str("from", prev).Str("to", userID).Msg("user scope left, chats cleared")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.ClearUserStorage(ctx, prev); err != nil {
			s.logger.Error().Err(err).Str("user_id", prev).Msg("failed to delete previous mirror")
		}
	}
	return switched
}

// ClearAllChats empties the store, unbinds its scope and drops pending mirror writes
func (s *Store) ClearAllChats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.userID = ""
	s.scope.Store("")
	s.mirror.Cancel()
}

// Watch registers fn to be called after every change to a chat of a scoped
// store. fn runs with the store locked and must not call back into it.
func (s *Store) Watch(fn func(chatID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// ChatCount returns the number of chats held in memory
func (s *Store) ChatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}

func (s *Store) mutateChat(chatID string, fn func(*domain.Chat)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(chatID)
	if i < 0 {
		return false
	}
	fn(&s.chats[i])
	s.chats[i].UpdatedAt = s.clock.Now()
	s.touchLocked(chatID)
	return true
}

func (s *Store) newChatLocked(role domain.RoleContext) domain.Chat {
	now := s.clock.Now()
	return domain.Chat{
		ID:          s.newID(),
		Title:       DefaultTitle,
		Messages:    []domain.Message{},
		RoleContext: role,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *Store) fillMessageLocked(m *domain.Message) {
	if m.ID == "" {
		m.ID = s.newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock.Now()
	}
}

func (s *Store) indexLocked(chatID string) int {
	if chatID == "" {
		return -1
	}
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			return i
		}
	}
	return -1
}

func (s *Store) sortedLocked() []domain.Chat {
	out := append([]domain.Chat(nil), s.chats...)
	sortChats(out)
	return out
}

// fixActiveLocked moves the selection off a missing or archived chat
func (s *Store) fixActiveLocked() {
	if s.activeID == "" {
		return
	}
	if i := s.indexLocked(s.activeID); i >= 0 && !s.chats[i].IsArchived {
		return
	}
	s.activeID = ""
	for _, c := range s.sortedLocked() {
		if !c.IsArchived {
			s.activeID = c.ID
			return
		}
	}
}

func (s *Store) resetLocked() {
	s.chats = nil
	s.activeID = ""
	s.globalDraft = ""
	s.revs = make(map[string]uint64)
}

// touchLocked records a mutation of chatID and schedules a mirror write
func (s *Store) touchLocked(chatID string) {
	s.rev++
	s.revs[chatID] = s.rev
	s.scheduleLocked()
	if s.onChange != nil && s.userID != "" {
		s.onChange(chatID)
	}
}

// verifyScopeLocked wipes the store when its scope differs from the
// authenticated user. It reports whether reads may proceed.
func (s *Store) verifyScopeLocked() bool {
	if s.identity == nil || s.userID == "" {
		return true
	}
	if current := s.identity.UserID(); current == s.userID {
		return true
	}

	stale := s.userID
	s.logger.Error().Str("scope", stale).Msg("store scope does not match authenticated user, wiping")
	s.resetLocked()
	s.userID = ""
	s.scope.Store("")
	s.mirror.Cancel()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.ClearUserStorage(ctx, stale); err != nil {
			s.logger.Error().Err(err).Msg("failed to delete mirror after scope mismatch")
		}
	}()
	return false
}

func (s *Store) currentScope() string {
	v, _ := s.scope.Load().(string)
	return v
}
