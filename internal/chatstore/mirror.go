package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/kv"
)

// MaxMirroredActiveChats bounds the non-archived chats kept in the mirror;
// older ones are written as archived
const MaxMirroredActiveChats = 50

// snapshot is the persisted form of a user's chat state
type snapshot struct {
	Version      int           `json:"version"`
	UserID       string        `json:"user_id"`
	ActiveChatID string        `json:"active_chat_id,omitempty"`
	GlobalDraft  string        `json:"global_draft,omitempty"`
	Chats        []domain.Chat `json:"chats"`
	SavedAt      time.Time     `json:"saved_at"`
}

// scheduleLocked hands the current state to the debounced mirror writer
func (s *Store) scheduleLocked() {
	if s.userID == "" {
		return
	}
	s.mirror.Set(s.snapshotLocked())
}

func (s *Store) snapshotLocked() snapshot {
	var active, archived, overflow []domain.Chat
	for _, c := range s.sortedLocked() {
		c = c.Clone()
		for i := range c.Messages {
			c.Messages[i].IsStreaming = false
		}
		if c.IsArchived {
			archived = append(archived, c)
			continue
		}
		if len(active) < MaxMirroredActiveChats {
			active = append(active, c)
			continue
		}
		c.IsArchived = true
		overflow = append(overflow, c)
	}

	chats := make([]domain.Chat, 0, len(active)+len(archived)+len(overflow))
	chats = append(chats, active...)
	chats = append(chats, archived...)
	chats = append(chats, overflow...)

	return snapshot{
		Version:      kv.SchemaVersion,
		UserID:       s.userID,
		ActiveChatID: s.activeID,
		GlobalDraft:  s.globalDraft,
		Chats:        chats,
		SavedAt:      s.clock.Now(),
	}
}

// persist is the mirror writer. Snapshots of a scope that is no longer
// current are dropped.
func (s *Store) persist(ctx context.Context, snap snapshot) error {
	if snap.UserID == "" || snap.UserID != s.currentScope() {
		return nil
	}
	store, err := s.mirrorStore(snap.UserID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := store.Set(ctx, kv.HistoryKey(snap.UserID), data); err != nil {
		return fmt.Errorf("failed to write mirror: %w", err)
	}
	return nil
}

func (s *Store) mirrorStore(userID string) (kv.Store, error) {
	if s.seal == nil {
		return s.kv, nil
	}
	c, err := s.seal(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror cipher: %w", err)
	}
	return kv.NewSealed(s.kv, c), nil
}

// Rehydrate loads the current user's mirror into an empty store and returns
// the number of chats held afterwards. A store that already holds chats is
// left as is. A missing or unreadable mirror is not an error.
func (s *Store) Rehydrate(ctx context.Context) (int, error) {
	s.mu.Lock()
	userID := s.userID
	held := len(s.chats)
	s.mu.Unlock()

	if userID == "" {
		return 0, domain.ErrScopeMismatch
	}
	if held > 0 {
		return held, nil
	}

	store, err := s.mirrorStore(userID)
	if err != nil {
		return 0, err
	}
	data, err := store.Get(ctx, kv.HistoryKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("mirror unreadable, ignoring")
		return 0, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn().Err(err).Msg("mirror corrupt, ignoring")
		return 0, nil
	}
	if snap.Version != kv.SchemaVersion || snap.UserID != userID {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != userID {
		return 0, domain.ErrStaleScope
	}
	if len(s.chats) > 0 {
		return len(s.chats), nil
	}

	for i := range snap.Chats {
		if snap.Chats[i].Messages == nil {
			snap.Chats[i].Messages = []domain.Message{}
		}
		for j := range snap.Chats[i].Messages {
			snap.Chats[i].Messages[j].IsStreaming = false
		}
	}
	s.chats = snap.Chats
	s.activeID = snap.ActiveChatID
	s.globalDraft = snap.GlobalDraft
	s.fixActiveLocked()
	return len(s.chats), nil
}

// ClearUserStorage removes the mirror of userID, or of every user when userID
// is empty. Keys from older schema versions are removed in both cases.
func (s *Store) ClearUserStorage(ctx context.Context, userID string) error {
	prefix := kv.Root
	if userID != "" {
		prefix = kv.UserPrefix(userID)
	}
	_, err := kv.DeletePrefix(ctx, s.kv, prefix)

	keys, lerr := s.kv.Keys(ctx, kv.Root)
	if lerr != nil {
		return errors.Join(err, lerr)
	}
	var errs []error
	for _, k := range keys {
		if strings.HasPrefix(k, kv.Versioned()) {
			continue
		}
		if derr := s.kv.Delete(ctx, k); derr != nil {
			errs = append(errs, derr)
		}
	}
	return errors.Join(append(errs, err)...)
}
