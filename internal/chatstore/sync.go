package chatstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/chatnil/internal/domain"
)

var errNoRemote = errors.New("no remote chat repository configured")

// LoadChatsFromDatabase replaces the chat list with the remote view of userID
// and reports whether any chats were found. With zero remote chats the local
// state is kept. Local chats with a reply still streaming, and local chats
// changed while the request was in flight, survive the replacement.
func (s *Store) LoadChatsFromDatabase(ctx context.Context, userID string) (bool, error) {
	if s.remote == nil {
		return false, errNoRemote
	}

	s.mu.Lock()
	if userID == "" || s.userID != userID {
		s.mu.Unlock()
		return false, domain.ErrScopeMismatch
	}
	startRev := s.rev
	s.mu.Unlock()

	remote, err := s.remote.LoadChatsForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load chats: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != userID {
		// the scope changed while loading; these chats belong to someone else now
		return false, domain.ErrStaleScope
	}
	if len(remote) == 0 {
		return false, nil
	}

	local := make(map[string]domain.Chat, len(s.chats))
	for _, c := range s.chats {
		local[c.ID] = c
	}

	merged := make([]domain.Chat, 0, len(remote))
	seen := make(map[string]bool, len(remote))
	for _, rc := range remote {
		seen[rc.ID] = true
		lc, ok := local[rc.ID]
		switch {
		case ok && s.keepLocalLocked(lc, startRev):
			merged = append(merged, lc)
		case ok:
			if rc.Draft == "" {
				rc.Draft = lc.Draft
			}
			merged = append(merged, normalize(rc))
		default:
			merged = append(merged, normalize(rc))
		}
	}
	for _, lc := range s.chats {
		if seen[lc.ID] {
			continue
		}
		if s.keepLocalLocked(lc, startRev) {
			merged = append(merged, lc)
		}
	}

	s.chats = merged
	s.fixActiveLocked()
	s.scheduleLocked()
	return true, nil
}

// keepLocalLocked reports whether a local chat wins over the remote copy
func (s *Store) keepLocalLocked(c domain.Chat, startRev uint64) bool {
	return c.StreamingMessage() >= 0 || s.revs[c.ID] > startRev
}

// SyncChatToDatabase pushes one chat to the remote service
func (s *Store) SyncChatToDatabase(ctx context.Context, chatID, userID string) error {
	if s.remote == nil {
		return errNoRemote
	}

	s.mu.Lock()
	if userID == "" || s.userID != userID {
		s.mu.Unlock()
		return domain.ErrScopeMismatch
	}
	i := s.indexLocked(chatID)
	if i < 0 {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	c := settled(s.chats[i])
	s.mu.Unlock()

	if err := s.remote.UpsertChat(ctx, userID, c); err != nil {
		return fmt.Errorf("failed to sync chat %s: %w", chatID, err)
	}
	return nil
}

// SyncAllToDatabase pushes every local chat of userID. Failures are collected
// per chat and never stop the batch.
func (s *Store) SyncAllToDatabase(ctx context.Context, userID string) error {
	if s.remote == nil {
		return errNoRemote
	}

	s.mu.Lock()
	if userID == "" || s.userID != userID {
		s.mu.Unlock()
		return domain.ErrScopeMismatch
	}
	chats := make([]domain.Chat, len(s.chats))
	for i := range s.chats {
		chats[i] = settled(s.chats[i])
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range chats {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.remote.UpsertChat(ctx, userID, c); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", c.ID, err))
		}
	}
	return errors.Join(errs...)
}

// settled copies c without any message that is still streaming
func settled(c domain.Chat) domain.Chat {
	out := c.Clone()
	msgs := out.Messages[:0]
	for _, m := range out.Messages {
		if !m.IsStreaming {
			msgs = append(msgs, m)
		}
	}
	out.Messages = msgs
	return out
}

func normalize(c domain.Chat) domain.Chat {
	if c.Messages == nil {
		c.Messages = []domain.Message{}
	}
	if c.RoleContext == "" {
		c.RoleContext = domain.RoleContextAthlete
	}
	for i := range c.Messages {
		c.Messages[i].IsStreaming = false
	}
	return c
}
