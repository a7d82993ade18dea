package domain

import (
	"errors"
	"time"
)

// SyncStatus is the state of the synchronization coordinator
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncLoading SyncStatus = "loading"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
	SyncOffline SyncStatus = "offline"
)

// SyncState is a snapshot of the coordinator state
type SyncState struct {
	Status       SyncStatus `json:"status"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
	UserID       string     `json:"user_id"`
	Err          error      `json:"-"`
}

// StreamingState is the lifecycle state of one outstanding assistant reply
type StreamingState string

const (
	StreamIdle                  StreamingState = "idle"
	StreamSubmitting            StreamingState = "submitting"
	StreamProcessingAttachments StreamingState = "processing_attachments"
	StreamStreaming             StreamingState = "streaming"
	StreamComplete              StreamingState = "complete"
	StreamError                 StreamingState = "error"
)

// Accepting reports whether a new submission may start from this state
func (s StreamingState) Accepting() bool {
	switch s {
	case StreamIdle, StreamComplete, StreamError, "":
		return true
	}
	return false
}

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrOffline       = errors.New("network unreachable")
	ErrScopeMismatch = errors.New("user scope mismatch")
	ErrStaleScope    = errors.New("store scope changed during request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBusy          = errors.New("a submission is already in progress")
	ErrEmptyMessage  = errors.New("message has no text and no attachments")
)
