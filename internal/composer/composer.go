// Package composer stages the draft text and attachments of the next message
// and gates its submission.
package composer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/streaming"
	"github.com/Rrens/chatnil/internal/upload"
)

// DefaultNoticeTTL is how long a notice stays visible
const DefaultNoticeTTL = 4 * time.Second

// ErrComposing is returned by Submit while input-method composition is active
var ErrComposing = errors.New("composition in progress")

// Store holds the drafts
type Store interface {
	GetDraft(chatID string) string
	SetDraft(chatID, text string)
}

// Submitter sends a staged message
type Submitter interface {
	Submit(ctx context.Context, sub streaming.Submission) (streaming.Result, error)
	Busy() bool
}

// Transcriber turns captured speech into text
type Transcriber interface {
	Transcribe(ctx context.Context) (string, error)
}

// Notice is a transient user-facing message
type Notice struct {
	ID   uint64
	Text string
	At   time.Time
}

// Config holds the collaborators of a Composer
type Config struct {
	Store     Store
	Submitter Submitter
	Policy    upload.Policy
	NoticeTTL time.Duration
	Clock     clockwork.Clock
	Logger    zerolog.Logger
	NewID     func() string
	// OnNotice is called with the visible notices after every change
	OnNotice func([]Notice)
}

// Composer stages input for one chat view
type Composer struct {
	store     Store
	submitter Submitter
	policy    upload.Policy
	ttl       time.Duration
	clock     clockwork.Clock
	logger    zerolog.Logger
	newID     func() string
	onNotice  func([]Notice)

	mu         sync.Mutex
	files      []domain.FileUpload
	composing  bool
	submitting bool
	notices    []Notice
	timers     map[uint64]clockwork.Timer
	nextNotice uint64
	closed     bool
}

// New creates an empty Composer
func New(cfg Config) *Composer {
	if cfg.Policy.MaxBytes == 0 {
		cfg.Policy = upload.DefaultPolicy()
	}
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = DefaultNoticeTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Composer{
		store:     cfg.Store,
		submitter: cfg.Submitter,
		policy:    cfg.Policy,
		ttl:       cfg.NoticeTTL,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		newID:     cfg.NewID,
		onNotice:  cfg.OnNotice,
		timers:    make(map[uint64]clockwork.Timer),
	}
}

// Draft returns the draft of the active chat, or the global draft
func (c *Composer) Draft() string {
	return c.store.GetDraft("")
}

// SetDraft replaces the draft text
func (c *Composer) SetDraft(text string) {
	c.store.SetDraft("", text)
}

// SetComposing records whether an input method is mid-composition
func (c *Composer) SetComposing(active bool) {
	c.mu.Lock()
	c.composing = active
	c.mu.Unlock()
}

// Attach validates and stages a file. Rejected files raise a notice and are
// not staged. Images get a data URL preview right away.
func (c *Composer) Attach(name, declaredType string, data []byte) (domain.FileUpload, error) {
	typ, err := c.policy.Check(name, declaredType, int64(len(data)), data)
	if err != nil {
		c.Notify(noticeText(name, err))
		return domain.FileUpload{}, err
	}

	f := domain.FileUpload{
		ID:       c.newID(),
		Name:     name,
		MIMEType: typ,
		Size:     int64(len(data)),
		Data:     data,
		Preview:  upload.Preview(typ, data),
		Status:   domain.UploadPending,
	}

	c.mu.Lock()
	c.files = append(c.files, f)
	c.mu.Unlock()
	return f, nil
}

// AttachFile stages a file from disk
func (c *Composer) AttachFile(path string) (domain.FileUpload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.FileUpload{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	name := filepath.Base(path)
	if c.policy.MaxBytes > 0 && info.Size() > c.policy.MaxBytes {
		err := fmt.Errorf("%s exceeds the %d MB limit: %w", name, c.policy.MaxBytes>>20, upload.ErrTooLarge)
		c.Notify(noticeText(name, err))
		return domain.FileUpload{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.FileUpload{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return c.Attach(name, "", data)
}

func noticeText(name string, err error) string {
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		return fmt.Sprintf("%s is too large", name)
	case errors.Is(err, upload.ErrUnsupported):
		return fmt.Sprintf("%s is not a supported file type", name)
	default:
		return fmt.Sprintf("%s could not be attached: %v", name, err)
	}
}

// Remove unstages a file
func (c *Composer) Remove(fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.files {
		if f.ID == fileID {
			c.files = append(c.files[:i:i], c.files[i+1:]...)
			return true
		}
	}
	return false
}

// Files returns the staged files
func (c *Composer) Files() []domain.FileUpload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.FileUpload(nil), c.files...)
}

// CanSubmit reports whether Submit would be accepted right now
func (c *Composer) CanSubmit() bool {
	return c.gate() == nil
}

func (c *Composer) gate() error {
	c.mu.Lock()
	composing, submitting, staged := c.composing, c.submitting, len(c.files)
	c.mu.Unlock()

	switch {
	case composing:
		return ErrComposing
	case submitting || c.submitter.Busy():
		return domain.ErrBusy
	case strings.TrimSpace(c.Draft()) == "" && staged == 0:
		return domain.ErrEmptyMessage
	}
	return nil
}

// Submit sends the draft and staged files. Staged files are cleared once the
// submission is accepted; failed files are reported as notices.
func (c *Composer) Submit(ctx context.Context) (streaming.Result, error) {
	if err := c.gate(); err != nil {
		return streaming.Result{}, err
	}

	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return streaming.Result{}, domain.ErrBusy
	}
	c.submitting = true
	files := append([]domain.FileUpload(nil), c.files...)
	c.mu.Unlock()

	res, err := c.submitter.Submit(ctx, streaming.Submission{Text: c.Draft(), Files: files})

	c.mu.Lock()
	c.submitting = false
	if err == nil || (errors.Is(err, domain.ErrEmptyMessage) && len(res.Files) > 0) {
		c.files = nil
	}
	c.mu.Unlock()

	for _, f := range res.Files {
		if f.Status == domain.UploadFailed {
			c.Notify(fmt.Sprintf("%s failed: %s", f.Name, f.Error))
		}
	}
	return res, err
}

// Dictate appends a transcript to the draft
func (c *Composer) Dictate(ctx context.Context, t Transcriber) error {
	text, err := t.Transcribe(ctx)
	if err != nil {
		c.Notify("Speech recognition failed")
		return fmt.Errorf("failed to transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	draft := c.Draft()
	if draft != "" && !strings.HasSuffix(draft, " ") {
		draft += " "
	}
	c.SetDraft(draft + text)
	return nil
}

// Notify shows a notice that dismisses itself after the notice TTL
func (c *Composer) Notify(text string) uint64 {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	c.nextNotice++
	id := c.nextNotice
	c.notices = append(c.notices, Notice{ID: id, Text: text, At: c.clock.Now()})
	c.timers[id] = c.clock.AfterFunc(c.ttl, func() { c.Dismiss(id) })
	visible := c.visibleLocked()
	c.mu.Unlock()

	c.logger.Debug().Str("notice", text).Msg("notice raised")
	c.publish(visible)
	return id
}

// Dismiss removes a notice and stops its timer
func (c *Composer) Dismiss(id uint64) {
	c.mu.Lock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	found := false
	for i, n := range c.notices {
		if n.ID == id {
			c.notices = append(c.notices[:i:i], c.notices[i+1:]...)
			found = true
			break
		}
	}
	visible := c.visibleLocked()
	c.mu.Unlock()

	if found {
		c.publish(visible)
	}
}

// Notices returns the visible notices, oldest first
func (c *Composer) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleLocked()
}

func (c *Composer) visibleLocked() []Notice {
	return append([]Notice(nil), c.notices...)
}

func (c *Composer) publish(visible []Notice) {
	if c.onNotice != nil {
		c.onNotice(visible)
	}
}

// Close stops every pending timer and drops staged input
func (c *Composer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.notices = nil
	c.files = nil
}
