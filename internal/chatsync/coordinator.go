// Package chatsync decides when the chat store is loaded, wiped, pushed and
// refreshed, driven by authentication, connectivity and a refresh schedule.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Rrens/chatnil/internal/autosave"
	"github.com/Rrens/chatnil/internal/domain"
)

// Store is the part of the chat store the coordinator drives
type Store interface {
	UserID() string
	SetUserID(userID string) bool
	ClearAllChats()
	ClearUserStorage(ctx context.Context, userID string) error
	Rehydrate(ctx context.Context) (int, error)
	LoadChatsFromDatabase(ctx context.Context, userID string) (bool, error)
	SyncAllToDatabase(ctx context.Context, userID string) error
	SyncChatToDatabase(ctx context.Context, chatID, userID string) error
	Watch(fn func(chatID string))
}

// Connectivity reports network reachability and its transitions
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// Config holds the collaborators of a Coordinator
type Config struct {
	Store Store
	Net   Connectivity
	// RefreshSchedule is a cron expression or descriptor ("@every 5m");
	// empty disables scheduled refreshes
	RefreshSchedule string
	RequestTimeout  time.Duration
	PushDelay       time.Duration
	Clock           clockwork.Clock
	Logger          zerolog.Logger
	OnChange        func(domain.SyncState)
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type eventKind int

const (
	evLogin eventKind = iota
	evLogout
	evRefresh
)

type event struct {
	kind   eventKind
	userID string
}

// Coordinator owns the sync state machine. All transitions run on the Run
// goroutine, so a wipe and a load never interleave.
type Coordinator struct {
	store    Store
	net      Connectivity
	schedule cron.Schedule
	timeout  time.Duration
	clock    clockwork.Clock
	logger   zerolog.Logger
	onChange func(domain.SyncState)

	qmu   sync.Mutex
	queue []event
	wake  chan struct{}

	smu   sync.RWMutex
	state domain.SyncState
	// loaded is set once a load succeeded for the current user this session
	loaded bool

	pmu     sync.Mutex
	dirty   map[string]bool
	pushGen uint64
	push    *autosave.Debouncer[uint64]
}

// New creates a Coordinator in the idle state
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil || cfg.Net == nil {
		return nil, errors.New("chatsync: store and connectivity are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PushDelay <= 0 {
		cfg.PushDelay = 2 * time.Second
	}

	c := &Coordinator{
		store:    cfg.Store,
		net:      cfg.Net,
		timeout:  cfg.RequestTimeout,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		onChange: cfg.OnChange,
		wake:     make(chan struct{}, 1),
		state:    domain.SyncState{Status: domain.SyncIdle},
		dirty:    make(map[string]bool),
	}
	if cfg.RefreshSchedule != "" {
		sched, err := scheduleParser.Parse(cfg.RefreshSchedule)
		if err != nil {
			return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshSchedule, err)
		}
		c.schedule = sched
	}

	c.push = autosave.New(uint64(0), cfg.PushDelay, c.pushDirty,
		autosave.WithClock(cfg.Clock),
		autosave.WithLogger(cfg.Logger),
		autosave.WithTimeout(cfg.RequestTimeout),
	)
	c.store.Watch(c.markDirty)
	return c, nil
}

// State returns a snapshot of the sync state
func (c *Coordinator) State() domain.SyncState {
	c.smu.RLock()
	defer c.smu.RUnlock()
	return c.state
}

// Login reports the authenticated user. A different user than the store's
// current scope triggers a wipe before the new user's chats are loaded.
func (c *Coordinator) Login(userID string) {
	if userID == "" {
		c.Logout()
		return
	}
	c.enqueue(event{kind: evLogin, userID: userID})
}

// Logout wipes the store and its mirror
func (c *Coordinator) Logout() {
	c.enqueue(event{kind: evLogout})
}

// ForceRefresh pushes local chats and reloads them from the remote service
func (c *Coordinator) ForceRefresh() {
	c.enqueue(event{kind: evRefresh})
}

func (c *Coordinator) enqueue(ev event) {
	c.qmu.Lock()
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) drain() []event {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	evs := c.queue
	c.queue = nil
	return evs
}

// Run processes events until ctx is done
func (c *Coordinator) Run(ctx context.Context) error {
	transitions, unsubscribe := c.net.Subscribe()
	defer unsubscribe()
	defer c.push.Close()

	var tick <-chan time.Time
	var timer clockwork.Timer
	if c.schedule != nil {
		timer = c.clock.NewTimer(c.untilNextRefresh())
		defer timer.Stop()
		tick = timer.Chan()
	}

	c.logger.Info().Msg("sync coordinator started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
			for _, ev := range c.drain() {
				c.handle(ctx, ev)
			}
		case online := <-transitions:
			c.handleConnectivity(ctx, online)
		case <-tick:
			c.logger.Debug().Msg("scheduled refresh")
			if c.store.UserID() != "" {
				c.refresh(ctx)
			}
			timer.Reset(c.untilNextRefresh())
		}
	}
}

func (c *Coordinator) untilNextRefresh() time.Duration {
	now := c.clock.Now()
	d := c.schedule.Next(now).Sub(now)
	if d <= 0 {
		return time.Second
	}
	return d
}

func (c *Coordinator) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evLogin:
		c.login(ctx, ev.userID)
	case evLogout:
		c.logout(ctx)
	case evRefresh:
		if c.store.UserID() == "" {
			return
		}
		c.refresh(ctx)
	}
}

func (c *Coordinator) login(ctx context.Context, userID string) {
	prev := c.store.UserID()
	if prev == userID && c.isLoaded() {
		return
	}

	if prev != "" && prev != userID {
		c.logger.Warn().Str("from", prev).Str("to", userID).Msg("user switch detected")
		c.setState(domain.SyncState{Status: domain.SyncIdle})
		c.dropPendingPush()
		// wipe, then rebind; both finish before the load below starts
		c.store.ClearAllChats()
		if err := c.store.ClearUserStorage(ctx, prev); err != nil {
			c.logger.Error().Err(err).Str("user_id", prev).Msg("failed to clear previous user's mirror")
		}
	}

	c.store.SetUserID(userID)
	c.load(ctx, userID)
}

func (c *Coordinator) logout(ctx context.Context) {
	prev := c.store.UserID()
	c.dropPendingPush()
	c.store.ClearAllChats()
	if prev != "" {
		if err := c.store.ClearUserStorage(ctx, prev); err != nil {
			c.logger.Error().Err(err).Msg("failed to clear mirror on logout, clearing all users")
			if err := c.store.ClearUserStorage(ctx, ""); err != nil {
				c.logger.Error().Err(err).Msg("failed to clear mirrors")
			}
		}
	}
	c.setState(domain.SyncState{Status: domain.SyncIdle})
	c.logger.Info().Str("user_id", prev).Msg("logged out, chats cleared")
}

func (c *Coordinator) handleConnectivity(ctx context.Context, online bool) {
	userID := c.store.UserID()
	if userID == "" {
		return
	}
	if !online {
		st := c.State()
		st.Status = domain.SyncOffline
		st.UserID = userID
		c.setState(st)
		return
	}
	// local chats may be mirror-only or written offline, so push before any reload
	c.refresh(ctx)
}

// refresh pushes every local chat and then reloads
func (c *Coordinator) refresh(ctx context.Context) {
	userID := c.store.UserID()
	if !c.net.Online() {
		st := c.State()
		st.Status = domain.SyncOffline
		st.UserID = userID
		c.setState(st)
		return
	}

	st := c.State()
	st.Status = domain.SyncLoading
	st.UserID = userID
	c.setState(st)

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.store.SyncAllToDatabase(pctx, userID)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("some chats failed to sync")
	} else {
		c.clearDirty()
	}
	c.load(ctx, userID)
}

// load moves to loading and ends in synced, offline, error or idle
func (c *Coordinator) load(ctx context.Context, userID string) {
	st := c.State()
	st.Status = domain.SyncLoading
	st.UserID = userID
	st.Err = nil
	c.setState(st)

	if !c.net.Online() {
		c.fallback(ctx)
		st.Status = domain.SyncOffline
		c.setState(st)
		return
	}

	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	found, err := c.store.LoadChatsFromDatabase(lctx, userID)
	cancel()

	switch {
	case err == nil:
		c.smu.Lock()
		c.loaded = true
		c.smu.Unlock()
		st.Status = domain.SyncSynced
		st.LastSyncedAt = c.clock.Now()
		c.setState(st)
		c.logger.Info().Str("user_id", userID).Bool("found", found).Msg("chats loaded")
		if !found {
			// nothing remote yet; the mirror may still hold chats created offline
			c.fallback(ctx)
		}
	case errors.Is(err, domain.ErrStaleScope), errors.Is(err, domain.ErrScopeMismatch):
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("discarding load for a stale scope")
		c.setState(domain.SyncState{Status: domain.SyncIdle})
	case errors.Is(err, domain.ErrOffline):
		c.fallback(ctx)
		st.Status = domain.SyncOffline
		c.setState(st)
	default:
		c.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load chats")
		c.fallback(ctx)
		st.Status = domain.SyncError
		st.Err = err
		c.setState(st)
	}
}

// fallback fills an empty store from the local mirror
func (c *Coordinator) fallback(ctx context.Context) {
	n, err := c.store.Rehydrate(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("mirror fallback failed")
		return
	}
	c.logger.Debug().Int("chats", n).Msg("using local mirror")
}

func (c *Coordinator) isLoaded() bool {
	c.smu.RLock()
	defer c.smu.RUnlock()
	return c.loaded
}

func (c *Coordinator) setState(st domain.SyncState) {
	c.smu.Lock()
	if st.Status == domain.SyncIdle {
		c.loaded = false
	}
	c.state = st
	fn := c.onChange
	c.smu.Unlock()

	if fn != nil {
		fn(st)
	}
}

// markDirty is the store's change hook; it runs under the store lock
func (c *Coordinator) markDirty(chatID string) {
	c.pmu.Lock()
	c.dirty[chatID] = true
	c.pushGen++
	gen := c.pushGen
	c.pmu.Unlock()
	c.push.Set(gen)
}

func (c *Coordinator) clearDirty() {
	c.pmu.Lock()
	c.dirty = make(map[string]bool)
	c.pmu.Unlock()
}

func (c *Coordinator) dropPendingPush() {
	c.push.Cancel()
	c.clearDirty()
}

// pushDirty upserts the chats changed since the last push. Chats that fail
// stay dirty for the next attempt.
func (c *Coordinator) pushDirty(ctx context.Context, _ uint64) error {
	userID := c.store.UserID()
	if userID == "" || !c.net.Online() {
		return nil
	}

	c.pmu.Lock()
	ids := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	c.dirty = make(map[string]bool)
	c.pmu.Unlock()

	var errs []error
	for _, id := range ids {
		err := c.store.SyncChatToDatabase(ctx, id, userID)
		switch {
		case err == nil, errors.Is(err, domain.ErrNotFound):
		case errors.Is(err, domain.ErrScopeMismatch):
			return nil
		default:
			errs = append(errs, err)
			c.pmu.Lock()
			c.dirty[id] = true
			c.pmu.Unlock()
		}
	}
	return errors.Join(errs...)
}
