// Package autosave runs an async save a fixed delay after the latest change
// to a value, dropping the intermediate values.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// SaveFunc persists a snapshot of the value
type SaveFunc[T any] func(ctx context.Context, value T) error

// State is the observable status of a Debouncer
type State struct {
	Saving    bool
	Pending   bool
	LastSaved time.Time
	Err       error
}

// ErrClosed is returned by SaveNow after Close
var ErrClosed = errors.New("autosave: closed")

// Option configures a Debouncer
type Option func(*options)

type options struct {
	clock   clockwork.Clock
	logger  zerolog.Logger
	timeout time.Duration
	onState func(State)
}

// WithClock sets the clock used for scheduling
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used for save failures
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTimeout bounds every background save
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// OnStateChange registers a callback invoked after every state transition.
// It is called without internal locks held.
func OnStateChange(fn func(State)) Option {
	return func(o *options) { o.onState = fn }
}

// Debouncer schedules save to run delay after the most recent Set.
// The initial value passed to New is never saved.
type Debouncer[T any] struct {
	delay time.Duration
	save  SaveFunc[T]
	opts  options

	mu      sync.Mutex
	value   T
	dirty   bool
	timer   clockwork.Timer
	gen     uint64
	state   State
	closed  bool
	saveMu  sync.Mutex // serializes save calls
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Debouncer holding initial
func New[T any](initial T, delay time.Duration, save SaveFunc[T], opts ...Option) *Debouncer[T] {
	o := options{
		clock:   clockwork.NewRealClock(),
		logger:  zerolog.Nop(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer[T]{
		delay:   delay,
		save:    save,
		opts:    o,
		value:   initial,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Set records a new value and (re)starts the debounce window
func (d *Debouncer[T]) Set(value T) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.value = value
	d.dirty = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.opts.clock.AfterFunc(d.delay, func() { d.fire(gen) })
	d.state.Pending = true
	st := d.state
	d.mu.Unlock()

	d.notify(st)
}

// Value returns the latest value
func (d *Debouncer[T]) Value() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// State returns the current saving state
func (d *Debouncer[T]) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	// superseded by a later Set, Cancel or SaveNow
	if gen != d.gen || d.closed {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(d.baseCtx, d.opts.timeout)
	defer cancel()
	if err := d.run(ctx, gen, false); err != nil {
		d.opts.logger.Warn().Err(err).Msg("autosave failed")
	}
}

// SaveNow cancels any pending timer and saves the latest value immediately
func (d *Debouncer[T]) SaveNow(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	return d.run(ctx, gen, true)
}

func (d *Debouncer[T]) run(ctx context.Context, gen uint64, force bool) error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	d.mu.Lock()
	if d.closed || (!force && gen != d.gen) {
		d.mu.Unlock()
		return nil
	}
	if !force && !d.dirty {
		d.mu.Unlock()
		return nil
	}
	value := d.value
	d.dirty = false
	d.state.Saving = true
	d.state.Pending = false
	st := d.state
	d.mu.Unlock()
	d.notify(st)

	err := d.save(ctx, value)

	d.mu.Lock()
	d.state.Saving = false
	d.state.Err = err
	if err == nil {
		d.state.LastSaved = d.opts.clock.Now()
	} else if gen == d.gen {
		// keep the value dirty so the next Set or SaveNow retries it
		d.dirty = true
	}
	st = d.state
	d.mu.Unlock()
	d.notify(st)

	return err
}

// Cancel drops any pending save and waits for an in-flight one to return
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.dirty = false
	d.state.Pending = false
	d.mu.Unlock()

	d.saveMu.Lock()
	d.saveMu.Unlock()
}

// Reset cancels pending work and replaces the value without scheduling a save
func (d *Debouncer[T]) Reset(value T) {
	d.Cancel()
	d.mu.Lock()
	d.value = value
	d.state = State{}
	d.mu.Unlock()
}

// Close cancels pending work; later calls to Set are ignored
func (d *Debouncer[T]) Close() {
	d.Cancel()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
}

func (d *Debouncer[T]) notify(st State) {
	if d.opts.onState != nil {
		d.opts.onState(st)
	}
}
