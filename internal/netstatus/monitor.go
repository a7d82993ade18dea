// Package netstatus reports whether the chat service is reachable.
package netstatus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Monitor tracks connectivity by probing a health endpoint. Subscribers are
// told about transitions only, never about repeated equal readings.
type Monitor struct {
	healthURL string
	client    *http.Client
	interval  time.Duration
	clock     clockwork.Clock
	logger    zerolog.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

// Option configures a Monitor
type Option func(*Monitor)

// WithHTTPClient sets the client used for probes
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithInterval sets the probe interval
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithClock sets the clock driving the probe loop
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor that assumes the network is reachable until a probe
// says otherwise. An empty healthURL disables probing; Set still works.
func New(healthURL string, opts ...Option) *Monitor {
	m := &Monitor{
		healthURL: healthURL,
		client:    &http.Client{Timeout: 5 * time.Second},
		interval:  15 * time.Second,
		clock:     clockwork.NewRealClock(),
		logger:    zerolog.Nop(),
		online:    true,
		subs:      make(map[int]chan bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the last known reachability
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a reachability reading and notifies subscribers on change
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	m.logger.Info().Bool("online", online).Msg("connectivity changed")

	for _, ch := range m.subs {
		// keep only the latest reading for slow subscribers
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Subscribe returns a channel of transitions and a func that ends the subscription
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Probe checks the health endpoint once and records the result
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.healthURL == "" {
		return m.Online()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("invalid health url")
		return m.Online()
	}

	online := false
	resp, err := m.client.Do(req)
	if err == nil {
		online = resp.StatusCode < http.StatusInternalServerError
		resp.Body.Close()
	} else if ctx.Err() != nil {
		return m.Online()
	} else {
		m.logger.Debug().Err(err).Msg("health probe failed")
	}

	m.Set(online)
	return online
}

// Run probes immediately and then on every interval until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	if m.healthURL == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	m.Probe(ctx)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			m.Probe(ctx)
		}
	}
}
