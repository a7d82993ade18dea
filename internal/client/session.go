// Package client wires the chat engine for one signed-in device session.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Rrens/chatnil/internal/chatstore"
	"github.com/Rrens/chatnil/internal/chatsync"
	"github.com/Rrens/chatnil/internal/composer"
	"github.com/Rrens/chatnil/internal/config"
	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/kv"
	"github.com/Rrens/chatnil/internal/netstatus"
	"github.com/Rrens/chatnil/internal/remote"
	"github.com/Rrens/chatnil/internal/repository/redis"
	"github.com/Rrens/chatnil/internal/repository/sqlite"
	"github.com/Rrens/chatnil/internal/security"
	"github.com/Rrens/chatnil/internal/streaming"
	"github.com/Rrens/chatnil/internal/upload"
)

// Hooks receive state changes; any of them may be nil
type Hooks struct {
	OnSync   func(domain.SyncState)
	OnStream func(domain.StreamingState)
	OnNotice func([]composer.Notice)
}

// Session holds the engine components of one client process
type Session struct {
	Credentials *remote.Credentials
	Remote      *remote.Client
	Store       *chatstore.Store
	Sync        *chatsync.Coordinator
	Net         *netstatus.Monitor
	Streams     *streaming.Controller
	Composer    *composer.Composer
	Prefs       *kv.Preferences

	logger  zerolog.Logger
	closers []io.Closer
}

// Open builds a Session from configuration. Call Run to start syncing and
// Close when done.
func Open(ctx context.Context, cfg *config.Config, hooks Hooks, logger zerolog.Logger) (*Session, error) {
	cc := cfg.Client

	store, closer, err := openKV(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Session{logger: logger, Credentials: &remote.Credentials{}}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}

	s.Remote = remote.New(cc.APIBaseURL, s.Credentials,
		remote.WithHTTPClient(&http.Client{Timeout: cc.RequestTimeout}),
		remote.WithLogger(logger.With().Str("component", "remote").Logger()),
	)

	s.Store = chatstore.New(chatstore.Config{
		KV:          store,
		Remote:      s.Remote,
		Identity:    s.Credentials,
		Seal:        sealer(cc.EncryptionSecret),
		Logger:      logger.With().Str("component", "chatstore").Logger(),
		MirrorDelay: cc.MirrorDebounce,
	})
	s.Prefs = kv.NewPreferences(store)

	netOpts := []netstatus.Option{netstatus.WithLogger(logger.With().Str("component", "netstatus").Logger())}
	if cc.ProbeInterval > 0 {
		netOpts = append(netOpts, netstatus.WithInterval(cc.ProbeInterval))
	}
	s.Net = netstatus.New(s.Remote.HealthURL(), netOpts...)

	s.Sync, err = chatsync.New(chatsync.Config{
		Store:           s.Store,
		Net:             s.Net,
		RefreshSchedule: cc.RefreshSchedule,
		RequestTimeout:  cc.RequestTimeout,
		Logger:          logger.With().Str("component", "chatsync").Logger(),
		OnChange:        hooks.OnSync,
	})
	if err != nil {
		s.closeAll()
		return nil, err
	}

	policy := upload.DefaultPolicy()
	if cc.MaxFileBytes > 0 {
		policy.MaxBytes = cc.MaxFileBytes
	}

	s.Streams = streaming.New(streaming.Config{
		Store:     s.Store,
		Backend:   s.Remote,
		Documents: s.Remote,
		Policy:    policy,
		Apology:   cc.ApologyText,
		Logger:    logger.With().Str("component", "streaming").Logger(),
		OnState:   hooks.OnStream,
	})

	s.Composer = composer.New(composer.Config{
		Store:     s.Store,
		Submitter: s.Streams,
		Policy:    policy,
		NoticeTTL: cc.NoticeTTL,
		Logger:    logger.With().Str("component", "composer").Logger(),
		OnNotice:  hooks.OnNotice,
	})

	if cc.Token != "" {
		if err := s.Login(cc.Token); err != nil {
			s.logger.Warn().Err(err).Msg("ignoring configured token")
		}
	}
	return s, nil
}

func openKV(ctx context.Context, cfg *config.Config) (kv.Store, io.Closer, error) {
	switch cfg.Client.Storage {
	case "", "memory":
		return kv.NewMemory(), nil, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.Client.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case "redis":
		rc, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return redis.NewKV(rc, "chatnil:device:"), rc, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Client.Storage)
	}
}

// sealer returns a per-user mirror cipher factory, or nil for plaintext
func sealer(secret string) func(string) (kv.Cipher, error) {
	if secret == "" {
		return nil
	}
	key := security.DecodeSecret(secret)
	return func(userID string) (kv.Cipher, error) {
		return security.NewUserEncryptor(key, userID)
	}
}

// Run probes connectivity and drives synchronization until ctx is done
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Net.Run(ctx) })
	g.Go(func() error { return s.Sync.Run(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Login signs in with a bearer token and loads that user's chats
func (s *Session) Login(token string) error {
	userID, err := s.Credentials.SignIn(token)
	if err != nil {
		return err
	}
	s.logger.Info().Str("user_id", userID).Msg("signed in")
	s.Sync.Login(userID)
	return nil
}

// Logout wipes the session's chats and forgets the token
func (s *Session) Logout() {
	s.Streams.Cancel()
	s.Sync.Logout()
	s.Credentials.SignOut()
}

// Close stops in-flight work, flushes the mirror and releases storage
func (s *Session) Close(ctx context.Context) error {
	s.Composer.Close()
	s.Streams.Close()
	err := s.Store.Close(ctx)
	if cerr := s.closeAll(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (s *Session) closeAll() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
