package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Rrens/chatnil/internal/client"
	"github.com/Rrens/chatnil/internal/composer"
	"github.com/Rrens/chatnil/internal/config"
	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/logging"
)

func newRootCmd() *cobra.Command {
	var (
		token   string
		storage string
		apiURL  string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Terminal chat client with local cache and background sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if token != "" {
				cfg.Client.Token = token
			}
			if storage != "" {
				cfg.Client.Storage = storage
			}
			if apiURL != "" {
				cfg.Client.APIBaseURL = apiURL
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token (default from client.token)")
	cmd.Flags().StringVar(&storage, "storage", "", "local mirror storage: memory, sqlite or redis")
	cmd.Flags().StringVar(&apiURL, "api", "", "API base URL")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	logCloser, err := logging.Setup(cfg.Logging, cfg.IsProduction())
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := ui{out: out}
	var (
		mu   sync.Mutex
		seen uint64
	)
	hooks := client.Hooks{
		OnSync: func(st domain.SyncState) {
			if st.Err != nil {
				u.notice("sync: " + st.Err.Error())
			}
		},
		OnNotice: func(notices []composer.Notice) {
			mu.Lock()
			defer mu.Unlock()
			for _, n := range notices {
				if n.ID > seen {
					seen = n.ID
					u.notice(n.Text)
				}
			}
		},
	}

	session, err := client.Open(ctx, cfg, hooks, logging.Component("chat"))
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			u.notice(err.Error())
		}
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(runCtx) }()
	defer func() {
		cancelRun()
		<-runDone
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            promptColor.Sprint("> "),
		InterruptPrompt:   "^C",
		HistoryFile:       historyFile(),
		HistorySearchFold: true,
		Stdout:            out,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	u.title("chatnil")
	u.dim("type /help for commands")

	r := &repl{s: session, ui: u}
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if session.Streams.Busy() {
				session.Streams.Cancel()
				continue
			}
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if r.handle(ctx, strings.TrimRight(line, "\r\n")) {
			return nil
		}
	}
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err == nil {
		dir = filepath.Join(dir, "chatnil")
		err = os.MkdirAll(dir, 0o700)
	}
	if err != nil {
		return filepath.Join(os.TempDir(), "chatnil.history")
	}
	return filepath.Join(dir, "history")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
