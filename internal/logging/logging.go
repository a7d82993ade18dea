// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/chatnil/internal/config"
)

// Setup installs the global logger and returns a closer for the log file, if any
func Setup(cfg config.LoggingConfig, production bool) (io.Closer, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if !production && cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rl, err := newRotator(cfg)
		if err != nil {
			return nil, err
		}
		closer = rl
		out = zerolog.MultiLevelWriter(out, rl)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

// Component returns a child of the global logger tagged with name
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func newRotator(cfg config.LoggingConfig) (*rotatelogs.RotateLogs, error) {
	opts := []rotatelogs.Option{rotatelogs.WithLinkName(cfg.File)}
	if cfg.MaxAge > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(cfg.MaxAge))
	}
	if cfg.RotationTime > 0 {
		opts = append(opts, rotatelogs.WithRotationTime(cfg.RotationTime))
	}
	rl, err := rotatelogs.New(cfg.File+".%Y%m%d", opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return rl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
