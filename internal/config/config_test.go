package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Client.Storage)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.MirrorDebounce)
	assert.Equal(t, 4*time.Second, cfg.Client.NoticeTTL)
	assert.Equal(t, int64(50<<20), cfg.Client.MaxFileBytes)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: production
server:
  port: 9090
client:
  storage: redis
  mirror_debounce: 2s
`), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CHATNIL_TOKEN", "tok")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Client.Storage)
	assert.Equal(t, 2*time.Second, cfg.Client.MirrorDebounce)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "tok", cfg.Client.Token)
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5432, Database: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())
}
