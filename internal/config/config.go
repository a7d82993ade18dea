package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Env      string         `mapstructure:"env"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Client   ClientConfig   `mapstructure:"client"`
}

// IsProduction reports whether the process runs in production mode
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	SSLMode       string `mapstructure:"ssl_mode"`
	MaxConns      int32  `mapstructure:"max_conns"`
	MinConns      int32  `mapstructure:"min_conns"`
	MigrationsURL string `mapstructure:"migrations_url"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	ChatListTTL time.Duration `mapstructure:"chat_list_ttl"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	// DevTokens exposes POST /auth/token, which signs a token for any user id
	DevTokens      bool          `mapstructure:"dev_tokens"`
}

type LLMConfig struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	Timeout         time.Duration `mapstructure:"timeout"`
	OpenAI          OpenAIConfig  `mapstructure:"openai"`
	DeepSeek        OpenAIConfig  `mapstructure:"deepseek"`
	Anthropic       OpenAIConfig  `mapstructure:"anthropic"`
	Ollama          OllamaConfig  `mapstructure:"ollama"`
	Gemini          GeminiConfig  `mapstructure:"gemini"`
}

// OpenAIConfig holds API key providers: OpenAI, OpenAI-compatible APIs such
// as DeepSeek, and Anthropic
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type OllamaConfig struct {
	Host         string `mapstructure:"host"`
	DefaultModel string `mapstructure:"default_model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type SecurityConfig struct {
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	MaxUploadBytes  int64           `mapstructure:"max_upload_bytes"`
	MaxDocumentText int             `mapstructure:"max_document_text"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// ClientConfig configures the terminal chat client and the engine it wires
type ClientConfig struct {
	APIBaseURL       string        `mapstructure:"api_base_url"`
	Token            string        `mapstructure:"token"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	Storage          string        `mapstructure:"storage"` // memory | sqlite | redis
	SQLitePath       string        `mapstructure:"sqlite_path"`
	EncryptionSecret string        `mapstructure:"encryption_secret"`
	MirrorDebounce   time.Duration `mapstructure:"mirror_debounce"`
	RefreshSchedule  string        `mapstructure:"refresh_schedule"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	MaxFileBytes     int64         `mapstructure:"max_file_bytes"`
	NoticeTTL        time.Duration `mapstructure:"notice_ttl"`
	ApologyText      string        `mapstructure:"apology_text"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	// completions stream for a while
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "chatnil")
	v.SetDefault("database.database", "chatnil")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.migrations_url", "file://migrations")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.chat_list_ttl", "10m")

	// Auth
	v.SetDefault("auth.issuer", "chatnil")
	v.SetDefault("auth.access_token_ttl", "24h")
	v.SetDefault("auth.dev_tokens", false)

	// LLM
	v.SetDefault("llm.default_provider", "ollama")
	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("llm.ollama.host", "http://localhost:11434")
	v.SetDefault("llm.ollama.default_model", "llama3")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.deepseek.model", "deepseek-chat")
	v.SetDefault("llm.deepseek.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("llm.gemini.model", "gemini-1.5-flash")

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 60)
	v.SetDefault("security.rate_limit.burst", 10)
	v.SetDefault("security.max_upload_bytes", 50<<20)
	v.SetDefault("security.max_document_text", 20000)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")

	// Client
	v.SetDefault("client.api_base_url", "http://localhost:8080")
	v.SetDefault("client.request_timeout", "30s")
	v.SetDefault("client.storage", "sqlite")
	v.SetDefault("client.sqlite_path", "./chatnil.db")
	v.SetDefault("client.mirror_debounce", "500ms")
	v.SetDefault("client.refresh_schedule", "@every 5m")
	v.SetDefault("client.probe_interval", "15s")
	v.SetDefault("client.max_file_bytes", 50<<20)
	v.SetDefault("client.notice_ttl", "4s")
	v.SetDefault("client.apology_text", "Sorry, I encountered an error. Please try again.")
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("env", "ENV")

	// Server
	v.BindEnv("server.port", "SERVER_PORT")

	// Database
	v.BindEnv("database.host", "POSTGRES_HOST")
	v.BindEnv("database.password", "POSTGRES_PASSWORD")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// LLM API Keys
	v.BindEnv("llm.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("llm.deepseek.api_key", "DEEPSEEK_API_KEY")
	v.BindEnv("llm.anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("llm.gemini.api_key", "GEMINI_API_KEY")
	v.BindEnv("llm.ollama.host", "OLLAMA_HOST")

	// Client
	v.BindEnv("client.api_base_url", "CHATNIL_API_URL")
	v.BindEnv("client.token", "CHATNIL_TOKEN")
	v.BindEnv("client.encryption_secret", "CHATNIL_ENCRYPTION_SECRET")
}
