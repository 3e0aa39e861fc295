package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for chat-sync.
type Config struct {
	// Account identity. The realtime feed and all remote queries are
	// scoped to this account.
	AccountID string `env:"CHAT_ACCOUNT_ID"`
	Email     string `env:"CHAT_EMAIL"`
	Password  string `env:"CHAT_PASSWORD"`

	// Remote store endpoints.
	APIBaseURL   string `env:"CHAT_API_URL"`
	RealtimeHost string `env:"CHAT_REALTIME_HOST"`

	// Directory holding the local cache database. Defaults to
	// ~/.chat-sync/ when empty.
	CacheDir string `env:"CHAT_CACHE_DIR"`

	// Device name this client identifies as. Defaults to system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Assistant (LLM) collaborator settings. Optional: when the API key is
	// empty the send pipeline runs without an assistant.
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	DefaultModel  string `env:"CHAT_DEFAULT_MODEL" envDefault:"gpt-4o-mini"`

	// RAG context service. Optional; empty URL disables retrieval.
	RAGServiceURL string        `env:"RAG_SERVICE_URL"`
	RAGTimeout    time.Duration `env:"RAG_TIMEOUT" envDefault:"3s"`

	// Streaming bounds so a hung collaborator cannot stall the send path.
	StreamChunkTimeout time.Duration `env:"STREAM_CHUNK_TIMEOUT" envDefault:"30s"`
	StreamTotalTimeout time.Duration `env:"STREAM_TOTAL_TIMEOUT" envDefault:"5m"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "chat-sync"
		}

		cfg.DeviceName = hostname
	}

	if cfg.CacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}

		cfg.CacheDir = dir
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	absDir, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache dir to absolute path: %w", err)
	}

	cfg.CacheDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("CHAT_ACCOUNT_ID is required")
	}

	if c.Email == "" {
		return fmt.Errorf("CHAT_EMAIL is required")
	}

	if c.Password == "" {
		return fmt.Errorf("CHAT_PASSWORD is required")
	}

	if c.APIBaseURL == "" {
		return fmt.Errorf("CHAT_API_URL is required")
	}

	if c.RealtimeHost == "" {
		return fmt.Errorf("CHAT_REALTIME_HOST is required")
	}

	if c.RAGTimeout <= 0 {
		return fmt.Errorf("RAG_TIMEOUT must be positive")
	}

	if c.StreamChunkTimeout <= 0 || c.StreamTotalTimeout <= 0 {
		return fmt.Errorf("stream timeouts must be positive")
	}

	return nil
}

// DefaultCacheDir returns the default cache directory: ~/.chat-sync/
func DefaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".chat-sync"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
