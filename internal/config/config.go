package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
)

type Config struct {
	WAPhoneNumberID string        `env:"WA_PHONE_NUMBER_ID,required"`
	WAAccessToken   string        `env:"WA_ACCESS_TOKEN,required"`
	WAVerifyToken   string        `env:"WA_VERIFY_TOKEN"`
	WAAppSecret     string        `env:"WA_APP_SECRET"`
	WAAPIVersion    string        `env:"WA_API_VERSION" envDefault:"v21.0"`
	WAMarkAsRead    bool          `env:"WA_MARK_AS_READ" envDefault:"true"`
	WASendRate      float64       `env:"WA_SEND_RATE" envDefault:"0"`
	WAHTTPTimeout   time.Duration `env:"WA_HTTP_TIMEOUT" envDefault:"30s"`

	Port     string `env:"PORT" envDefault:"8080"`
	DataDir  string `env:"DATA_DIR" envDefault:"."`
	MediaDir string `env:"MEDIA_DIR" envDefault:"tmp/media"`

	ContextBackend string        `env:"CONTEXT_BACKEND" envDefault:"memory"`
	ContextTTL     time.Duration `env:"CONTEXT_TTL" envDefault:"0s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the process environment. A .env file in the working directory is
// optional; variables already set take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse(nil)
}

// LoadFile reads configuration from a .env file only.
func LoadFile(path string) (*Config, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(vars)
}

// Parse builds a Config from environ, or from the process environment when environ is nil.
func Parse(environ map[string]string) (*Config, error) {
	var opts env.Options
	if environ != nil {
		opts.Environment = environ
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.WAVerifyToken == "" {
		token, err := randomHex(16)
		if err != nil {
			return nil, fmt.Errorf("generating verify token: %w", err)
		}
		cfg.WAVerifyToken = token
	}

	switch cfg.ContextBackend {
	case BackendMemory, BackendBolt:
	default:
		return nil, fmt.Errorf("CONTEXT_BACKEND must be %q or %q, got %q", BackendMemory, BackendBolt, cfg.ContextBackend)
	}
	if cfg.WASendRate < 0 {
		return nil, fmt.Errorf("WA_SEND_RATE must not be negative, got %v", cfg.WASendRate)
	}

	return cfg, nil
}

// BoltPath is where the bolt context backend keeps its file.
func (c *Config) BoltPath() string {
	return filepath.Join(c.DataDir, "wabot.db")
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
