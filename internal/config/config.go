package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultBaseURL is the fallback backend host when no environment value is set.
const DefaultBaseURL = "https://api.campwars.io"

type Config struct {
	BaseURL     string `env:"CAMPWARS_API_URL" envDefault:"https://api.campwars.io"`
	SocketURL   string `env:"CAMPWARS_SOCKET_URL"`
	Constrained bool   `env:"CAMPWARS_CONSTRAINED_NET" envDefault:"false"`
	LogLevel    string `env:"CAMPWARS_LOG_LEVEL" envDefault:"info"`
	CacheDir    string `env:"CAMPWARS_CACHE_DIR"`
}

// Load reads an optional .env file, then the process environment.
// SocketURL is derived from BaseURL when not set explicitly.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.SocketURL == "" {
		cfg.SocketURL = deriveSocketURL(cfg.BaseURL)
	}
	return &cfg, nil
}

func deriveSocketURL(baseURL string) string {
	u := baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(u, "/") + "/ws"
}
