package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	APIBaseURL     string
	Port           int
	GinMode        string
	PollInterval   time.Duration
	FetchTimeout   time.Duration
	TokenStore     string
	TokenFile      string
	RedisURL       string
	LoginRateLimit int
	LogLevel       string
}

type Env interface {
	Getenv(key string) string
}

type viperEnv struct{ v *viper.Viper }

func (e viperEnv) Getenv(key string) string { return e.v.GetString(key) }

// LoadConfig reads the process environment, overlaid on an optional dotenv
// file (".env" unless CONFIG_FILE names another).
func LoadConfig() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	path := v.GetString("CONFIG_FILE")
	if path == "" {
		path = ".env"
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return LoadConfigFromEnv(viperEnv{v: v})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:           3000,
		GinMode:        "release",
		PollInterval:   5 * time.Second,
		FetchTimeout:   3 * time.Second,
		TokenStore:     "file",
		TokenFile:      "data/token.json",
		LoginRateLimit: 10,
		LogLevel:       "info",
	}

	host := env.Getenv("API_HOST")
	if host == "" {
		host = "localhost"
	}
	cfg.APIBaseURL = "http://" + host + ":8000"
	if raw := env.Getenv("API_BASE_URL"); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("invalid API_BASE_URL")
		}
		cfg.APIBaseURL = strings.TrimRight(raw, "/")
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	if raw := env.Getenv("POLL_INTERVAL_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("invalid POLL_INTERVAL_MS")
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}

	if raw := env.Getenv("FETCH_TIMEOUT_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("invalid FETCH_TIMEOUT_MS")
		}
		cfg.FetchTimeout = time.Duration(ms) * time.Millisecond
	}

	if raw := env.Getenv("TOKEN_STORE"); raw != "" {
		switch raw {
		case "memory", "file", "redis":
			cfg.TokenStore = raw
		default:
			return Config{}, fmt.Errorf("invalid TOKEN_STORE %q", raw)
		}
	}
	if raw := env.Getenv("TOKEN_FILE"); raw != "" {
		cfg.TokenFile = raw
	}
	cfg.RedisURL = env.Getenv("REDIS_URL")
	if cfg.TokenStore == "redis" && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL is required for TOKEN_STORE=redis")
	}

	if raw := env.Getenv("LOGIN_RATE_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid LOGIN_RATE_LIMIT")
		}
		cfg.LoginRateLimit = n
	}

	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}

	return cfg, nil
}
