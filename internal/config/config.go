// Package config loads the giffun CLI and proxy configuration.
//
// Sources, highest priority first:
//  1. explicit --config path;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. environment only.
//
// Environment variables always overlay values read from a file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	Backend  BackendConfig  `yaml:"backend"`
	Session  SessionConfig  `yaml:"session"`
	Redis    RedisConfig    `yaml:"redis"`
	HTTP     HTTPConfig     `yaml:"http"`
	Store    StoreConfig    `yaml:"store"`
	Download DownloadConfig `yaml:"download"`
	Log      LogConfig      `yaml:"log"`
}

// BackendConfig describes the GifFun API.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url" env:"GIFFUN_BASE_URL" env-default:"http://localhost:3000"`
	UserAgent      string        `yaml:"user_agent" env:"GIFFUN_USER_AGENT" env-default:"GifFun Android"`
	AppVersion     string        `yaml:"app_version" env:"GIFFUN_APP_VERSION" env-default:"1.0.0"`
	DeviceSerial   string        `yaml:"device_serial" env:"GIFFUN_DEVICE_SERIAL"`
	DeviceName     string        `yaml:"device_name" env:"GIFFUN_DEVICE_NAME" env-default:"giffun-cli"`
	Timeout        time.Duration `yaml:"timeout" env:"GIFFUN_TIMEOUT" env-default:"30s"`
	MaxRetries     int           `yaml:"max_retries" env:"GIFFUN_MAX_RETRIES" env-default:"3"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"GIFFUN_INITIAL_BACKOFF"`
	ThrottleDelay  time.Duration `yaml:"throttle_delay" env:"GIFFUN_THROTTLE_DELAY" env-default:"1s"`
}

// SessionConfig holds the logged-in user. Both fields empty means anonymous.
type SessionConfig struct {
	UserID int64  `yaml:"user_id" env:"GIFFUN_USER_ID"`
	Token  string `yaml:"token" env:"GIFFUN_TOKEN"`
}

// RedisConfig locates the shared cache and rate limit state.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// HTTPConfig is the proxy listener.
type HTTPConfig struct {
	Host            string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT" env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// StoreConfig locates the feed snapshot database. An empty path disables
// snapshots.
type StoreConfig struct {
	Path string `yaml:"path" env:"GIFFUN_STORE_PATH"`
}

// DownloadConfig tunes the downloader.
type DownloadConfig struct {
	Timeout    time.Duration `yaml:"timeout" env:"GIFFUN_DOWNLOAD_TIMEOUT" env-default:"10s"`
	BufferSize int           `yaml:"buffer_size" env:"GIFFUN_DOWNLOAD_BUFFER" env-default:"32768"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Pretty bool   `yaml:"pretty" env:"LOG_PRETTY" env-default:"false"`
}

// MustLoad panics if the configuration cannot be loaded.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads and validates the configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	if path != "" {
		return tryRead(path)
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values cleanenv cannot.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url %q is not an absolute url", c.Backend.BaseURL)
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend.max_retries must be >= 0 (got %d)", c.Backend.MaxRetries)
	}
	if (c.Session.UserID > 0) != (c.Session.Token != "") {
		return errors.New("session.user_id and session.token must be set together")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	return nil
}
