package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Sternrassler/giffun-client/internal/config"
	"github.com/Sternrassler/giffun-client/pkg/client"
	"github.com/Sternrassler/giffun-client/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "giffun",
	Short: "GifFun feed client and caching proxy",
	Long: `giffun talks to the GifFun backend through a Redis backed response
cache and a shared rate limit.

Configuration is read from --config, CONFIG_PATH, ./local.yaml or the
environment, in that order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		globalConfig = cfg

		logging.Setup(logging.Config{
			Level:  logging.LogLevel(cfg.Log.Level),
			Pretty: cfg.Log.Pretty,
			Output: os.Stderr,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
}

// connectRedis opens the shared Redis and checks it is reachable.
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	log.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")
	return rdb, nil
}

// newClient builds the backend client and logs in when a session is
// configured.
func newClient(cfg *config.Config, rdb *redis.Client) (*client.Client, error) {
	cc := client.DefaultConfig(rdb, cfg.Backend.BaseURL)
	cc.UserAgent = cfg.Backend.UserAgent
	cc.AppVersion = cfg.Backend.AppVersion
	cc.DeviceSerial = cfg.Backend.DeviceSerial
	cc.Timeout = cfg.Backend.Timeout
	cc.MaxRetries = cfg.Backend.MaxRetries
	cc.InitialBackoff = cfg.Backend.InitialBackoff
	cc.ThrottleDelay = cfg.Backend.ThrottleDelay

	c, err := client.New(cc)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	if cfg.Session.UserID > 0 {
		c.SetSession(client.Session{UserID: cfg.Session.UserID, Token: cfg.Session.Token})
	}
	return c, nil
}
