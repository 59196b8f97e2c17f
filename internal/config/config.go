// Package config loads the scheduler daemon's configuration once, at
// startup, via viper — file + environment overlay, the way a fleet of
// non-trivial services typically does it, so operators get a config file
// for the stable bits and env overrides for per-deployment ones without
// this package (or the scheduler package it feeds) ever touching
// os.Getenv directly.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config is the entire configuration surface cmd/aischedd reads before
// constructing a scheduler.Scheduler and its ambient-stack collaborators.
type Config struct {
	ThreadsPerQueue int    `mapstructure:"threads_per_queue"`
	DisableBatching bool   `mapstructure:"disable_batching"`
	HistoryDBPath   string `mapstructure:"history_db_path"`
	OTLPEndpoint    string `mapstructure:"otlp_endpoint"`
	NATSURL         string `mapstructure:"nats_url"`
	HTTPAddr        string `mapstructure:"http_addr"`
	StatsInterval   string `mapstructure:"stats_interval_cron"`
}

// Load reads configFile (if non-empty and present) and overlays
// AISCHED_-prefixed environment variables, then returns the resolved
// Config. Missing config file is not an error — env vars and defaults
// still apply.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetDefault("threads_per_queue", 2)
	v.SetDefault("disable_batching", false)
	v.SetDefault("history_db_path", "aisched-history.db")
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("stats_interval_cron", "@every 30s")

	v.SetEnvPrefix("AISCHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config: reading %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
