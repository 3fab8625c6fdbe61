package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration, loaded from config/config.yaml with
// TICKERBOARD_* environment overrides. Every field has a default so the
// binary runs without a config file.
type Config struct {
	Stream StreamConfig `mapstructure:"Stream"`
	Rest   RestConfig   `mapstructure:"Rest"`
	Batch  BatchConfig  `mapstructure:"Batch"`
	Server ServerConfig `mapstructure:"Server"`
}

// StreamConfig holds the real-time feed mirrors, tried round-robin on
// failure.
type StreamConfig struct {
	Mirrors []string
}

// RestConfig holds the snapshot/REST sources.
type RestConfig struct {
	// AggregatorURL is the first-party batch endpoint tried first by the
	// snapshot cascade; empty skips that step.
	AggregatorURL  string
	Domains        []string
	TimeoutSeconds int
}

// BatchConfig tunes the server-side batch aggregator. Tier presets:
// "edge" serves a small hot set with short caching, "wide" the whole
// market with long caching. Explicit values override the preset.
type BatchConfig struct {
	Tier         string
	TopN         int
	BatchSize    int
	FreshSeconds int
	StaleSeconds int
}

type ServerConfig struct {
	Addr string
}

func (r RestConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Load reads config/config.yaml if present and applies env overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("tickerboard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("Stream.Mirrors", []string{
		"wss://stream.binance.com:9443",
		"wss://stream.binance.com:443",
		"wss://data-stream.binance.vision",
	})
	v.SetDefault("Rest.AggregatorURL", "")
	v.SetDefault("Rest.Domains", []string{
		"https://api.binance.com",
		"https://api1.binance.com",
		"https://api2.binance.com",
		"https://api3.binance.com",
	})
	v.SetDefault("Rest.TimeoutSeconds", 8)
	v.SetDefault("Batch.Tier", "edge")
	v.SetDefault("Batch.BatchSize", 80)
	v.SetDefault("Server.Addr", "127.0.0.1:8880")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file: defaults plus env are enough.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Batch.applyTier()
	return &cfg, nil
}

func (b *BatchConfig) applyTier() {
	topN, fresh, stale := 80, 30, 60
	if strings.EqualFold(b.Tier, "wide") {
		topN, fresh, stale = 3000, 300, 600
	}
	if b.TopN == 0 {
		b.TopN = topN
	}
	if b.FreshSeconds == 0 {
		b.FreshSeconds = fresh
	}
	if b.StaleSeconds == 0 {
		b.StaleSeconds = stale
	}
}
