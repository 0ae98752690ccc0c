// Package config loads govsync configuration from a file, GOVSYNC_ environment
// variables and, when a database is configured, the settings table.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stake-plus/govsync/src/logging"
	"github.com/stake-plus/govsync/src/webclient"
)

// Config holds all configuration settings for the application
type Config struct {
	DataDir         string         `mapstructure:"data_dir"`
	MySQLDSN        string         `mapstructure:"mysql_dsn"`
	RedisURL        string         `mapstructure:"redis_url"`
	Log             logging.Config `mapstructure:"log"`
	Blockfrost      ProviderConfig `mapstructure:"blockfrost"`
	Koios           ProviderConfig `mapstructure:"koios"`
	MetadataService ProviderConfig `mapstructure:"metadata_service"`
	Anchors         AnchorConfig   `mapstructure:"anchors"`
	Builder         BuilderConfig  `mapstructure:"builder"`
	Gate            GateConfig     `mapstructure:"gate"`
	History         HistoryConfig  `mapstructure:"history"`
	Cache           CacheConfig    `mapstructure:"cache"`
	Sync            SyncConfig     `mapstructure:"sync"`
	API             APIConfig      `mapstructure:"api"`
	Discord         DiscordConfig  `mapstructure:"discord"`
}

// ProviderConfig holds the connection settings of one upstream API
type ProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	MinInterval   time.Duration `mapstructure:"min_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	Backoff       time.Duration `mapstructure:"backoff"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
	PageSize      int           `mapstructure:"page_size"`
	MaxPages      int           `mapstructure:"max_pages"`
}

// Options converts the provider settings into request client options.
func (p ProviderConfig) Options(name string) webclient.Options {
	return webclient.Options{
		Name:          name,
		BaseURL:       p.BaseURL,
		MinInterval:   p.MinInterval,
		Timeout:       p.Timeout,
		Retries:       p.Retries,
		Backoff:       p.Backoff,
		MaxConcurrent: p.MaxConcurrent,
	}
}

// AnchorConfig controls rationale anchor dereferencing
type AnchorConfig struct {
	Gateways      []string      `mapstructure:"gateways"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
	MaxText       int           `mapstructure:"max_text"`
}

// BuilderConfig bounds the snapshot builder pools
type BuilderConfig struct {
	ProposalWorkers int `mapstructure:"proposal_workers"`
	ActorWorkers    int `mapstructure:"actor_workers"`
	TxWorkers       int `mapstructure:"tx_workers"`
	MaxVotePages    int `mapstructure:"max_vote_pages"`
}

// GateConfig holds the promotion gate threshold
type GateConfig struct {
	MinCoverage float64 `mapstructure:"min_coverage"`
}

// HistoryConfig controls per-epoch cuts
type HistoryConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	StartEpoch int  `mapstructure:"start_epoch"`
}

// CacheConfig tunes the persistent caches
type CacheConfig struct {
	FlushEvery        int           `mapstructure:"flush_every"`
	PoolMaxAge        time.Duration `mapstructure:"pool_max_age"`
	PoolQueueCapacity int           `mapstructure:"pool_queue_capacity"`
	PoolPerTick       int           `mapstructure:"pool_per_tick"`
	PoolTick          time.Duration `mapstructure:"pool_tick"`
}

// SyncConfig holds scheduling of the orchestrator
type SyncConfig struct {
	Schedule string        `mapstructure:"schedule"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	OnStart  bool          `mapstructure:"on_start"`
}

// APIConfig holds the control surface settings
type APIConfig struct {
	Listen      string   `mapstructure:"listen"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// DiscordConfig holds operator notification settings
type DiscordConfig struct {
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// Load reads the configuration file and environment variables. An empty
// path relies on defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default configuration values
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Override with environment variables
	v.SetEnvPrefix("GOVSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("mysql_dsn", "")
	v.SetDefault("redis_url", "")

	def := logging.DefaultConfig()
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.output_path", def.OutputPath)
	v.SetDefault("log.max_size", def.MaxSize)
	v.SetDefault("log.max_age", def.MaxAge)
	v.SetDefault("log.max_backups", def.MaxBackups)
	v.SetDefault("log.compress", def.Compress)
	v.SetDefault("log.console", def.Console)
	v.SetDefault("log.debug", false)

	v.SetDefault("blockfrost.base_url", "https://cardano-mainnet.blockfrost.io/api/v0")
	v.SetDefault("blockfrost.api_key", "")
	v.SetDefault("blockfrost.min_interval", "100ms")
	v.SetDefault("blockfrost.timeout", "30s")
	v.SetDefault("blockfrost.retries", 3)
	v.SetDefault("blockfrost.backoff", "2s")
	v.SetDefault("blockfrost.max_concurrent", 8)
	v.SetDefault("blockfrost.page_size", 100)
	v.SetDefault("blockfrost.max_pages", 200)

	v.SetDefault("koios.base_url", "https://api.koios.rest/api/v1")
	v.SetDefault("koios.api_key", "")
	v.SetDefault("koios.min_interval", "200ms")
	v.SetDefault("koios.timeout", "45s")
	v.SetDefault("koios.retries", 3)
	v.SetDefault("koios.backoff", "2s")
	v.SetDefault("koios.max_concurrent", 4)
	v.SetDefault("koios.page_size", 500)
	v.SetDefault("koios.max_pages", 100)

	v.SetDefault("metadata_service.base_url", "")
	v.SetDefault("metadata_service.api_key", "")
	v.SetDefault("metadata_service.min_interval", "250ms")
	v.SetDefault("metadata_service.timeout", "30s")
	v.SetDefault("metadata_service.retries", 2)
	v.SetDefault("metadata_service.backoff", "2s")
	v.SetDefault("metadata_service.max_concurrent", 2)

	v.SetDefault("anchors.gateways", []string{"https://ipfs.io/ipfs/", "https://cloudflare-ipfs.com/ipfs/", "https://dweb.link/ipfs/"})
	v.SetDefault("anchors.timeout", "15s")
	v.SetDefault("anchors.max_concurrent", 8)
	v.SetDefault("anchors.max_text", 4000)

	v.SetDefault("builder.proposal_workers", 4)
	v.SetDefault("builder.actor_workers", 6)
	v.SetDefault("builder.tx_workers", 8)
	v.SetDefault("builder.max_vote_pages", 0)

	v.SetDefault("gate.min_coverage", 0.9)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.start_epoch", 507)

	v.SetDefault("cache.flush_every", 50)
	v.SetDefault("cache.pool_max_age", "24h")
	v.SetDefault("cache.pool_queue_capacity", 256)
	v.SetDefault("cache.pool_per_tick", 10)
	v.SetDefault("cache.pool_tick", "30s")

	v.SetDefault("sync.schedule", "@every 15m")
	v.SetDefault("sync.lock_ttl", "30m")
	v.SetDefault("sync.on_start", true)

	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.jwt_secret", "")
	v.SetDefault("api.cors_origins", []string{"*"})

	v.SetDefault("discord.token", "")
	v.SetDefault("discord.channel_id", "")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if err := c.validateProviders(); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}
	if c.Gate.MinCoverage < 0 || c.Gate.MinCoverage >= 1 {
		return fmt.Errorf("gate.min_coverage must be in [0,1): %v", c.Gate.MinCoverage)
	}
	if c.Builder.ProposalWorkers <= 0 || c.Builder.ActorWorkers <= 0 || c.Builder.TxWorkers <= 0 {
		return fmt.Errorf("builder worker counts must be positive")
	}
	if c.History.StartEpoch < 0 {
		return fmt.Errorf("history.start_epoch cannot be negative")
	}
	if (c.Discord.Token == "") != (c.Discord.ChannelID == "") {
		return fmt.Errorf("discord.token and discord.channel_id must be set together")
	}
	return nil
}

func (c *Config) validateProviders() error {
	if c.Blockfrost.BaseURL == "" {
		return fmt.Errorf("blockfrost.base_url cannot be empty")
	}
	for name, p := range map[string]ProviderConfig{"blockfrost": c.Blockfrost, "koios": c.Koios, "metadata_service": c.MetadataService} {
		if p.Retries < 0 {
			return fmt.Errorf("%s.retries cannot be negative", name)
		}
		if p.Timeout < 0 || p.MinInterval < 0 {
			return fmt.Errorf("%s durations cannot be negative", name)
		}
	}
	return nil
}
