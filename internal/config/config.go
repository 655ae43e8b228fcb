// Package config loads application configuration from YAML files and
// MYCELIUM_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Bus       BusConfig       `mapstructure:"bus"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Swarm     SwarmConfig     `mapstructure:"swarm"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Builder   BuilderConfig   `mapstructure:"builder"`
	Producers ProducersConfig `mapstructure:"producers"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// BusConfig contains message broker settings.
type BusConfig struct {
	URL            string        `mapstructure:"url"`
	Prefix         string        `mapstructure:"prefix"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

// RedisConfig contains shared-state store settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// DatabaseConfig contains PostgreSQL settings for durable storage.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ExchangeConfig contains exchange connector settings. Credentials come from
// the environment (MYCELIUM_EXCHANGE_API_KEY / _API_SECRET), never from files.
type ExchangeConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	APISecret   string  `mapstructure:"api_secret"`
	GithubToken string  `mapstructure:"github_token"`
	FeePct      float64 `mapstructure:"fee_pct"`      // per-side fee, percent
	SlippagePct float64 `mapstructure:"slippage_pct"` // per-side slippage, percent
}

// TradingConfig contains trade-synthesis settings.
type TradingConfig struct {
	Pairs           []string      `mapstructure:"pairs"`
	OrderAmount     float64       `mapstructure:"order_amount"`
	CollisionWindow time.Duration `mapstructure:"collision_window"`
	SignalCooldown  time.Duration `mapstructure:"signal_cooldown"`
}

// RiskConfig contains circuit-breaker settings.
type RiskConfig struct {
	InitialPortfolioValue float64 `mapstructure:"initial_portfolio_value"`
	MaxDrawdown           float64 `mapstructure:"max_drawdown"` // fraction, e.g. 0.05
}

// SwarmConfig contains pattern-learner and P&L lifecycle settings.
type SwarmConfig struct {
	LearnersPerAsset          int           `mapstructure:"learners_per_asset"`
	PatternHistoryWindow      int           `mapstructure:"pattern_history_window"`
	ProbationTier1Pct         float64       `mapstructure:"probation_tier1_pct"` // e.g. -5.0
	ProbationTier2Pct         float64       `mapstructure:"probation_tier2_pct"` // e.g. -10.0
	HibernationPct            float64       `mapstructure:"hibernation_pct"`     // e.g. -15.0
	HibernationAfter          time.Duration `mapstructure:"hibernation_after"`   // e.g. 2160h (90d)
	PolicyContagionThreshold  float64       `mapstructure:"policy_contagion_threshold"`
	PolicyContagionShareBound float64       `mapstructure:"policy_contagion_share_bound"`
}

// ArchiveConfig contains pattern-archival settings.
type ArchiveConfig struct {
	IntervalTicks  uint64  `mapstructure:"interval_ticks"`
	ValueThreshold float64 `mapstructure:"value_threshold"`
}

// BuilderConfig contains prospecting and deployment settings.
type BuilderConfig struct {
	MaxActiveAssets    int           `mapstructure:"max_active_assets"`
	DeploymentCooldown time.Duration `mapstructure:"deployment_cooldown"`
	ScanIntervalTicks  uint64        `mapstructure:"scan_interval_ticks"`
	TemplatePath       string        `mapstructure:"template_path"`
}

// ProducersConfig contains data-producer settings.
type ProducersConfig struct {
	FetchInterval time.Duration `mapstructure:"fetch_interval"`
	Period        int           `mapstructure:"period"` // indicator period for market enrichment
}

// Load reads configuration from the given file (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MYCELIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are statically known, unmarshal cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mycelium")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")
	v.SetDefault("app.metrics_addr", ":9091")

	v.SetDefault("bus.url", "nats://localhost:4222")
	v.SetDefault("bus.prefix", "mycelium.")
	v.SetDefault("bus.initial_backoff", "1s")
	v.SetDefault("bus.max_backoff", "60s")
	v.SetDefault("bus.ping_interval", "30s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "mycelium:")

	v.SetDefault("database.url", "")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("exchange.fee_pct", 0.26)
	v.SetDefault("exchange.slippage_pct", 0.10)

	v.SetDefault("trading.pairs", []string{"XXBTZUSD"})
	v.SetDefault("trading.order_amount", 0.001)
	v.SetDefault("trading.collision_window", "5s")
	v.SetDefault("trading.signal_cooldown", "10s")

	v.SetDefault("risk.initial_portfolio_value", 10000.0)
	v.SetDefault("risk.max_drawdown", 0.05)

	v.SetDefault("swarm.learners_per_asset", 15)
	v.SetDefault("swarm.pattern_history_window", 100)
	v.SetDefault("swarm.probation_tier1_pct", -5.0)
	v.SetDefault("swarm.probation_tier2_pct", -10.0)
	v.SetDefault("swarm.hibernation_pct", -15.0)
	v.SetDefault("swarm.hibernation_after", "2160h")
	v.SetDefault("swarm.policy_contagion_threshold", 0.80)
	v.SetDefault("swarm.policy_contagion_share_bound", 0.50)

	v.SetDefault("archive.interval_ticks", 300)
	v.SetDefault("archive.value_threshold", 40.0)

	v.SetDefault("builder.max_active_assets", 15)
	v.SetDefault("builder.deployment_cooldown", "3600s")
	v.SetDefault("builder.scan_interval_ticks", 60)
	v.SetDefault("builder.template_path", "")

	v.SetDefault("producers.fetch_interval", "60s")
	v.SetDefault("producers.period", 14)
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return fmt.Errorf("risk.max_drawdown must be in (0, 1), got %v", c.Risk.MaxDrawdown)
	}
	if c.Trading.CollisionWindow <= 0 {
		return fmt.Errorf("trading.collision_window must be positive")
	}
	if c.Swarm.ProbationTier2Pct >= c.Swarm.ProbationTier1Pct {
		return fmt.Errorf("swarm probation tiers must satisfy tier2 < tier1 (%v >= %v)",
			c.Swarm.ProbationTier2Pct, c.Swarm.ProbationTier1Pct)
	}
	if c.Builder.MaxActiveAssets <= 0 {
		return fmt.Errorf("builder.max_active_assets must be positive")
	}
	if c.Producers.Period < 2 {
		return fmt.Errorf("producers.period must be at least 2, got %d", c.Producers.Period)
	}
	return nil
}

// RoundTripCostPct returns the total percentage cost of an open+close pair.
func (c *Config) RoundTripCostPct() float64 {
	return 2 * (c.Exchange.FeePct + c.Exchange.SlippagePct)
}
