// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/riskflow/internal/alerting"
	"github.com/tathienbao/riskflow/internal/broker/paper"
	"github.com/tathienbao/riskflow/internal/broker/rest"
	"github.com/tathienbao/riskflow/internal/engine"
	"github.com/tathienbao/riskflow/internal/metrics"
	"github.com/tathienbao/riskflow/internal/risk"
	"github.com/tathienbao/riskflow/internal/strategy"
	"github.com/tathienbao/riskflow/internal/types"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendSimulation = "simulation"
	BackendRemote     = "remote"
)

// Simulation strategy kinds.
const (
	StrategyCrossover = "crossover"
	StrategyMeanRev   = "meanrev"
)

// Audit store names.
const (
	StoreNone     = "none"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Environment variables that override the YAML file.
const (
	EnvOrderTTL                    = "ORDER_TTL_MS"
	EnvLifecycleCheckInterval      = "ORDER_LIFECYCLE_CHECK_INTERVAL_MS"
	EnvLifecycleCheckIntervalAlias = "ORDER_CHECK_INTERVAL_MS"
	EnvLifecycleEnabled            = "ORDER_LIFECYCLE_ENABLED"
)

// Config represents the full application configuration.
type Config struct {
	Risk      RiskConfig      `yaml:"risk"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
	Backend   BackendConfig   `yaml:"backend"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Audit     AuditConfig     `yaml:"audit"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Profiling ProfilingConfig `yaml:"profiling"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
}

// RiskConfig holds risk limits and reservation settings.
type RiskConfig struct {
	RuleOrder              []string           `yaml:"rule_order"`
	DailyLossLimit         float64            `yaml:"daily_loss_limit"`
	MaxPosition            float64            `yaml:"max_position"`
	MaxPositionBySymbol    map[string]float64 `yaml:"max_position_by_symbol"`
	MaxOpenOrdersPerSymbol int                `yaml:"max_open_orders_per_symbol"`
	MaxOpenOrdersGlobal    int                `yaml:"max_open_orders_global"`
	MinOrderQuantity       float64            `yaml:"min_order_quantity"`
	MaxOrderQuantity       float64            `yaml:"max_order_quantity"`
	MaxNotional            float64            `yaml:"max_notional"`
	AllowedSymbols         []string           `yaml:"allowed_symbols"`
	CooldownMs             int                `yaml:"cooldown_ms"`
	OrderTTLMs             int                `yaml:"order_ttl_ms"`
	SettledRetentionSec    int                `yaml:"settled_retention_sec"`
}

// LifecycleConfig holds TTL sweeper settings.
type LifecycleConfig struct {
	Enabled         bool `yaml:"enabled"`
	CheckIntervalMs int  `yaml:"check_interval_ms"`
	ResyncOnTimeout bool `yaml:"resync_on_timeout"`
}

// ConsumerConfig holds market event consumer settings.
type ConsumerConfig struct {
	Shards      int    `yaml:"shards"`
	ShardBuffer int    `yaml:"shard_buffer"`
	BackoffMs   int    `yaml:"backoff_ms"`
	ReplayPath  string `yaml:"replay_path"`
	Symbol      string `yaml:"symbol"`
	ReplayPace  int    `yaml:"replay_pace_ms"`
}

// BackendConfig selects the adapters behind the strategy and exchange ports.
type BackendConfig struct {
	Strategy string `yaml:"strategy"` // simulation | remote
	Exchange string `yaml:"exchange"` // simulation | remote
}

// ExchangeConfig holds settings for both exchange adapters.
type ExchangeConfig struct {
	Paper PaperConfig `yaml:"paper"`
	REST  RESTConfig  `yaml:"rest"`
}

// PaperConfig holds simulated exchange settings.
type PaperConfig struct {
	Mode            string             `yaml:"mode"` // sync | async | none
	FillDelayMs     int                `yaml:"fill_delay_ms"`
	FillSlices      int                `yaml:"fill_slices"`
	SlippageBps     float64            `yaml:"slippage_bps"`
	FeeRate         float64            `yaml:"fee_rate"`
	QuoteAsset      string             `yaml:"quote_asset"`
	InitialBalances map[string]float64 `yaml:"initial_balances"`
}

// RESTConfig holds remote exchange settings.
type RESTConfig struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	RequestTimeoutMs   int    `yaml:"request_timeout_ms"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
	FillPollIntervalMs int    `yaml:"fill_poll_interval_ms"`
}

// StrategyConfig holds settings for both strategy adapters.
type StrategyConfig struct {
	Kind      string          `yaml:"kind"` // crossover | meanrev, for the simulation backend
	Crossover CrossoverConfig `yaml:"crossover"`
	MeanRev   MeanRevConfig   `yaml:"meanrev"`
	Remote    RemoteConfig    `yaml:"remote"`
}

// MeanRevConfig holds mean reversion band settings.
type MeanRevConfig struct {
	Period        int     `yaml:"period"`
	EntryStdDev   float64 `yaml:"entry_stddev"`
	MinStdDev     float64 `yaml:"min_stddev"`
	Quantity      float64 `yaml:"quantity"`
	UseLimitPrice bool    `yaml:"use_limit_price"`
}

// CrossoverConfig holds moving average crossover settings.
type CrossoverConfig struct {
	FastPeriod    int     `yaml:"fast_period"`
	SlowPeriod    int     `yaml:"slow_period"`
	Quantity      float64 `yaml:"quantity"`
	UseLimitPrice bool    `yaml:"use_limit_price"`
}

// RemoteConfig holds remote strategy settings.
type RemoteConfig struct {
	URL                string `yaml:"url"`
	APIKey             string `yaml:"api_key"`
	TimeoutMs          int    `yaml:"timeout_ms"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Store string `yaml:"store"` // none | sqlite | postgres
	Path  string `yaml:"path"`  // for sqlite
	DSN   string `yaml:"dsn"`   // for postgres
	Log   bool   `yaml:"log"`
}

// AlertingConfig holds operator notification settings.
type AlertingConfig struct {
	Enabled     bool           `yaml:"enabled"`
	MinSeverity string         `yaml:"min_severity"` // info | warning | high | critical
	Console     bool           `yaml:"console"`
	Telegram    TelegramConfig `yaml:"telegram"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"bot_token"`
	ChatID    string `yaml:"chat_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
	APIBase   string `yaml:"api_base"`
}

// RuntimeConfig holds startup and housekeeping settings.
type RuntimeConfig struct {
	RebuildOnStart           bool `yaml:"rebuild_on_start"`
	RebuildTimeoutSec        int  `yaml:"rebuild_timeout_sec"`
	RebuildRetryBackoffMs    int  `yaml:"rebuild_retry_backoff_ms"`
	RebuildRetryMaxBackoffMs int  `yaml:"rebuild_retry_max_backoff_ms"`
	DailyReset               bool `yaml:"daily_reset"`
	CheckpointIntervalSec    int  `yaml:"checkpoint_interval_sec"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ProfilingConfig holds continuous profiling settings.
type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"server_address"`
	AppName       string `yaml:"app_name"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() Config {
	riskCfg := risk.DefaultConfig()
	coordCfg := risk.DefaultCoordinatorConfig()
	lifecycle := engine.DefaultLifecycleConfig()
	consumer := engine.DefaultConsumerConfig()
	runtime := engine.DefaultRuntimeConfig()
	paperCfg := paper.DefaultConfig()
	restCfg := rest.DefaultConfig()
	crossover := strategy.DefaultCrossoverConfig()
	meanrev := strategy.DefaultMeanRevConfig()
	remote := strategy.DefaultRemoteConfig()
	server := metrics.DefaultServerConfig()

	balances := make(map[string]float64, len(paperCfg.InitialBalances))
	for asset, amt := range paperCfg.InitialBalances {
		balances[asset] = amt.InexactFloat64()
	}

	return Config{
		Risk: RiskConfig{
			RuleOrder:              append([]string(nil), riskCfg.RuleOrder...),
			DailyLossLimit:         riskCfg.DailyLossLimit.InexactFloat64(),
			MaxPosition:            riskCfg.MaxPosition.InexactFloat64(),
			MaxOpenOrdersPerSymbol: riskCfg.MaxOpenOrdersPerSymbol,
			MaxOpenOrdersGlobal:    riskCfg.MaxOpenOrdersGlobal,
			MinOrderQuantity:       riskCfg.MinOrderQuantity.InexactFloat64(),
			MaxOrderQuantity:       riskCfg.MaxOrderQuantity.InexactFloat64(),
			OrderTTLMs:             int(coordCfg.DefaultTTL / time.Millisecond),
			SettledRetentionSec:    int(coordCfg.SettledRetention / time.Second),
		},
		Lifecycle: LifecycleConfig{
			Enabled:         lifecycle.Enabled,
			CheckIntervalMs: int(lifecycle.CheckInterval / time.Millisecond),
			ResyncOnTimeout: lifecycle.ResyncOnTimeout,
		},
		Consumer: ConsumerConfig{
			Shards:      consumer.Shards,
			ShardBuffer: consumer.ShardBuffer,
			BackoffMs:   int(consumer.Backoff / time.Millisecond),
			Symbol:      "BTCUSDT",
		},
		Backend: BackendConfig{
			Strategy: BackendSimulation,
			Exchange: BackendSimulation,
		},
		Exchange: ExchangeConfig{
			Paper: PaperConfig{
				Mode:            string(paperCfg.Mode),
				FillDelayMs:     int(paperCfg.FillDelay / time.Millisecond),
				FillSlices:      paperCfg.FillSlices,
				SlippageBps:     paperCfg.SlippageBps.InexactFloat64(),
				FeeRate:         paperCfg.FeeRate.InexactFloat64(),
				QuoteAsset:      paperCfg.QuoteAsset,
				InitialBalances: balances,
			},
			REST: RESTConfig{
				BaseURL:            restCfg.BaseURL,
				RequestTimeoutMs:   int(restCfg.RequestTimeout / time.Millisecond),
				RateLimitPerSecond: restCfg.MaxRequestsPerSecond,
				FillPollIntervalMs: int(restCfg.FillPollInterval / time.Millisecond),
			},
		},
		Strategy: StrategyConfig{
			Kind: StrategyCrossover,
			Crossover: CrossoverConfig{
				FastPeriod:    crossover.FastPeriod,
				SlowPeriod:    crossover.SlowPeriod,
				Quantity:      crossover.Quantity.InexactFloat64(),
				UseLimitPrice: crossover.UseLimitPrice,
			},
			MeanRev: MeanRevConfig{
				Period:        meanrev.Period,
				EntryStdDev:   meanrev.EntryStdDev.InexactFloat64(),
				MinStdDev:     meanrev.MinStdDev.InexactFloat64(),
				Quantity:      meanrev.Quantity.InexactFloat64(),
				UseLimitPrice: meanrev.UseLimitPrice,
			},
			Remote: RemoteConfig{
				URL:                remote.URL,
				TimeoutMs:          int(remote.Timeout / time.Millisecond),
				RateLimitPerSecond: remote.MaxRequestsPerSecond,
			},
		},
		Audit: AuditConfig{
			Store: StoreNone,
			Log:   true,
		},
		Alerting: AlertingConfig{
			MinSeverity: "warning",
			Console:     true,
			Telegram: TelegramConfig{
				TimeoutMs: 10000,
			},
		},
		Runtime: RuntimeConfig{
			RebuildOnStart:           runtime.RebuildOnStart,
			RebuildTimeoutSec:        int(runtime.RebuildTimeout / time.Second),
			RebuildRetryBackoffMs:    int(runtime.RebuildRetryBackoff / time.Millisecond),
			RebuildRetryMaxBackoffMs: int(runtime.RebuildRetryMaxBackoff / time.Millisecond),
			DailyReset:               runtime.DailyReset,
			CheckpointIntervalSec:    int(runtime.CheckpointInterval / time.Second),
		},
		Metrics: MetricsConfig{
			Port: server.Port,
			Path: server.MetricsPath,
		},
		Profiling: ProfilingConfig{
			ServerAddress: "http://localhost:4040",
			AppName:       "riskflow",
		},
		Shutdown: ShutdownConfig{
			TimeoutSec: int(runtime.ShutdownTimeout / time.Second),
		},
	}
}

// Load loads configuration from a YAML file, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes, then applies
// environment overrides.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overrides order TTL and lifecycle settings from the ORDER_*
// variables. The check interval alias is read only when the primary name
// is unset.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []string

	if v, ok := lookup(EnvOrderTTL); ok {
		ms, err := parseMillis(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", EnvOrderTTL, err))
		} else {
			c.Risk.OrderTTLMs = ms
		}
	}

	name := EnvLifecycleCheckInterval
	v, ok := lookup(name)
	if !ok {
		name = EnvLifecycleCheckIntervalAlias
		v, ok = lookup(name)
	}
	if ok {
		ms, err := parseMillis(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		} else {
			c.Lifecycle.CheckIntervalMs = ms
		}
	}

	if v, ok := lookup(EnvLifecycleEnabled); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			c.Lifecycle.Enabled = true
		default:
			c.Lifecycle.Enabled = false
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func parseMillis(v string) (int, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", v)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", ms)
	}
	return ms, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Risk validation
	if _, err := risk.BuildRules(c.ToRiskEngineConfig()); err != nil {
		errs = append(errs, fmt.Sprintf("risk: %v", strings.TrimPrefix(err.Error(), types.ErrInvalidConfig.Error()+": ")))
	}
	if c.Risk.OrderTTLMs <= 0 {
		errs = append(errs, "risk.order_ttl_ms must be positive")
	}
	for symbol, limit := range c.Risk.MaxPositionBySymbol {
		if limit <= 0 {
			errs = append(errs, fmt.Sprintf("risk.max_position_by_symbol[%s] must be positive", symbol))
		}
	}

	// Lifecycle validation
	if c.Lifecycle.Enabled && c.Lifecycle.CheckIntervalMs <= 0 {
		errs = append(errs, "lifecycle.check_interval_ms must be positive")
	}

	// Consumer validation
	if c.Consumer.Shards < 1 {
		errs = append(errs, "consumer.shards must be at least 1")
	}
	if c.Consumer.BackoffMs <= 0 {
		errs = append(errs, "consumer.backoff_ms must be positive")
	}

	// Backend validation
	switch c.Backend.Strategy {
	case BackendSimulation:
		switch c.Strategy.Kind {
		case StrategyCrossover:
			cc := c.ToCrossoverConfig()
			if err := cc.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("strategy.crossover: %v", err))
			}
		case StrategyMeanRev:
			mc := c.ToMeanRevConfig()
			if err := mc.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("strategy.meanrev: %v", err))
			}
		default:
			errs = append(errs, fmt.Sprintf("strategy.kind must be %q or %q", StrategyCrossover, StrategyMeanRev))
		}
	case BackendRemote:
		if c.Strategy.Remote.URL == "" {
			errs = append(errs, "strategy.remote.url is required for the remote strategy backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend.strategy must be %q or %q", BackendSimulation, BackendRemote))
	}

	switch c.Backend.Exchange {
	case BackendSimulation:
		switch paper.AckMode(c.Exchange.Paper.Mode) {
		case paper.AckSync, paper.AckAsync, paper.AckNone:
		default:
			errs = append(errs, "exchange.paper.mode must be sync, async or none")
		}
	case BackendRemote:
		if c.Exchange.REST.BaseURL == "" {
			errs = append(errs, "exchange.rest.base_url is required for the remote exchange backend")
		}
		if c.Exchange.REST.RateLimitPerSecond <= 0 {
			errs = append(errs, "exchange.rest.rate_limit_per_second must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend.exchange must be %q or %q", BackendSimulation, BackendRemote))
	}

	// Audit validation
	switch c.Audit.Store {
	case StoreNone, "":
	case StoreSQLite:
		if c.Audit.Path == "" {
			errs = append(errs, "audit.path is required for sqlite")
		}
	case StorePostgres:
		if c.Audit.DSN == "" {
			errs = append(errs, "audit.dsn is required for postgres")
		}
	default:
		errs = append(errs, "audit.store must be 'none', 'sqlite' or 'postgres'")
	}

	if c.Runtime.RebuildRetryBackoffMs <= 0 {
		errs = append(errs, "runtime.rebuild_retry_backoff_ms must be positive")
	} else if c.Runtime.RebuildRetryMaxBackoffMs < c.Runtime.RebuildRetryBackoffMs {
		errs = append(errs, "runtime.rebuild_retry_max_backoff_ms must not be below rebuild_retry_backoff_ms")
	}

	// Alerting validation
	if c.Alerting.Enabled {
		if _, err := alerting.ParseSeverity(c.Alerting.MinSeverity); err != nil {
			errs = append(errs, fmt.Sprintf("alerting.min_severity: %v", err))
		}
		if t := c.Alerting.Telegram; t.Enabled && (t.BotToken == "" || t.ChatID == "") {
			errs = append(errs, "alerting.telegram.bot_token and chat_id are required when telegram is enabled")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		errs = append(errs, "profiling.server_address is required when profiling is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToRiskEngineConfig converts to risk.Config.
func (c *Config) ToRiskEngineConfig() risk.Config {
	var bySymbol map[string]decimal.Decimal
	if len(c.Risk.MaxPositionBySymbol) > 0 {
		bySymbol = make(map[string]decimal.Decimal, len(c.Risk.MaxPositionBySymbol))
		for symbol, limit := range c.Risk.MaxPositionBySymbol {
			bySymbol[strings.ToUpper(symbol)] = decimal.NewFromFloat(limit)
		}
	}

	return risk.Config{
		RuleOrder:              append([]string(nil), c.Risk.RuleOrder...),
		DailyLossLimit:         decimal.NewFromFloat(c.Risk.DailyLossLimit),
		MaxPosition:            decimal.NewFromFloat(c.Risk.MaxPosition),
		MaxPositionBySymbol:    bySymbol,
		MaxOpenOrdersPerSymbol: c.Risk.MaxOpenOrdersPerSymbol,
		MaxOpenOrdersGlobal:    c.Risk.MaxOpenOrdersGlobal,
		MinOrderQuantity:       decimal.NewFromFloat(c.Risk.MinOrderQuantity),
		MaxOrderQuantity:       decimal.NewFromFloat(c.Risk.MaxOrderQuantity),
		MaxNotional:            decimal.NewFromFloat(c.Risk.MaxNotional),
		AllowedSymbols:         c.Risk.AllowedSymbols,
		Cooldown:               time.Duration(c.Risk.CooldownMs) * time.Millisecond,
	}
}

// ToCoordinatorConfig converts to risk.CoordinatorConfig.
func (c *Config) ToCoordinatorConfig() risk.CoordinatorConfig {
	return risk.CoordinatorConfig{
		DefaultTTL:       c.OrderTTL(),
		SettledRetention: time.Duration(c.Risk.SettledRetentionSec) * time.Second,
	}
}

// ToLifecycleConfig converts to engine.LifecycleConfig.
func (c *Config) ToLifecycleConfig() engine.LifecycleConfig {
	return engine.LifecycleConfig{
		Enabled:         c.Lifecycle.Enabled,
		CheckInterval:   c.LifecycleCheckInterval(),
		ResyncOnTimeout: c.Lifecycle.ResyncOnTimeout,
	}
}

// ToConsumerConfig converts to engine.ConsumerConfig.
func (c *Config) ToConsumerConfig() engine.ConsumerConfig {
	return engine.ConsumerConfig{
		Backoff:     time.Duration(c.Consumer.BackoffMs) * time.Millisecond,
		Shards:      c.Consumer.Shards,
		ShardBuffer: c.Consumer.ShardBuffer,
	}
}

// ToRuntimeConfig converts to engine.RuntimeConfig.
func (c *Config) ToRuntimeConfig() engine.RuntimeConfig {
	return engine.RuntimeConfig{
		RebuildOnStart:         c.Runtime.RebuildOnStart,
		RebuildTimeout:         time.Duration(c.Runtime.RebuildTimeoutSec) * time.Second,
		RebuildRetryBackoff:    time.Duration(c.Runtime.RebuildRetryBackoffMs) * time.Millisecond,
		RebuildRetryMaxBackoff: time.Duration(c.Runtime.RebuildRetryMaxBackoffMs) * time.Millisecond,
		DailyReset:             c.Runtime.DailyReset,
		CheckpointInterval:     time.Duration(c.Runtime.CheckpointIntervalSec) * time.Second,
		ShutdownTimeout:        c.ShutdownTimeout(),
	}
}

// ToPaperConfig converts to paper.Config.
func (c *Config) ToPaperConfig() paper.Config {
	p := c.Exchange.Paper
	balances := make(map[string]decimal.Decimal, len(p.InitialBalances))
	for asset, amt := range p.InitialBalances {
		balances[strings.ToUpper(asset)] = decimal.NewFromFloat(amt)
	}

	cfg := paper.DefaultConfig()
	cfg.Mode = paper.AckMode(p.Mode)
	cfg.FillDelay = time.Duration(p.FillDelayMs) * time.Millisecond
	cfg.FillSlices = p.FillSlices
	cfg.SlippageBps = decimal.NewFromFloat(p.SlippageBps)
	cfg.FeeRate = decimal.NewFromFloat(p.FeeRate)
	cfg.QuoteAsset = p.QuoteAsset
	cfg.InitialBalances = balances
	return cfg
}

// ToRESTConfig converts to rest.Config.
func (c *Config) ToRESTConfig() rest.Config {
	r := c.Exchange.REST
	cfg := rest.DefaultConfig()
	cfg.BaseURL = r.BaseURL
	cfg.APIKey = r.APIKey
	cfg.RequestTimeout = time.Duration(r.RequestTimeoutMs) * time.Millisecond
	cfg.MaxRequestsPerSecond = r.RateLimitPerSecond
	cfg.FillPollInterval = time.Duration(r.FillPollIntervalMs) * time.Millisecond
	return cfg
}

// ToCrossoverConfig converts to strategy.CrossoverConfig.
func (c *Config) ToCrossoverConfig() strategy.CrossoverConfig {
	x := c.Strategy.Crossover
	return strategy.CrossoverConfig{
		FastPeriod:    x.FastPeriod,
		SlowPeriod:    x.SlowPeriod,
		Quantity:      decimal.NewFromFloat(x.Quantity),
		UseLimitPrice: x.UseLimitPrice,
	}
}

// ToMeanRevConfig converts to strategy.MeanRevConfig.
func (c *Config) ToMeanRevConfig() strategy.MeanRevConfig {
	m := c.Strategy.MeanRev
	return strategy.MeanRevConfig{
		Period:        m.Period,
		EntryStdDev:   decimal.NewFromFloat(m.EntryStdDev),
		MinStdDev:     decimal.NewFromFloat(m.MinStdDev),
		Quantity:      decimal.NewFromFloat(m.Quantity),
		UseLimitPrice: m.UseLimitPrice,
	}
}

// ToRemoteConfig converts to strategy.RemoteConfig.
func (c *Config) ToRemoteConfig() strategy.RemoteConfig {
	r := c.Strategy.Remote
	return strategy.RemoteConfig{
		URL:                  r.URL,
		APIKey:               r.APIKey,
		Timeout:              time.Duration(r.TimeoutMs) * time.Millisecond,
		MaxRequestsPerSecond: r.RateLimitPerSecond,
	}
}

// ToTelegramConfig converts to alerting.TelegramConfig.
func (c *Config) ToTelegramConfig() alerting.TelegramConfig {
	t := c.Alerting.Telegram
	return alerting.TelegramConfig{
		BotToken: t.BotToken,
		ChatID:   t.ChatID,
		Timeout:  time.Duration(t.TimeoutMs) * time.Millisecond,
		APIBase:  t.APIBase,
	}
}

// AlertMinSeverity returns the configured alert threshold. Validate has
// already rejected unknown names.
func (c *Config) AlertMinSeverity() alerting.Severity {
	sev, _ := alerting.ParseSeverity(c.Alerting.MinSeverity)
	return sev
}

// ToServerConfig converts to metrics.ServerConfig.
func (c *Config) ToServerConfig() metrics.ServerConfig {
	cfg := metrics.DefaultServerConfig()
	cfg.Port = c.Metrics.Port
	if c.Metrics.Path != "" {
		cfg.MetricsPath = c.Metrics.Path
	}
	return cfg
}

// OrderTTL returns the reservation time to live.
func (c *Config) OrderTTL() time.Duration {
	return time.Duration(c.Risk.OrderTTLMs) * time.Millisecond
}

// LifecycleCheckInterval returns the sweep interval.
func (c *Config) LifecycleCheckInterval() time.Duration {
	return time.Duration(c.Lifecycle.CheckIntervalMs) * time.Millisecond
}

// ReplayPace returns the delay between replayed events.
func (c *Config) ReplayPace() time.Duration {
	return time.Duration(c.Consumer.ReplayPace) * time.Millisecond
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}
