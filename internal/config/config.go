package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"crypto-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Store      StoreConfig      `mapstructure:"store"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Market     MarketConfig     `mapstructure:"market"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Bybit      BybitConfig      `mapstructure:"bybit"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	API        APIConfig        `mapstructure:"api"`
	Chart      ChartConfig      `mapstructure:"chart"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects the JSON file store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StoreConfig locates the JSON alert file.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig governs the processing cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	RunOnStartup    bool          `mapstructure:"run_on_startup"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ExchangeConfig covers one REST market data venue.
type ExchangeConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RetryCount        int           `mapstructure:"retry_count"`
}

// ChainlinkConfig covers on-chain price feeds.
type ChainlinkConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	MaxAge         time.Duration     `mapstructure:"max_age"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// HistoryConfig controls the database-backed candle archive.
type HistoryConfig struct {
	Archive   bool          `mapstructure:"archive"`
	Retention time.Duration `mapstructure:"retention"`
}

// MarketConfig groups every market data source.
type MarketConfig struct {
	Binance       ExchangeConfig  `mapstructure:"binance"`
	KuCoin        ExchangeConfig  `mapstructure:"kucoin"`
	KuCoinSymbols []string        `mapstructure:"kucoin_symbols"`
	UserAgent     string          `mapstructure:"user_agent"`
	Chainlink     ChainlinkConfig `mapstructure:"chainlink"`
	History       HistoryConfig   `mapstructure:"history"`
}

// EvaluationConfig bounds a processing cycle.
type EvaluationConfig struct {
	MaxWorkers     int           `mapstructure:"max_workers"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	ActionTimeout  time.Duration `mapstructure:"action_timeout"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

// BybitConfig holds trading credentials. Actions fail when the key pair is empty.
type BybitConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	BaseURL        string        `mapstructure:"base_url"`
	Testnet        bool          `mapstructure:"testnet"`
	Category       string        `mapstructure:"category"`
	RecvWindow     time.Duration `mapstructure:"recv_window"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	// LogErrors 开启后, 达到 LogErrorsLevel 的日志会转发到 Telegram。
	LogErrors      bool   `mapstructure:"log_errors"`
	LogErrorsLevel string `mapstructure:"log_errors_level"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatIDs        []string      `mapstructure:"chat_ids"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// APIConfig controls the management HTTP server.
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ChartConfig sets chart export behaviour.
type ChartConfig struct {
	Candles int `mapstructure:"candles"`
	Width   int `mapstructure:"width"`
	Height  int `mapstructure:"height"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRYPTOALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cryptoalerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("store.path", "alerts.json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.run_on_startup", true)
	v.SetDefault("scheduler.align_to_interval", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63616c72))

	v.SetDefault("market.binance.base_url", "https://api.binance.com")
	v.SetDefault("market.binance.request_timeout", "10s")
	v.SetDefault("market.binance.requests_per_second", 10.0)
	v.SetDefault("market.binance.retry_count", 2)
	v.SetDefault("market.kucoin.base_url", "https://api.kucoin.com")
	v.SetDefault("market.kucoin.request_timeout", "10s")
	v.SetDefault("market.kucoin.requests_per_second", 5.0)
	v.SetDefault("market.kucoin.retry_count", 2)
	v.SetDefault("market.kucoin_symbols", []string{})
	v.SetDefault("market.user_agent", "")
	v.SetDefault("market.chainlink.max_age", "2h")
	v.SetDefault("market.chainlink.request_timeout", "10s")
	v.SetDefault("market.history.archive", false)
	v.SetDefault("market.history.retention", "720h")

	v.SetDefault("evaluation.max_workers", 8)
	v.SetDefault("evaluation.fetch_timeout", "15s")
	v.SetDefault("evaluation.action_timeout", "30s")
	v.SetDefault("evaluation.persist_timeout", "10s")

	v.SetDefault("bybit.base_url", "")
	v.SetDefault("bybit.testnet", false)
	v.SetDefault("bybit.category", "linear")
	v.SetDefault("bybit.recv_window", "5s")
	v.SetDefault("bybit.request_timeout", "10s")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.request_timeout", "10s")
	v.SetDefault("alerting.log_errors", false)
	v.SetDefault("alerting.log_errors_level", "error")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.mode", "release")
	v.SetDefault("api.shutdown_timeout", "10s")

	v.SetDefault("chart.candles", 200)
	v.SetDefault("chart.width", 1280)
	v.SetDefault("chart.height", 720)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// normalize upper-cases symbol lists. Viper lower-cases map keys, so feeds are re-keyed too.
func (c *Config) normalize() {
	symbols := make([]string, 0, len(c.Market.KuCoinSymbols))
	for _, s := range c.Market.KuCoinSymbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	c.Market.KuCoinSymbols = symbols

	feeds := make(map[string]string, len(c.Market.Chainlink.Feeds))
	for sym, addr := range c.Market.Chainlink.Feeds {
		feeds[strings.ToUpper(strings.TrimSpace(sym))] = strings.TrimSpace(addr)
	}
	c.Market.Chainlink.Feeds = feeds

	chats := make([]string, 0, len(c.Alerting.Telegram.ChatIDs))
	for _, id := range c.Alerting.Telegram.ChatIDs {
		if id = strings.TrimSpace(id); id != "" {
			chats = append(chats, id)
		}
	}
	c.Alerting.Telegram.ChatIDs = chats
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Evaluation.MaxWorkers < 0 {
		return fmt.Errorf("evaluation.max_workers cannot be negative")
	}
	if c.Evaluation.FetchTimeout <= 0 {
		return fmt.Errorf("evaluation.fetch_timeout must be greater than zero")
	}
	if c.Evaluation.ActionTimeout <= 0 {
		return fmt.Errorf("evaluation.action_timeout must be greater than zero")
	}
	if c.Database.DSN == "" && strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required when database.dsn is empty")
	}
	if c.Market.History.Archive && c.Database.DSN == "" {
		return fmt.Errorf("market.history.archive requires database.dsn")
	}
	if c.Market.History.Retention < 0 {
		return fmt.Errorf("market.history.retention cannot be negative")
	}
	if len(c.Market.Chainlink.Feeds) > 0 && c.Market.Chainlink.RPCURL == "" {
		return fmt.Errorf("market.chainlink.rpc_url 必须配置")
	}
	for _, ex := range []struct {
		name string
		cfg  ExchangeConfig
	}{{"binance", c.Market.Binance}, {"kucoin", c.Market.KuCoin}} {
		if ex.cfg.BaseURL == "" {
			return fmt.Errorf("market.%s.base_url is required", ex.name)
		}
		if ex.cfg.RequestsPerSecond < 0 {
			return fmt.Errorf("market.%s.requests_per_second cannot be negative", ex.name)
		}
	}
	if (c.Bybit.APIKey == "") != (c.Bybit.APISecret == "") {
		return fmt.Errorf("bybit.api_key 和 bybit.api_secret 必须同时配置")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if len(c.Alerting.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("alerting.telegram.chat_ids 必须配置")
		}
	}
	if c.Alerting.LogErrors && !c.Alerting.Telegram.Enabled {
		return fmt.Errorf("alerting.log_errors requires alerting.telegram.enabled")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled")
	}
	if c.Chart.Candles <= 0 {
		return fmt.Errorf("chart.candles must be greater than zero")
	}
	return nil
}

// ResolveCandles returns either the CLI override or config default.
func (c *Config) ResolveCandles(override int) int {
	if override > 0 {
		return override
	}
	return c.Chart.Candles
}
