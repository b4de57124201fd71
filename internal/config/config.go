package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"tradebot/internal/scheduler"
)

type Config struct {
	App      App      `mapstructure:"app"`
	Exchange Exchange `mapstructure:"exchange"`
	Trading  Trading  `mapstructure:"trading"`
	Telegram Telegram `mapstructure:"telegram"`
}

type App struct {
	LogPath      string        `mapstructure:"log_path"`
	LogLevel     string        `mapstructure:"log_level"`
	JournalPath  string        `mapstructure:"journal_path"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

type Exchange struct {
	Testnet        bool          `mapstructure:"testnet"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`

	// Credentials come from the environment (optionally via .env),
	// never from the config file.
	APIKey    string `mapstructure:"-"`
	APISecret string `mapstructure:"-"`
}

type Trading struct {
	RiskAmount     float64 `mapstructure:"risk_amount"`
	StopMultiplier float64 `mapstructure:"stop_multiplier"`
	SLMultiplier   float64 `mapstructure:"sl_multiplier"`
	TPMultiplier   float64 `mapstructure:"tp_multiplier"`
	ADXThreshold   float64 `mapstructure:"adx_threshold"`
	Leverage       int     `mapstructure:"leverage"`
	Commission     float64 `mapstructure:"commission"`
	TopSymbols     int     `mapstructure:"top_symbols"`
	MinExitBars    int     `mapstructure:"min_exit_bars"`
	ExitInterval   string  `mapstructure:"exit_interval"`
}

type Telegram struct {
	BotToken string `mapstructure:"-"`
	ChatID   string `mapstructure:"-"`
}

const (
	testnetBaseURL    = "https://testnet.binancefuture.com"
	productionBaseURL = "https://fapi.binance.com"
)

// Load reads the yaml config file (optional: defaults apply when path is
// empty or the file is missing), overlays environment credentials loaded
// via .env, applies defaults and validates. Configuration failures here
// are the only fatal errors in the process.
func Load(path string) (*Config, error) {
	// Missing .env is fine; real environments export directly.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	var cfg Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
			}
		}
	}
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	cfg.applyDefaults()

	cfg.Exchange.APIKey = os.Getenv("API_KEY")
	cfg.Exchange.APISecret = os.Getenv("API_SECRET")
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.Telegram.ChatID = os.Getenv("CHAT_ID")

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.JournalPath == "" {
		c.App.JournalPath = "trades.log"
	}
	if c.App.TickInterval <= 0 {
		c.App.TickInterval = 60 * time.Second
	}
	if c.Exchange.BaseURL == "" {
		if c.Exchange.Testnet {
			c.Exchange.BaseURL = testnetBaseURL
		} else {
			c.Exchange.BaseURL = productionBaseURL
		}
	}
	if c.Exchange.Timeout <= 0 {
		c.Exchange.Timeout = 180 * time.Second
	}
	if c.Exchange.RetryAttempts <= 0 {
		c.Exchange.RetryAttempts = 15
	}
	if c.Exchange.RetryBaseDelay <= 0 {
		c.Exchange.RetryBaseDelay = 15 * time.Second
	}
	if c.Trading.RiskAmount <= 0 {
		c.Trading.RiskAmount = 100
	}
	if c.Trading.StopMultiplier <= 0 {
		c.Trading.StopMultiplier = 2.5
	}
	if c.Trading.SLMultiplier <= 0 {
		c.Trading.SLMultiplier = 1.5
	}
	if c.Trading.TPMultiplier <= 0 {
		c.Trading.TPMultiplier = 2.5
	}
	if c.Trading.ADXThreshold <= 0 {
		c.Trading.ADXThreshold = 20
	}
	if c.Trading.Leverage <= 0 {
		c.Trading.Leverage = 10
	}
	if c.Trading.Commission <= 0 {
		c.Trading.Commission = 0.0004
	}
	if c.Trading.TopSymbols <= 0 {
		c.Trading.TopSymbols = 40
	}
	if c.Trading.MinExitBars <= 0 {
		c.Trading.MinExitBars = 50
	}
	c.Trading.ExitInterval = strings.ToLower(strings.TrimSpace(c.Trading.ExitInterval))
	if c.Trading.ExitInterval == "" {
		c.Trading.ExitInterval = "4h"
	}
}

func validate(c *Config) error {
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf("config: API_KEY and API_SECRET must be set in the environment")
	}
	if c.Trading.TPMultiplier <= c.Trading.SLMultiplier {
		return fmt.Errorf("config: tp_multiplier (%.2f) must exceed sl_multiplier (%.2f)",
			c.Trading.TPMultiplier, c.Trading.SLMultiplier)
	}
	if _, ok := scheduler.ParseIntervalDuration(c.Trading.ExitInterval); !ok {
		return fmt.Errorf("config: exit_interval %q is not a valid kline interval", c.Trading.ExitInterval)
	}
	return nil
}
