// Package config loads and validates the engine's yaml configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PairConfig names one tradeable pair and its capital weight.
type PairConfig struct {
	Symbol1 string  `yaml:"symbol1" validate:"required"`
	Symbol2 string  `yaml:"symbol2" validate:"required"`
	Weight  float64 `yaml:"weight" default:"0.5" validate:"gt=0,lte=1"`
}

// TradingConfig is the decision-engine numeric surface.
type TradingConfig struct {
	EntryThreshold            float64 `yaml:"entry_threshold" default:"2.0" validate:"gt=0"`
	ExitThreshold             float64 `yaml:"exit_threshold" default:"1.0" validate:"gte=0"`
	TransactionCostBps        float64 `yaml:"transaction_cost_bps" default:"10" validate:"gte=0"`
	SlippageBps               float64 `yaml:"slippage_bps" default:"5" validate:"gte=0"`
	KellyFractionScale        float64 `yaml:"kelly_fraction_scale" default:"0.5" validate:"gt=0,lte=1"`
	MaxLeverage               float64 `yaml:"max_leverage" default:"2.0" validate:"gte=1"`
	MaxDrawdownPct            float64 `yaml:"max_drawdown_pct" default:"0.25" validate:"gt=0,lt=1"`
	MaxPositionSize           float64 `yaml:"max_position_size" default:"0.95" validate:"gt=0,lte=1"`
	TrainingWindowDays        int     `yaml:"training_window_days" default:"252" validate:"gt=0"`
	VolatilityLookback        int     `yaml:"volatility_lookback" default:"20" validate:"gt=0"`
	ReversionLookback         int     `yaml:"reversion_lookback" default:"30" validate:"gt=0"`
	RegimeConfidenceThreshold float64 `yaml:"regime_confidence_threshold" default:"0.6" validate:"gte=0,lte=1"`
	InitialCapital            float64 `yaml:"initial_capital" default:"100000" validate:"gt=0"`
}

// BrokerConfig covers the REST broker endpoint and retry policy.
type BrokerConfig struct {
	BaseURL          string        `yaml:"base_url" validate:"required,url"`
	APIKey           string        `yaml:"api_key"`
	Identifier       string        `yaml:"identifier"`
	Password         string        `yaml:"password"`
	Timeout          time.Duration `yaml:"timeout" default:"10s"`
	MaxRetries       int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base" default:"1s"`
	MinCallInterval  time.Duration `yaml:"min_call_interval" default:"100ms"`
}

// LiveConfig controls the trading loop.
type LiveConfig struct {
	DryRun              bool          `yaml:"dry_run" default:"true"`
	PollInterval        time.Duration `yaml:"poll_interval" default:"60s"`
	LegSettleDelay      time.Duration `yaml:"leg_settle_delay" default:"2s"`
	VerifyTimeout       time.Duration `yaml:"verify_timeout" default:"10s"`
	MaxConsecutiveFails int           `yaml:"max_consecutive_fails" default:"3" validate:"gte=1"`
}

// NATSConfig covers the streaming feed and signal publishing.
type NATSConfig struct {
	URL           string `yaml:"url" default:"nats://127.0.0.1:4222"`
	TickSubject   string `yaml:"tick_subject" default:"md.tick"`
	SignalSubject string `yaml:"signal_subject" default:"engine.signals"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Listen  string `yaml:"listen" default:":9090"`
	Path    string `yaml:"path" default:"/metrics"`
}

// LogConfig mirrors pkg/logger.Config.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

// Config is the root document.
type Config struct {
	Environment string        `yaml:"environment" default:"dev"`
	Log         LogConfig     `yaml:"log"`
	Trading     TradingConfig `yaml:"trading"`
	Pairs       []PairConfig  `yaml:"pairs" validate:"min=1,dive"`
	Broker      BrokerConfig  `yaml:"broker"`
	Live        LiveConfig    `yaml:"live"`
	NATS        NATSConfig    `yaml:"nats"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

var validate = validator.New()

// Load reads, defaults and validates a yaml config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: apply defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies struct tags plus the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Trading.EntryThreshold <= c.Trading.ExitThreshold {
		return fmt.Errorf("config: entry_threshold %.2f must exceed exit_threshold %.2f",
			c.Trading.EntryThreshold, c.Trading.ExitThreshold)
	}
	total := 0.0
	for _, p := range c.Pairs {
		total += p.Weight
	}
	if total > 1.0+1e-9 {
		return fmt.Errorf("config: pair weights sum to %.4f, exceeding 1.0", total)
	}
	return nil
}
