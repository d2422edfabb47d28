// Package config loads process-wide settings from a YAML file with
// environment-variable overrides, grounded on
// _examples/0xtitan6-polymarket-mm/internal/config/config.go's viper.New +
// SetEnvPrefix/AutomaticEnv pattern.
package config

import (
	"fmt"
	"strings"
	"time"

	"fenrir/internal/common"

	"github.com/spf13/viper"
)

// Config is the top-level process configuration.
type Config struct {
	Listen     ListenConfig     `mapstructure:"listen"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Durability DurabilityConfig `mapstructure:"durability"`
	Trading    TradingConfig    `mapstructure:"trading"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ListenConfig addresses the TCP order-entry gateway and the websocket feed.
type ListenConfig struct {
	Address   string `mapstructure:"address"`
	Port      int    `mapstructure:"port"`
	FeedPort  int    `mapstructure:"feed_port"`
}

// StorageConfig locates the journal and snapshot files.
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	JournalFile  string `mapstructure:"journal_file"`
	SnapshotFile string `mapstructure:"snapshot_file"`
}

// DurabilityConfig maps onto journal.DurabilityPolicy.
type DurabilityConfig struct {
	FlushEveryRecords int           `mapstructure:"flush_every_records"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	MaxFileSizeBytes  int64         `mapstructure:"max_file_size_bytes"` // 0 disables rotation
}

// TradingConfig carries the engine/position defaults spec §9 leaves open.
type TradingConfig struct {
	SelfTradePolicy        string        `mapstructure:"self_trade_policy"` // "cancel_oldest", "cancel_taker", "cancel_maker", "cancel_both"
	MakerFeeRate           float64       `mapstructure:"maker_fee_rate"`
	TakerFeeRate           float64       `mapstructure:"taker_fee_rate"`
	DefaultLeverage        float64       `mapstructure:"default_leverage"`
	MaintenanceMarginRate  float64       `mapstructure:"maintenance_margin_rate"`
	LiquidationPenaltyRate float64       `mapstructure:"liquidation_penalty_rate"`
	InsuranceFundShare     float64       `mapstructure:"insurance_fund_share"`
	FundingRate            float64       `mapstructure:"funding_rate"`            // per-interval rate applied by the funding loop
	FundingInterval        time.Duration `mapstructure:"funding_interval"`        // spec §9 leaves the cadence as an open question; this is the injected answer
	MarkPriceInterval      time.Duration `mapstructure:"mark_price_interval"`      // cadence of the mark-to-market/liquidation sweep
}

// RateLimitConfig bounds how fast one session may submit messages.
type RateLimitConfig struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// Default returns the baked-in defaults, matching spec §4.2's stated
// CancelOldest self-trade policy and §4.4's literal flush defaults.
func Default() Config {
	return Config{
		Listen: ListenConfig{Address: "0.0.0.0", Port: 9001, FeedPort: 9002},
		Storage: StorageConfig{
			DataDir:      "./data",
			JournalFile:  "fenrir.journal",
			SnapshotFile: "fenrir.snapshot",
		},
		Durability: DurabilityConfig{FlushEveryRecords: 100, FlushInterval: 50 * time.Millisecond, MaxFileSizeBytes: 64 << 20},
		Trading: TradingConfig{
			SelfTradePolicy:        "cancel_oldest",
			MakerFeeRate:           0.0002,
			TakerFeeRate:           0.0005,
			DefaultLeverage:        10,
			MaintenanceMarginRate:  0.03,
			LiquidationPenaltyRate: 0.01,
			InsuranceFundShare:     0.7,
			FundingRate:            0.0001,
			FundingInterval:        8 * time.Hour,
			MarkPriceInterval:      time.Second,
		},
		RateLimit: RateLimitConfig{MessagesPerSecond: 50, Burst: 100},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads config from path, falling back to Default for any field the
// file and FENRIR_* environment variables leave unset.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("FENRIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("listen.address", cfg.Listen.Address)
	v.SetDefault("listen.port", cfg.Listen.Port)
	v.SetDefault("listen.feed_port", cfg.Listen.FeedPort)
	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.journal_file", cfg.Storage.JournalFile)
	v.SetDefault("storage.snapshot_file", cfg.Storage.SnapshotFile)
	v.SetDefault("durability.flush_every_records", cfg.Durability.FlushEveryRecords)
	v.SetDefault("durability.flush_interval", cfg.Durability.FlushInterval)
	v.SetDefault("durability.max_file_size_bytes", cfg.Durability.MaxFileSizeBytes)
	v.SetDefault("trading.self_trade_policy", cfg.Trading.SelfTradePolicy)
	v.SetDefault("trading.maker_fee_rate", cfg.Trading.MakerFeeRate)
	v.SetDefault("trading.taker_fee_rate", cfg.Trading.TakerFeeRate)
	v.SetDefault("trading.default_leverage", cfg.Trading.DefaultLeverage)
	v.SetDefault("trading.maintenance_margin_rate", cfg.Trading.MaintenanceMarginRate)
	v.SetDefault("trading.liquidation_penalty_rate", cfg.Trading.LiquidationPenaltyRate)
	v.SetDefault("trading.insurance_fund_share", cfg.Trading.InsuranceFundShare)
	v.SetDefault("trading.funding_rate", cfg.Trading.FundingRate)
	v.SetDefault("trading.funding_interval", cfg.Trading.FundingInterval)
	v.SetDefault("trading.mark_price_interval", cfg.Trading.MarkPriceInterval)
	v.SetDefault("rate_limit.messages_per_second", cfg.RateLimit.MessagesPerSecond)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// SelfTradePolicy parses the configured policy string into
// common.SelfTradePolicy, defaulting to CancelOldest on an unrecognized
// value.
func (c Config) SelfTradePolicy() common.SelfTradePolicy {
	switch c.Trading.SelfTradePolicy {
	case "cancel_taker":
		return common.CancelTaker
	case "cancel_maker":
		return common.CancelMaker
	case "cancel_both":
		return common.CancelBoth
	default:
		return common.CancelOldest
	}
}
