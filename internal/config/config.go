// Package config defines all configuration for the signal bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via SIGNALBOT_* environment variables, the same viper wiring
// the teacher used under the POLY_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Zone          ZoneConfig          `mapstructure:"zone"`
	Absorption    AbsorptionConfig    `mapstructure:"absorption"`
	Exhaustion    ExhaustionConfig    `mapstructure:"exhaustion"`
	Accumulation  AccumulationConfig  `mapstructure:"accumulation"`
	Distribution  AccumulationConfig `mapstructure:"distribution"`
	Filter        FilterConfig        `mapstructure:"filter"`
	SignalManager SignalManagerConfig `mapstructure:"signal_manager"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Anomaly       AnomalyConfig       `mapstructure:"anomaly"`
	Store         StoreConfig         `mapstructure:"store"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Dashboard     DashboardConfig     `mapstructure:"dashboard"`
}

// ZoneResolutionEntry configures one tick-multiple resolution.
type ZoneResolutionEntry struct {
	ZoneTicks    int   `mapstructure:"zone_ticks"`
	TimeWindowMs int64 `mapstructure:"time_window_ms"`
}

// ZoneConfig configures the multi-resolution zone aggregator (spec §4.3).
type ZoneConfig struct {
	TickSize              string                `mapstructure:"tick_size"`
	Resolutions           []ZoneResolutionEntry `mapstructure:"resolutions"`
	ZoneCacheSize         int                   `mapstructure:"zone_cache_size"`
	MaxZoneCacheAgeMs     int64                 `mapstructure:"max_zone_cache_age_ms"`
	ZoneCalculationRange  int                   `mapstructure:"zone_calculation_range_ticks"`
}

// ConfluenceConfig configures AbsorptionDetector's multi-timeframe confluence
// enhancement (spec §4.5 step 5).
type ConfluenceConfig struct {
	Enabled               bool    `mapstructure:"enabled"`
	DistanceWeight        float64 `mapstructure:"distance_weight"`
	VolumeWeight          float64 `mapstructure:"volume_weight"`
	AbsorptionRatioWeight float64 `mapstructure:"absorption_ratio_weight"`
	MinZoneConfluenceCount int    `mapstructure:"min_zone_confluence_count"`
	MaxZoneConfluenceDistanceTicks int `mapstructure:"max_zone_confluence_distance_ticks"`
	ConfidenceBoost       float64 `mapstructure:"confidence_boost"`
}

// InstitutionalVolumeConfig configures AbsorptionDetector's optional
// institutional-volume filter (spec §4.5 step 6).
type InstitutionalVolumeConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	VolumeThreshold    float64 `mapstructure:"volume_threshold"`
	RatioThreshold     float64 `mapstructure:"ratio_threshold"`
	ConfidenceBoost    float64 `mapstructure:"confidence_boost"`
}

// AbsorptionConfig tunes AbsorptionDetector (spec §4.5).
type AbsorptionConfig struct {
	MinAggVolume                  float64                   `mapstructure:"min_agg_volume"`
	PassiveAbsorptionThreshold    float64                   `mapstructure:"passive_absorption_threshold"`
	PriceEfficiencyThreshold      float64                   `mapstructure:"price_efficiency_threshold"`
	ExpectedMovementScalingFactor float64                   `mapstructure:"expected_movement_scaling_factor"`
	Confluence                    ConfluenceConfig          `mapstructure:"confluence"`
	Institutional                 InstitutionalVolumeConfig `mapstructure:"institutional"`
	EventCooldownMs                int64                    `mapstructure:"event_cooldown_ms"`
	FinalConfidenceRequired        float64                  `mapstructure:"final_confidence_required"`
	MaxZones                      int                       `mapstructure:"max_zones"`
}

// ExhaustionConfig tunes ExhaustionDetector (spec §4.6).
type ExhaustionConfig struct {
	MinDepletionFactor       float64 `mapstructure:"min_depletion_factor"`
	MinAggVolume             float64 `mapstructure:"min_agg_volume"`
	DepletionRatioThreshold  float64 `mapstructure:"depletion_ratio_threshold"`
	DepletionVolumeThreshold float64 `mapstructure:"depletion_volume_threshold"`
	CircuitBreakerMaxErrors  int     `mapstructure:"circuit_breaker_max_errors"`
	CircuitBreakerWindowMs   int64   `mapstructure:"circuit_breaker_window_ms"`
	MaxZones                 int     `mapstructure:"max_zones"`
}

// AccumulationConfig tunes the Accumulation/Distribution detector pair
// (spec §4.7); the same shape serves both, since they are near-symmetric.
type AccumulationConfig struct {
	MinCandidateDurationMs    int64   `mapstructure:"min_candidate_duration_ms"`
	DominantVolumeRatio       float64 `mapstructure:"dominant_volume_ratio"`
	MinTradeCount             int     `mapstructure:"min_trade_count"`
	MaxVwapDeviation          float64 `mapstructure:"max_vwap_deviation"`
	MinInstitutionalScore     float64 `mapstructure:"min_institutional_score"`
	StrengthChangeThreshold   float64 `mapstructure:"strength_change_threshold"`
	CompletionIdleMs          int64   `mapstructure:"completion_idle_ms"`
	MaxZones                  int     `mapstructure:"max_zones"`
	MaintenanceIntervalMs     int64   `mapstructure:"maintenance_interval_ms"`
}

// IndicatorWeightConfig configures one of the three TraditionalIndicators
// filters (spec §4.8).
type IndicatorWeightConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Weight  float64 `mapstructure:"weight"`
}

// VWAPFilterConfig configures the VWAP deviation filter.
type VWAPFilterConfig struct {
	IndicatorWeightConfig `mapstructure:",squash"`
	WindowMs              int64 `mapstructure:"window_ms"`
}

// RSIFilterConfig configures the Wilder's-smoothing RSI filter.
type RSIFilterConfig struct {
	IndicatorWeightConfig `mapstructure:",squash"`
	Period                int `mapstructure:"period"`
}

// OIRFilterConfig configures the order-imbalance-ratio filter.
type OIRFilterConfig struct {
	IndicatorWeightConfig `mapstructure:",squash"`
	WindowMs              int64   `mapstructure:"window_ms"`
	MinVolumeThreshold    float64 `mapstructure:"min_volume_threshold"`
}

// FilterConfig configures TraditionalIndicators as a whole (spec §4.8).
type FilterConfig struct {
	VWAP VWAPFilterConfig `mapstructure:"vwap"`
	RSI  RSIFilterConfig  `mapstructure:"rsi"`
	OIR  OIRFilterConfig  `mapstructure:"oir"`
	Mode string           `mapstructure:"mode"` // "all" | "majority" | "any"
}

// SignalManagerConfig tunes the SignalManager gating pipeline (spec §4.9).
type SignalManagerConfig struct {
	ConfidenceThreshold   float64 `mapstructure:"confidence_threshold"`
	CorrelationWindowMs   int64   `mapstructure:"correlation_window_ms"`
	SignalTimeoutMs       int64   `mapstructure:"signal_timeout_ms"`
	MaintenanceIntervalMs int64   `mapstructure:"maintenance_interval_ms"`
	TakeProfitBps         float64 `mapstructure:"take_profit_bps"`
	StopLossBps           float64 `mapstructure:"stop_loss_bps"`
	MaxHistorySize        int     `mapstructure:"max_history_size"`
}

// IngestConfig points at the external trade/depth feed (adapted from the
// teacher's APIConfig.WSMarketURL).
type IngestConfig struct {
	WSURL            string        `mapstructure:"ws_url"`
	Symbol           string        `mapstructure:"symbol"`
	ReconnectMinWait time.Duration `mapstructure:"reconnect_min_wait"`
	ReconnectMaxWait time.Duration `mapstructure:"reconnect_max_wait"`
}

// AnomalyConfig points at the external anomaly detector's getMarketHealth()
// endpoint, consulted by the signal manager's market-health gate. Adapted
// from the teacher's APIConfig CLOB REST base URL plus its rate-limit
// fields.
type AnomalyConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	RateLimit     float64 `mapstructure:"rate_limit_per_second"`
	BurstCapacity float64 `mapstructure:"burst_capacity"`
}

// StoreConfig points at the signal/job persistence backend. DSN selects
// Postgres via GORM when non-empty; DataDir is the file-based fallback,
// same dual-mode shape as the teacher's file-only StoreConfig.
type StoreConfig struct {
	DSN              string        `mapstructure:"dsn"`
	DataDir          string        `mapstructure:"data_dir"`
	RetentionWindow  time.Duration `mapstructure:"retention_window"`
	RedisAddr        string        `mapstructure:"redis_addr"`
}

// LoggingConfig is unchanged from the teacher.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server. Unchanged from the
// teacher's internal/api surface.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SIGNALBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the fields listed below and returns an error for the
// first one that is zero, empty or out of range, the way the teacher's
// Validate rejected an empty wallet.private_key or a non-positive
// strategy.gamma. Fields not listed here (most detector thresholds and
// windows, the filter settings) are not checked and may load as zero.
func (c *Config) Validate() error {
	if c.Zone.TickSize == "" {
		return fmt.Errorf("zone.tick_size is required")
	}
	if len(c.Zone.Resolutions) == 0 {
		return fmt.Errorf("zone.resolutions must have at least one entry")
	}
	if c.Zone.ZoneCacheSize <= 0 {
		return fmt.Errorf("zone.zone_cache_size must be > 0")
	}
	if c.Absorption.MinAggVolume <= 0 {
		return fmt.Errorf("absorption.min_agg_volume must be > 0")
	}
	if c.Absorption.PassiveAbsorptionThreshold <= 0 || c.Absorption.PassiveAbsorptionThreshold > 1 {
		return fmt.Errorf("absorption.passive_absorption_threshold must be in (0, 1]")
	}
	if c.Exhaustion.MinDepletionFactor <= 0 {
		return fmt.Errorf("exhaustion.min_depletion_factor must be > 0")
	}
	if c.Exhaustion.MaxZones <= 0 {
		return fmt.Errorf("exhaustion.max_zones must be > 0")
	}
	if c.Absorption.MaxZones <= 0 {
		return fmt.Errorf("absorption.max_zones must be > 0")
	}
	if c.Accumulation.MaxZones <= 0 {
		return fmt.Errorf("accumulation.max_zones must be > 0")
	}
	if c.Distribution.MaxZones <= 0 {
		return fmt.Errorf("distribution.max_zones must be > 0")
	}
	if c.SignalManager.ConfidenceThreshold <= 0 || c.SignalManager.ConfidenceThreshold > 1 {
		return fmt.Errorf("signal_manager.confidence_threshold must be in (0, 1]")
	}
	if c.SignalManager.MaxHistorySize <= 0 {
		return fmt.Errorf("signal_manager.max_history_size must be > 0")
	}
	if c.Ingest.WSURL == "" {
		return fmt.Errorf("ingest.ws_url is required")
	}
	if c.Ingest.Symbol == "" {
		return fmt.Errorf("ingest.symbol is required")
	}
	if c.Anomaly.BaseURL == "" {
		return fmt.Errorf("anomaly.base_url is required")
	}
	if c.Store.DataDir == "" && c.Store.DSN == "" {
		return fmt.Errorf("store.data_dir or store.dsn is required")
	}
	return nil
}
