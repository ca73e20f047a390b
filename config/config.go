package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Phantomflow PhantomflowConfig `yaml:"phantomflow"`
	Feed        FeedConfig        `yaml:"feed"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Detection   DetectionConfig   `yaml:"detection"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Refdata     RefdataConfig     `yaml:"refdata"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type PhantomflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	URL            string        `yaml:"url"`
	Symbol         string        `yaml:"symbol"`
	APIKey         string        `yaml:"api_key"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type SessionsConfig struct {
	Timezone        string `yaml:"timezone"`
	PreMarketOpen   string `yaml:"premarket_open"`
	RegularOpen     string `yaml:"regular_open"`
	RegularClose    string `yaml:"regular_close"`
	AfterHoursClose string `yaml:"afterhours_close"`
}

type DetectionConfig struct {
	WarmupTrades         int            `yaml:"warmup_trades"`
	OutsidePrevThreshold float64        `yaml:"outside_prev_threshold"`
	OutsideCurrentGap    float64        `yaml:"outside_current_gap"`
	PhantomCooldown      time.Duration  `yaml:"phantom_cooldown"`
	RTHCooldown          time.Duration  `yaml:"rth_cooldown"`
	RTHBreakBuffer       float64        `yaml:"rth_break_buffer"`
	IgnoreConditions     []int          `yaml:"ignore_conditions"`
	RelevantConditions   []int          `yaml:"relevant_conditions"`
	Velocity             VelocityConfig `yaml:"velocity"`
	DarkPool             DarkPoolConfig `yaml:"dark_pool"`
}

type VelocityConfig struct {
	Enabled             bool          `yaml:"enabled"`
	WindowDuration      time.Duration `yaml:"window_duration"`
	DropThreshold       float64       `yaml:"drop_threshold"`
	ConfirmationWindows int           `yaml:"confirmation_windows"`
	MinTradesPerWindow  int           `yaml:"min_trades_per_window"`
	HistorySize         int           `yaml:"history_size"`
	Cooldown            time.Duration `yaml:"cooldown"`
	EdgeMargin          time.Duration `yaml:"edge_margin"`
}

type DarkPoolConfig struct {
	Venue         int   `yaml:"venue"`
	SizeThreshold int64 `yaml:"size_threshold"`
}

type ChannelsConfig struct {
	RawBuffer   int `yaml:"raw_buffer"`
	TradeBuffer int `yaml:"trade_buffer"`
}

type RefdataConfig struct {
	TradierURL   string        `yaml:"tradier_url"`
	TradierKey   string        `yaml:"tradier_key"`
	MassiveURL   string        `yaml:"massive_url"`
	LookbackDays int           `yaml:"lookback_days"`
	Timeout      time.Duration `yaml:"timeout"`
	ManualLow    *float64      `yaml:"manual_low"`
	ManualHigh   *float64      `yaml:"manual_high"`
}

type AlertingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	WebhookURL    string `yaml:"webhook_url"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
	DayLog   DayLogConfig   `yaml:"day_log"`
}

type PostgresConfig struct {
	Enabled bool          `yaml:"enabled"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type DayLogConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Dir           string        `yaml:"dir"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Feed: FeedConfig{
			ReconnectDelay: 5 * time.Second,
			MaxBackoff:     time.Minute,
		},
		Sessions: SessionsConfig{
			Timezone:        "America/New_York",
			PreMarketOpen:   "04:00",
			RegularOpen:     "09:30",
			RegularClose:    "16:00",
			AfterHoursClose: "20:00",
		},
		Detection: DetectionConfig{
			WarmupTrades:         100,
			OutsidePrevThreshold: 0.10,
			OutsideCurrentGap:    0.25,
			PhantomCooldown:      5 * time.Second,
			RTHCooldown:          120 * time.Second,
			RTHBreakBuffer:       0.10,
			Velocity: VelocityConfig{
				Enabled:             true,
				WindowDuration:      30 * time.Second,
				DropThreshold:       0.5,
				ConfirmationWindows: 2,
				MinTradesPerWindow:  10,
				HistorySize:         10,
				Cooldown:            180 * time.Second,
				EdgeMargin:          5 * time.Minute,
			},
			DarkPool: DarkPoolConfig{
				Venue:         4,
				SizeThreshold: 100000,
			},
		},
		Channels: ChannelsConfig{
			RawBuffer:   1000,
			TradeBuffer: 5000,
		},
		Refdata: RefdataConfig{
			LookbackDays: 7,
			Timeout:      10 * time.Second,
		},
		Alerting: AlertingConfig{
			RatePerMinute: 30,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides pulls secrets and the manual range override from the
// environment so they never have to live in the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MASSIVE_API_KEY"); v != "" {
		cfg.Feed.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("TRADIER_API_KEY"); v != "" {
		cfg.Refdata.TradierKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerting.WebhookURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Storage.Postgres.DSN = strings.TrimSpace(v)
	}
	if cfg.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("MANUAL_PREV_LOW"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Refdata.ManualLow = &f
		}
	}
	if v := os.Getenv("MANUAL_PREV_HIGH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Refdata.ManualHigh = &f
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Phantomflow.Name == "" {
		return fmt.Errorf("phantomflow.name is required")
	}
	if cfg.Phantomflow.Version == "" {
		return fmt.Errorf("phantomflow.version is required")
	}
	if cfg.Feed.Symbol == "" {
		return fmt.Errorf("feed.symbol is required")
	}
	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.TradeBuffer <= 0 {
		return fmt.Errorf("channels.trade_buffer must be greater than 0")
	}
	if cfg.Detection.WarmupTrades < 0 {
		return fmt.Errorf("detection.warmup_trades must not be negative")
	}
	if cfg.Detection.OutsidePrevThreshold < 0 || cfg.Detection.OutsideCurrentGap < 0 {
		return fmt.Errorf("detection thresholds must not be negative")
	}
	if cfg.Detection.Velocity.Enabled {
		v := cfg.Detection.Velocity
		if v.WindowDuration <= 0 {
			return fmt.Errorf("detection.velocity.window_duration must be greater than 0")
		}
		if v.ConfirmationWindows <= 0 {
			return fmt.Errorf("detection.velocity.confirmation_windows must be greater than 0")
		}
		if v.HistorySize <= v.ConfirmationWindows {
			return fmt.Errorf("detection.velocity.history_size must exceed confirmation_windows")
		}
		if v.DropThreshold <= 0 || v.DropThreshold > 1 {
			return fmt.Errorf("detection.velocity.drop_threshold must be in (0, 1]")
		}
	}
	if cfg.Detection.DarkPool.SizeThreshold <= 0 {
		return fmt.Errorf("detection.dark_pool.size_threshold must be greater than 0")
	}
	if _, err := ParseClock(cfg.Sessions.PreMarketOpen); err != nil {
		return fmt.Errorf("sessions.premarket_open: %w", err)
	}
	if _, err := ParseClock(cfg.Sessions.RegularOpen); err != nil {
		return fmt.Errorf("sessions.regular_open: %w", err)
	}
	if _, err := ParseClock(cfg.Sessions.RegularClose); err != nil {
		return fmt.Errorf("sessions.regular_close: %w", err)
	}
	if _, err := ParseClock(cfg.Sessions.AfterHoursClose); err != nil {
		return fmt.Errorf("sessions.afterhours_close: %w", err)
	}
	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}
	if cfg.Storage.Postgres.Enabled && cfg.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn (or POSTGRES_URL) is required when postgres is enabled")
	}
	if cfg.Alerting.Enabled && cfg.Alerting.WebhookURL == "" {
		return fmt.Errorf("alerting.webhook_url (or DISCORD_WEBHOOK_URL) is required when alerting is enabled")
	}
	return nil
}

// ParseClock converts an "HH:MM" string into seconds since local midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in clock value %q", s)
	}
	return h*3600 + m*60, nil
}
