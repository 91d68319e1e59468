package config

import (
	"fmt"
	"os"
	"regexp"
	"time"
	_ "time/tzdata" // zone database for minimal images

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Queue    QueueConfig    `yaml:"queue"`

	RulesPath          string  `yaml:"rules_path" validate:"required"`
	Market             string  `yaml:"market"`
	RetentionHours     int     `yaml:"retention_hours" validate:"gte=0"`
	ImportantThreshold float64 `yaml:"important_threshold"`
	CriticalThreshold  float64 `yaml:"critical_threshold" validate:"gtefield=ImportantThreshold"`

	Notifier     NotifierConfig     `yaml:"notifier"`
	Sources      SourcesConfig      `yaml:"sources"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Reload       ReloadConfig       `yaml:"reload"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// ServerConfig configures the read-only HTTP API. Port 0 disables it.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

// QueueConfig sizes the in-process queues.
type QueueConfig struct {
	Size int `yaml:"size" validate:"gte=1"`
}

// ParseRetention returns the event retention window.
func (c *Config) ParseRetention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// NotifierConfig configures the dispatcher and its delivery channel.
type NotifierConfig struct {
	Channel            string  `yaml:"channel" validate:"oneof=telegram slack discord webhook stdout"`
	QuietHours         string  `yaml:"quiet_hours" validate:"omitempty,quiethours"`
	DisplayTimezone    string  `yaml:"display_timezone" validate:"omitempty,timezone"`
	DedupeMinutes      int     `yaml:"dedupe_minutes" validate:"gte=0"`
	BatchWindowSeconds int     `yaml:"batch_window_seconds" validate:"gte=0"`
	Translate          bool    `yaml:"translate"`
	MaxMessageLen      int     `yaml:"max_message_len" validate:"gte=16"`
	StartupPush        bool    `yaml:"startup_push"`
	RatePerSecond      float64 `yaml:"rate_per_second" validate:"gte=0"`

	Retry    RetryConfig    `yaml:"retry"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// ParseDedupe returns the per-thread dedup window.
func (n NotifierConfig) ParseDedupe() time.Duration {
	return time.Duration(n.DedupeMinutes) * time.Minute
}

// ParseBatchWindow returns the batch window; zero disables batching.
func (n NotifierConfig) ParseBatchWindow() time.Duration {
	return time.Duration(n.BatchWindowSeconds) * time.Second
}

// Location returns the display timezone, falling back to UTC.
func (n NotifierConfig) Location() *time.Location {
	if n.DisplayTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(n.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RetryConfig bounds delivery retries.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts" validate:"gte=1,lte=20"`
	Backoff     string `yaml:"backoff"`
	MaxBackoff  string `yaml:"max_backoff"`
	Jitter      string `yaml:"jitter"`
}

// ParseBackoff returns the base backoff as time.Duration.
func (r RetryConfig) ParseBackoff() time.Duration {
	return parseDuration(r.Backoff, 2*time.Second)
}

// ParseMaxBackoff returns the backoff cap as time.Duration.
func (r RetryConfig) ParseMaxBackoff() time.Duration {
	return parseDuration(r.MaxBackoff, 30*time.Second)
}

// ParseJitter returns the maximum random jitter added to each backoff.
func (r RetryConfig) ParseJitter() time.Duration {
	return parseDuration(r.Jitter, 600*time.Millisecond)
}

// TelegramConfig for the Telegram Bot API channel.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
	APIURL string `yaml:"api_url" validate:"omitempty,url"`
}

// SlackConfig for Slack webhook delivery.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
}

// DiscordConfig for Discord webhook delivery.
type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
}

// WebhookConfig for generic webhook delivery.
type WebhookConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Secret string `yaml:"secret"`
}

// SourcesConfig lists polled feeds.
type SourcesConfig struct {
	RSS  []FeedConfig `yaml:"rss" validate:"dive"`
	JSON []FeedConfig `yaml:"json" validate:"dive"`
}

// FeedConfig is a single polled feed.
type FeedConfig struct {
	ID       string `yaml:"id" validate:"required"`
	URL      string `yaml:"url" validate:"required,url"`
	Interval string `yaml:"interval"`
}

// ParseInterval returns the poll interval as time.Duration.
func (f FeedConfig) ParseInterval() time.Duration {
	return parseDuration(f.Interval, 5*time.Minute)
}

// HousekeepingConfig schedules the expiry sweep.
type HousekeepingConfig struct {
	SweepSchedule string `yaml:"sweep_schedule"`
}

// ReloadConfig controls how often config and rules files are checked.
type ReloadConfig struct {
	CheckInterval string `yaml:"check_interval"`
}

// ParseCheckInterval returns the check interval as time.Duration.
func (r ReloadConfig) ParseCheckInterval() time.Duration {
	return parseDuration(r.CheckInterval, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database:           DatabaseConfig{Path: "./intelhub.db"},
		Log:                LogConfig{Level: "info", Format: "json"},
		Server:             ServerConfig{Port: 8080},
		Queue:              QueueConfig{Size: 1000},
		RulesPath:          "./rules.yaml",
		Market:             "us",
		RetentionHours:     48,
		ImportantThreshold: 70,
		CriticalThreshold:  90,
		Notifier: NotifierConfig{
			Channel:         "telegram",
			QuietHours:      "00:00-00:00",
			DisplayTimezone: "America/New_York",
			DedupeMinutes:   30,
			Translate:       true,
			MaxMessageLen:   3500,
			RatePerSecond:   1,
			Retry: RetryConfig{
				MaxAttempts: 3,
				Backoff:     "2s",
				MaxBackoff:  "30s",
				Jitter:      "600ms",
			},
			Telegram: TelegramConfig{APIURL: "https://api.telegram.org"},
		},
		Housekeeping: HousekeepingConfig{SweepSchedule: "@every 10m"},
		Reload:       ReloadConfig{CheckInterval: "30s"},
	}
}

// Load reads configuration from a YAML file, applies env var overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTELHUB_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("INTELHUB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifier.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifier.Telegram.ChatID = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notifier.Slack.WebhookURL = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notifier.Discord.WebhookURL = v
	}
}

var quietHoursRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d-([01]\d|2[0-3]):[0-5]\d$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("quiethours", func(fl validator.FieldLevel) bool {
		return quietHoursRe.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks field constraints on cfg.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}
