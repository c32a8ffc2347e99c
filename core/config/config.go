package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/questbot/core/database"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	BotName string `yaml:"bot_name" envconfig:"TELEGRAM_BOT_NAME"`
	JoinURL string `yaml:"join_url" envconfig:"TELEGRAM_JOIN_URL"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	KeysOrder string `yaml:"keys_order"`
	Dir       string `yaml:"dir"`
	File      string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// PaymentConfig holds the payment provider credentials and endpoints.
type PaymentConfig struct {
	MerchantID    string `yaml:"merchant_id" envconfig:"MERCHANT_ID"`
	APIKey        string `yaml:"api_key" envconfig:"MERCHANT_API_KEY"`
	ProjectID     string `yaml:"project_id" envconfig:"PROJECT_ID"`
	BaseURL       string `yaml:"base_url" envconfig:"PAYMENT_BASE_URL"`
	PayStationURL string `yaml:"paystation_url" envconfig:"PAYMENT_PAYSTATION_URL"`
	Currency      string `yaml:"currency" envconfig:"PAYMENT_CURRENCY"`
	Sandbox       bool   `yaml:"sandbox" envconfig:"PAYMENT_SANDBOX"`
}

// GameConfig carries quest presentation texts that operators may override.
type GameConfig struct {
	LostText string `yaml:"lost_text" envconfig:"GAME_LOST_TEXT"`
}

// CacheConfig sizes the player session cache.
type CacheConfig struct {
	Size       int `yaml:"size" envconfig:"CACHE_SIZE"`
	TTLSeconds int `yaml:"ttl_seconds" envconfig:"CACHE_TTL_SECONDS"`
}

// RateLimitConfig holds settings for inbound rate limiting.
type RateLimitConfig struct {
	IntervalMS int `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	// ExcludeUpdates accepts update types to bypass limiting:
	// "message", "callback", "inline_query".
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

// Config aggregates the quest bot configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Database  database.Config `yaml:"database"`
	Payment   PaymentConfig   `yaml:"payment"`
	Game      GameConfig      `yaml:"game"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if cfg.Telegram.JoinURL == "" {
		cfg.Telegram.JoinURL = "https://t.me/"
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	if cfg.Payment.BaseURL == "" {
		cfg.Payment.BaseURL = "https://api.xsolla.com/merchant/v2"
	}
	if cfg.Payment.PayStationURL == "" {
		cfg.Payment.PayStationURL = "https://secure.xsolla.com/paystation3/?access_token="
	}
	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "RUB"
	}

	if cfg.Game.LostText == "" {
		cfg.Game.LostText = "Вы проиграли."
	}

	if cfg.Cache.Size <= 0 {
		cfg.Cache.Size = 4096
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 300
	}

	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		switch key {
		case "message", "callback", "inline_query":
		default:
			return fmt.Errorf("invalid rate_limit.exclude_updates entry %q", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	return nil
}
