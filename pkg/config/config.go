package config

import (
	"os"
	"strconv"
)

// DBConfig holds PostgreSQL settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// MQConfig holds message queue settings.
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// DiscoveryConfig holds the knobs of the discovery walker and review flow.
type DiscoveryConfig struct {
	// How far back the walker looks, in days.
	HistoryDays int `yaml:"history_days"`
	// Upper bound on items pulled per source per day.
	PerDayItemCap int `yaml:"per_day_item_cap"`
	// Cost in cents charged against the training budget per reviewed sample.
	ReviewCostCents int64 `yaml:"review_cost_cents"`
	// Affordability floor checked before each extraction call; the actual
	// debit comes from the extraction result.
	ItemCostEstimateCents int64 `yaml:"item_cost_estimate_cents"`
	// Predictions below this confidence (0-100) are escalated.
	ConfidenceFloor int `yaml:"confidence_floor"`
	// Feedback count required before auto-training may start.
	MinFeedbackForAutoTrain int `yaml:"min_feedback_for_auto_train"`
	// Transient source fetch failures tolerated before the session is paused.
	FetchRetries int `yaml:"fetch_retries"`

	SourceBaseURL     string `yaml:"source_base_url"`
	ExtractionBaseURL string `yaml:"extraction_base_url"`
}

// AlertConfig holds settings of the outbound alert channel.
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// OverrideDBFromEnv overrides DB settings from environment variables.
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv overrides MQ settings from environment variables.
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv overrides Redis settings from environment variables.
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideServerFromEnv overrides server settings from environment variables.
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideDiscoveryFromEnv overrides discovery settings from environment variables.
func OverrideDiscoveryFromEnv(cfg *DiscoveryConfig) {
	if url := os.Getenv("SOURCE_BASE_URL"); url != "" {
		cfg.SourceBaseURL = url
	}
	if url := os.Getenv("EXTRACTION_BASE_URL"); url != "" {
		cfg.ExtractionBaseURL = url
	}
	if v := os.Getenv("MIN_FEEDBACK_FOR_AUTO_TRAIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinFeedbackForAutoTrain = n
		}
	}
}

// OverrideAlertFromEnv overrides alert settings from environment variables.
func OverrideAlertFromEnv(cfg *AlertConfig) {
	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		cfg.WebhookURL = url
	}
}
