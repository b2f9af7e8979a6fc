package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var sha256Hex = regexp.MustCompile(`^[0-9a-f]{64}$`)

type Config struct {
	Port                         int      `env:"PORT" envDefault:"8080"`
	DatabaseURL                  string   `env:"DATABASE_URL,required"`
	RedisURL                     string   `env:"REDIS_URL,required"`
	DriverURL                    string   `env:"DRIVER_URL,required"`
	APITokenHash                 string   `env:"API_TOKEN_HASH"`
	LogLevel                     string   `env:"LOG_LEVEL" envDefault:"info"`
	QRTimeoutSeconds             int      `env:"QR_TIMEOUT_SECONDS" envDefault:"30"`
	ContactsTimeoutSeconds       int      `env:"CONTACTS_TIMEOUT_SECONDS" envDefault:"10"`
	ExtractTimeoutSeconds        int      `env:"EXTRACT_TIMEOUT_SECONDS" envDefault:"30"`
	SendTimeoutSeconds           int      `env:"SEND_TIMEOUT_SECONDS" envDefault:"15"`
	QRTTLSeconds                 int      `env:"QR_TTL_SECONDS" envDefault:"300"`
	RetentionHours               int      `env:"RETENTION_HOURS" envDefault:"168"`
	FailedMediaRetentionHours    int      `env:"FAILED_MEDIA_RETENTION_HOURS" envDefault:"720"`
	JanitorIntervalSeconds       int      `env:"JANITOR_INTERVAL_SECONDS" envDefault:"300"`
	MediaDir                     string   `env:"MEDIA_DIR" envDefault:"./media"`
	MediaDownloadTimeoutSeconds  int      `env:"MEDIA_DOWNLOAD_TIMEOUT_SECONDS" envDefault:"15"`
	MediaMaxBytes                int64    `env:"MEDIA_MAX_BYTES" envDefault:"16777216"`
	KafkaBrokers                 []string `env:"KAFKA_BROKERS" envSeparator:","`
	OCRTopic                     string   `env:"OCR_TOPIC" envDefault:"media.ocr.queued"`
	ReuseConnectedSession        bool     `env:"REUSE_CONNECTED_SESSION" envDefault:"false"`
	SchemaPath                   string   `env:"SCHEMA_PATH"`
}

func (c *Config) QRTimeout() time.Duration {
	return time.Duration(c.QRTimeoutSeconds) * time.Second
}

func (c *Config) ContactsTimeout() time.Duration {
	return time.Duration(c.ContactsTimeoutSeconds) * time.Second
}

func (c *Config) ExtractTimeout() time.Duration {
	return time.Duration(c.ExtractTimeoutSeconds) * time.Second
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c *Config) QRTTL() time.Duration {
	return time.Duration(c.QRTTLSeconds) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c *Config) FailedMediaRetention() time.Duration {
	return time.Duration(c.FailedMediaRetentionHours) * time.Hour
}

func (c *Config) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalSeconds) * time.Second
}

func (c *Config) MediaDownloadTimeout() time.Duration {
	return time.Duration(c.MediaDownloadTimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if !strings.HasPrefix(c.DriverURL, "ws://") && !strings.HasPrefix(c.DriverURL, "wss://") {
		return fmt.Errorf("DRIVER_URL must be a ws:// or wss:// URL")
	}

	if c.APITokenHash != "" && !sha256Hex.MatchString(c.APITokenHash) {
		return fmt.Errorf("API_TOKEN_HASH must be a lowercase sha256 hex digest (generate with: go run scripts/hash-token.go <token>)")
	}

	for name, v := range map[string]int{
		"QR_TIMEOUT_SECONDS":       c.QRTimeoutSeconds,
		"CONTACTS_TIMEOUT_SECONDS": c.ContactsTimeoutSeconds,
		"EXTRACT_TIMEOUT_SECONDS":  c.ExtractTimeoutSeconds,
		"SEND_TIMEOUT_SECONDS":     c.SendTimeoutSeconds,
		"QR_TTL_SECONDS":           c.QRTTLSeconds,
		"JANITOR_INTERVAL_SECONDS": c.JanitorIntervalSeconds,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if isProduction {
		if c.APITokenHash == "" {
			return fmt.Errorf("API_TOKEN_HASH is required in production")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if strings.HasPrefix(c.DriverURL, "ws://") {
			log.Warn().Msg("DRIVER_URL uses ws:// (not TLS) in production: consider using wss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
