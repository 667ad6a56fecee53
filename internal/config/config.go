// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"

	"gym-membership/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port" env:"HTTP_PORT"`
	PublicBaseURL  string        `yaml:"public_base_url" env:"PUBLIC_BASE_URL"` // e.g. https://gym.example.com
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"` // trace|debug|info|warn|error
	Format   string `yaml:"format"`                // json|console
	Sampling bool   `yaml:"sampling"`              // enable sampling in prod
}

type DatabaseConfig struct {
	URL            string `yaml:"url" env:"DATABASE_URL"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrationsPath string `yaml:"migrations_path"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type PaymentConfig struct {
	Gateway          string        `yaml:"gateway"` // stripe | noop
	APIBase          string        `yaml:"api_base"`
	APIKey           string        `yaml:"api_key" env:"PAYMENT_API_KEY"`
	WebhookSecret    string        `yaml:"webhook_secret" env:"PAYMENT_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `yaml:"webhook_tolerance"`
	Timeout          time.Duration `yaml:"timeout"`
	SuccessPath      string        `yaml:"success_path"`
	CancelPath       string        `yaml:"cancel_path"`

	// Unlinked PENDING purchases older than OrphanAfter are canceled every OrphanSweepInterval.
	OrphanSweepInterval time.Duration `yaml:"orphan_sweep_interval"`
	OrphanAfter         time.Duration `yaml:"orphan_after"`
}

type PlanConfig struct {
	PriceID  string `yaml:"price_id"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Amount   int64  `yaml:"amount"` // minor units
	Currency string `yaml:"currency"`
}

type BillingConfig struct {
	Plans []PlanConfig `yaml:"plans"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic"`
	Workers int      `yaml:"workers"`
}

type VerifyConfig struct {
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Payment  PaymentConfig  `yaml:"payment"`
	Billing  BillingConfig  `yaml:"billing"`
	Auth     AuthConfig     `yaml:"auth"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Verify   VerifyConfig   `yaml:"verify"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, overlays environment variables and
// applies defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse is LoadConfig without the file read.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.PublicBaseURL == "" {
		c.HTTP.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.HTTP.Port)
	}
	c.HTTP.PublicBaseURL = strings.TrimRight(c.HTTP.PublicBaseURL, "/")
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "deploy/migrations"
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)
	if c.Payment.Gateway == "" {
		c.Payment.Gateway = "stripe"
		if c.Runtime.Dev {
			c.Payment.Gateway = "noop"
		}
	}
	if c.Payment.APIBase == "" {
		c.Payment.APIBase = "https://api.stripe.com"
	}
	if c.Payment.WebhookTolerance <= 0 {
		c.Payment.WebhookTolerance = 5 * time.Minute
	}
	if c.Payment.Timeout <= 0 {
		c.Payment.Timeout = 15 * time.Second
	}
	if c.Payment.SuccessPath == "" {
		c.Payment.SuccessPath = "/membership/success"
	}
	if c.Payment.CancelPath == "" {
		c.Payment.CancelPath = "/membership/cancel"
	}
	if c.Payment.OrphanSweepInterval <= 0 {
		c.Payment.OrphanSweepInterval = time.Hour
	}
	if c.Payment.OrphanAfter <= 0 {
		c.Payment.OrphanAfter = 25 * time.Hour
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "membership.purchase-settled"
	}
	if c.Kafka.Workers <= 0 {
		c.Kafka.Workers = 2
	}
	if c.Verify.RateLimit <= 0 {
		c.Verify.RateLimit = 30
	}
	if c.Verify.RateWindow <= 0 {
		c.Verify.RateWindow = time.Minute
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if len(c.Billing.Plans) == 0 {
		return errors.New("billing.plans must list at least one plan")
	}
	seen := make(map[string]struct{}, len(c.Billing.Plans))
	for i, p := range c.Billing.Plans {
		if p.PriceID == "" {
			return fmt.Errorf("billing.plans[%d].price_id is required", i)
		}
		if _, dup := seen[p.PriceID]; dup {
			return fmt.Errorf("billing.plans: duplicate price_id %q", p.PriceID)
		}
		seen[p.PriceID] = struct{}{}
		r, err := model.ParseRole(p.Role)
		if err != nil || !model.IsPurchasable(r) {
			return fmt.Errorf("billing.plans[%d].role %q is not a purchasable tier", i, p.Role)
		}
		if p.Amount <= 0 || p.Currency == "" {
			return fmt.Errorf("billing.plans[%d] needs a positive amount and a currency", i)
		}
	}
	switch strings.ToLower(c.Payment.Gateway) {
	case "noop":
	case "stripe":
		if c.Payment.APIKey == "" {
			return errors.New("payment.api_key is required")
		}
		if c.Payment.WebhookSecret == "" {
			return errors.New("payment.webhook_secret is required")
		}
	default:
		return fmt.Errorf("payment.gateway %q is not supported", c.Payment.Gateway)
	}
	if c.Auth.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
