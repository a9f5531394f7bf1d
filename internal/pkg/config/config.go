package config

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/payment"
	envparse "github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Config is the typed runtime configuration of the service.
type Config struct {
	App         App         `envPrefix:"APP_"`
	DB          DB          `envPrefix:"DB_"`
	Cache       Cache       `envPrefix:"CACHE_"`
	Payment     Payment     `envPrefix:"PAYMENT_"`
	Retry       Retry       `envPrefix:"RETRY_"`
	Fulfillment Fulfillment `envPrefix:"FULFILLMENT_"`
	Retention   Retention   `envPrefix:"RETENTION_"`
	Archive     Archive     `envPrefix:"ARCHIVE_S3_"`
	AMQP        AMQP        `envPrefix:"AMQP_"`
	Admin       Admin       `envPrefix:"ADMIN_"`
	Webhook     Webhook     `envPrefix:"WEBHOOK_"`
}

type App struct {
	Env  string `env:"ENV" envDefault:"prod" validate:"oneof=dev test prod"`
	Host string `env:"HOST" envDefault:"localhost"`
	Port string `env:"PORT" envDefault:"4000" validate:"required,numeric"`
}

type DB struct {
	Host     string `env:"HOST" envDefault:"127.0.0.1"`
	Port     string `env:"PORT" envDefault:"3306" validate:"numeric"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME"`
}

type Cache struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"6379" validate:"numeric"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0" validate:"gte=0,lte=15"`
}

type Payment struct {
	Provider           string        `env:"PROVIDER" envDefault:"stripe" validate:"oneof=stripe"`
	WebhookSecret      string        `env:"WEBHOOK_SECRET"`
	APIKey             string        `env:"API_KEY"`
	SignatureTolerance time.Duration `env:"SIGNATURE_TOLERANCE" envDefault:"5m" validate:"gt=0"`
	SuccessURL         string        `env:"SUCCESS_URL" validate:"omitempty,url"`
	CancelURL          string        `env:"CANCEL_URL" validate:"omitempty,url"`
	APIBaseURL         string        `env:"API_BASE_URL" validate:"omitempty,url"`
}

type Retry struct {
	BatchSize   int           `env:"BATCH_SIZE" envDefault:"10" validate:"gt=0"`
	Interval    time.Duration `env:"INTERVAL" envDefault:"30s" validate:"gt=0"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"6" validate:"gt=0"`
	BackoffBase float64       `env:"BACKOFF_BASE" envDefault:"5" validate:"gte=1"`
	BackoffUnit time.Duration `env:"BACKOFF_UNIT" envDefault:"1s" validate:"gt=0"`
	ClaimLease  time.Duration `env:"CLAIM_LEASE" envDefault:"5m" validate:"gt=0"`
}

type Fulfillment struct {
	AllowNonTxFallback bool `env:"ALLOW_NON_TX_FALLBACK" envDefault:"false"`
}

type Retention struct {
	ProcessedEvents time.Duration `env:"PROCESSED_EVENTS" envDefault:"720h" validate:"gt=0"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h" validate:"gt=0"`
	BatchSize       int           `env:"BATCH_SIZE" envDefault:"500" validate:"gt=0"`
}

type Archive struct {
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION" envDefault:"eu-central-1"`
	Endpoint  string `env:"ENDPOINT" validate:"omitempty,url"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX" envDefault:"processed-events/"`
}

// Enabled reports whether expired events are archived before deletion.
func (a Archive) Enabled() bool {
	return a.Bucket != ""
}

type AMQP struct {
	URL      string `env:"URL" validate:"omitempty,url"`
	Exchange string `env:"EXCHANGE" envDefault:"payfox.orders"`
}

type Admin struct {
	User     string `env:"USER" envDefault:"admin"`
	Password string `env:"PASSWORD"`
}

type Webhook struct {
	RateLimit int `env:"RATE_LIMIT" envDefault:"120" validate:"gte=0"`
}

// Load parses environ (see env.Environ) into a Config and validates it.
func Load(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := envparse.ParseWithOptions(cfg, envparse.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the service runs in development mode.
func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}

// PaymentConfig maps the payment section onto the provider factory input.
func (c *Config) PaymentConfig() payment.Config {
	return payment.Config{
		Provider:           c.Payment.Provider,
		APIKey:             c.Payment.APIKey,
		WebhookSecret:      c.Payment.WebhookSecret,
		SignatureTolerance: c.Payment.SignatureTolerance,
		SuccessURL:         c.Payment.SuccessURL,
		CancelURL:          c.Payment.CancelURL,
		APIBaseURL:         c.Payment.APIBaseURL,
	}
}
