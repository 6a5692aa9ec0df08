package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Service     ServiceConfig  `yaml:"service"`
	HTTP        HTTPConfig     `yaml:"http"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Tracing     TracingConfig  `yaml:"tracing"`
	Checkout    CheckoutConfig `yaml:"checkout"`
	Stripe      StripeConfig   `yaml:"stripe"`
	PayPal      PayPalConfig   `yaml:"paypal"`
	FrontendURL string         `yaml:"frontend_url"`
	// CatalogFile is an optional YAML catalog loaded into the store at startup.
	CatalogFile string `yaml:"catalog_file"`
}

type ServiceConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path         string        `yaml:"path"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

// RedisConfig enables the shared idempotency store when Addr is set.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type TracingConfig struct {
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// CheckoutConfig holds pricing rules. Amounts are minor units.
type CheckoutConfig struct {
	Currency         string `yaml:"currency"`
	TaxRate          string `yaml:"tax_rate"`
	FreeShippingOver int64  `yaml:"free_shipping_over"`
	FlatShipping     int64  `yaml:"flat_shipping"`
}

type StripeConfig struct {
	SecretKey        string        `yaml:"secret_key"`
	PublishableKey   string        `yaml:"publishable_key"`
	WebhookSecret    string        `yaml:"webhook_secret"`
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	WebhookTolerance time.Duration `yaml:"webhook_tolerance"`
}

type PayPalConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	WebhookID    string        `yaml:"webhook_id"`
	BaseURL      string        `yaml:"base_url"`
	BrandName    string        `yaml:"brand_name"`
	Timeout      time.Duration `yaml:"timeout"`
}

func Default() Config {
	return Config{
		Service: ServiceConfig{Name: "minishop", Env: "dev", LogLevel: "info"},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "minishop.db", MaxOpenConns: 8, BusyTimeout: 10 * time.Second},
		Redis:    RedisConfig{IdempotencyTTL: 24 * time.Hour},
		Tracing:  TracingConfig{Exporter: "none", SampleRatio: 1},
		Checkout: CheckoutConfig{
			Currency:         "usd",
			TaxRate:          "0.16",
			FreeShippingOver: 10000,
			FlatShipping:     1000,
		},
		Stripe: StripeConfig{
			BaseURL:          "https://api.stripe.com",
			Timeout:          10 * time.Second,
			WebhookTolerance: 5 * time.Minute,
		},
		PayPal: PayPalConfig{
			BaseURL:   "https://api-m.sandbox.paypal.com",
			BrandName: "Minishop",
			Timeout:   10 * time.Second,
		},
		FrontendURL: "http://localhost:3000",
	}
}

// Load reads the optional YAML file at path, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Service.Name = getenvDefault("SERVICE_NAME", cfg.Service.Name)
	cfg.Service.Env = getenvDefault("ENV", cfg.Service.Env)
	cfg.Service.LogLevel = getenvDefault("LOG_LEVEL", cfg.Service.LogLevel)
	cfg.HTTP.Addr = getenvDefault("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Database.Path = getenvDefault("DATABASE_PATH", cfg.Database.Path)
	cfg.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Tracing.Exporter = getenvDefault("TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Checkout.Currency = strings.ToLower(getenvDefault("CURRENCY", cfg.Checkout.Currency))
	cfg.Checkout.TaxRate = getenvDefault("TAX_RATE", cfg.Checkout.TaxRate)
	cfg.Stripe.SecretKey = getenvDefault("STRIPE_SECRET_KEY", cfg.Stripe.SecretKey)
	cfg.Stripe.PublishableKey = getenvDefault("STRIPE_PUBLISHABLE_KEY", cfg.Stripe.PublishableKey)
	cfg.Stripe.WebhookSecret = getenvDefault("STRIPE_WEBHOOK_SECRET", cfg.Stripe.WebhookSecret)
	cfg.Stripe.BaseURL = getenvDefault("STRIPE_BASE_URL", cfg.Stripe.BaseURL)
	cfg.PayPal.ClientID = getenvDefault("PAYPAL_CLIENT_ID", cfg.PayPal.ClientID)
	cfg.PayPal.ClientSecret = getenvDefault("PAYPAL_CLIENT_SECRET", cfg.PayPal.ClientSecret)
	cfg.PayPal.WebhookID = getenvDefault("PAYPAL_WEBHOOK_ID", cfg.PayPal.WebhookID)
	cfg.PayPal.BaseURL = getenvDefault("PAYPAL_BASE_URL", cfg.PayPal.BaseURL)
	cfg.FrontendURL = getenvDefault("FRONTEND_URL", cfg.FrontendURL)
	cfg.CatalogFile = getenvDefault("CATALOG_FILE", cfg.CatalogFile)

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}
	if v := os.Getenv("DATABASE_MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DATABASE_MAX_OPEN_CONNS: %w", err)
		}
		cfg.Database.MaxOpenConns = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Database.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("database.max_open_conns must be positive"))
	}
	if len(c.Checkout.Currency) != 3 {
		errs = append(errs, fmt.Errorf("checkout.currency %q is not an ISO code", c.Checkout.Currency))
	}
	if rate, err := decimal.NewFromString(c.Checkout.TaxRate); err != nil {
		errs = append(errs, fmt.Errorf("checkout.tax_rate: %w", err))
	} else if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("checkout.tax_rate %s out of range [0,1)", rate))
	}
	if c.Checkout.FreeShippingOver < 0 || c.Checkout.FlatShipping < 0 {
		errs = append(errs, errors.New("checkout shipping amounts must not be negative"))
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q is not one of none, stdout, otlp", c.Tracing.Exporter))
	}
	if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required for the otlp exporter"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Rate returns the parsed checkout tax rate. Validate has already accepted it.
func (c CheckoutConfig) Rate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// StripeEnabled reports whether the card gateway has credentials.
func (c Config) StripeEnabled() bool { return c.Stripe.SecretKey != "" }

// PayPalEnabled reports whether the wallet gateway has credentials.
func (c Config) PayPalEnabled() bool {
	return c.PayPal.ClientID != "" && c.PayPal.ClientSecret != ""
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
