package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (MKT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string   `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string   `usage:"PostgreSQL connection URL (MKT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr    string   `default:"" usage:"Redis address for dedup and token caching; empty disables Redis" flag:"redis-addr"`
	KafkaBrokers []string `usage:"Kafka broker addresses for domain events; empty disables publishing" flag:"kafka-brokers"`
	Currency     string   `default:"INR" usage:"Currency code for payment intents"`

	Razorpay   RazorpayConfig
	Shiprocket ShiprocketConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
	Graceful   GracefulConfig
}

// RazorpayConfig holds payment gateway credentials.
type RazorpayConfig struct {
	KeyID         string `usage:"Razorpay key id" flag:"razorpay-key-id"`
	KeySecret     string `usage:"Razorpay key secret" flag:"razorpay-key-secret"`
	WebhookSecret string `usage:"Razorpay webhook signing secret" flag:"razorpay-webhook-secret"`
}

// ShiprocketConfig holds shipping partner settings. Seller credentials live
// in the database; only the endpoint and webhook secret are global.
type ShiprocketConfig struct {
	BaseURL       string `default:"" usage:"Shipping partner base URL override" flag:"shiprocket-base-url"`
	WebhookSecret string `usage:"Shipping webhook HMAC secret; empty disables verification" flag:"shipping-webhook-secret"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MKT",
		Files:     []string{"config.yaml", "/etc/marketplace/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set MKT_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the MKT_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisAddr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisAddr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
