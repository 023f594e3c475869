package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string        `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr      string        `default:"" usage:"Redis address for the pricing rule cache; empty disables caching" flag:"redis-addr"`
	RuleCacheTTL   time.Duration `default:"30s" usage:"Pricing rule cache TTL" flag:"rule-cache-ttl"`
	APIKeyPepper   string        `usage:"HMAC pepper for API key hashing (CHECKOUT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	CallbackSecret string        `usage:"Shared secret for payment provider callbacks" flag:"callback-secret"`
	Gateway        GatewayConfig
	Loyalty        LoyaltyConfig
	RateLimit      RateLimitConfig
	CORS           CORSConfig
	Graceful       GracefulConfig
}

// GatewayConfig configures the payment provider client.
type GatewayConfig struct {
	BaseURL        string        `usage:"Payment provider base URL" flag:"gateway-url"`
	APIKey         string        `usage:"Payment provider API key" flag:"gateway-api-key"`
	RequestTimeout time.Duration `default:"5s"  usage:"Timeout for a single provider request" flag:"gateway-timeout"`
	MaxElapsed     time.Duration `default:"30s" usage:"Maximum total retry duration per provider call" flag:"gateway-max-elapsed"`
}

// LoyaltyConfig configures point accrual and redemption value.
type LoyaltyConfig struct {
	AccrualUnit string `default:"1"    usage:"Currency amount that earns one loyalty point" flag:"loyalty-accrual-unit"`
	RedeemValue string `default:"0.01" usage:"Currency value of one redeemed point" flag:"loyalty-redeem-value"`
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
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if _, err := decimal.NewFromString(cfg.Loyalty.AccrualUnit); err != nil {
		return nil, errors.Wrap(err, "loyalty accrual unit")
	}
	if _, err := decimal.NewFromString(cfg.Loyalty.RedeemValue); err != nil {
		return nil, errors.Wrap(err, "loyalty redeem value")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
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
