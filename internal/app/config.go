package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL); in-memory store when empty" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Memory       MemoryConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Payments     PaymentsConfig
	Orders       OrdersConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// MemoryConfig applies when no database is configured. The store is seeded
// with the embedded catalog and the given raw keys.
type MemoryConfig struct {
	AdminKey    string `usage:"Raw admin API key registered in the in-memory store" flag:"memory-admin-key"`
	PaymentsKey string `usage:"Raw payments callback API key registered in the in-memory store" flag:"memory-payments-key"`
}

// RedisConfig enables the shared idempotency store. Empty Addr keeps keys
// in process memory.
type RedisConfig struct {
	Addr     string        `usage:"Redis address for checkout idempotency keys"`
	Password string        `usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database"`
	KeyTTL   time.Duration `default:"24h" usage:"Idempotency key retention" flag:"idempotency-ttl"`
}

// KafkaConfig enables order event publishing. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers for order events"`
	Topic   string   `default:"kart.order-events" usage:"Kafka topic for order events"`
}

// PaymentsConfig selects and tunes the payment gateway adapter.
type PaymentsConfig struct {
	Provider    string        `default:"sandbox" usage:"Payment provider: sandbox or stripe"`
	StripeKey   string        `usage:"Stripe secret key" flag:"stripe-key"`
	Currency    string        `default:"usd" usage:"Charge currency"`
	Timeout     time.Duration `default:"10s" usage:"Per-attempt gateway timeout"`
	MaxAttempts uint          `default:"3" usage:"Attempts for transient gateway failures"`
	Backoff     time.Duration `default:"200ms" usage:"Initial retry backoff"`
}

// OrdersConfig controls order locking and pending payment expiry.
type OrdersConfig struct {
	PendingTTL     time.Duration `default:"30m" usage:"Unpaid orders older than this are cancelled" flag:"pending-ttl"`
	ReaperInterval time.Duration `default:"1m"  usage:"Interval between expiry passes" flag:"reaper-interval"`
	LockTimeout    time.Duration `default:"5s"  usage:"Per-order lock wait" flag:"lock-timeout"`
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
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Payments.Provider {
	case providerSandbox:
	case providerStripe:
		if c.Payments.StripeKey == "" {
			return errors.New("stripe provider requires KART_PAYMENTS_STRIPE_KEY")
		}
	default:
		return errors.Errorf("unknown payment provider %q", c.Payments.Provider)
	}
	if c.Orders.PendingTTL <= 0 || c.Orders.ReaperInterval <= 0 {
		return errors.New("orders pending TTL and reaper interval must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.Redis.Addr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
