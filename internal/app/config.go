package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"golang.org/x/text/currency"
)

const defaultAddr = "0.0.0.0:8080"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix) or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)"`
	ImageBaseURL string `default:"" usage:"Base URL prepended to product image paths"`
	Storage      StorageConfig
	Mongo        MongoConfig
	Redis        RedisConfig
	Session      SessionConfig
	Checkout     CheckoutConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// StorageConfig selects the catalog and order store.
type StorageConfig struct {
	Driver string `default:"postgres" usage:"Order and catalog store: postgres or mongo"`
}

// MongoConfig is used when Storage.Driver is mongo.
type MongoConfig struct {
	URI      string `default:"mongodb://localhost:27017/?replicaSet=rs0" usage:"MongoDB connection URI"`
	Database string `default:"storefront" usage:"MongoDB database name"`
}

// RedisConfig configures the session cart store. An empty Addr keeps carts
// in process memory.
type RedisConfig struct {
	Addr     string `default:"" usage:"Redis address (host:port); empty uses in-memory carts"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
}

// SessionConfig controls the session cookie and cart lifetime.
type SessionConfig struct {
	CookieName string        `default:"session_id" usage:"Session cookie name"`
	TTL        time.Duration `default:"168h" usage:"Session cart lifetime"`
	Secure     bool          `default:"false" usage:"Mark the session cookie Secure"`
}

// CheckoutConfig tunes the checkout engine.
type CheckoutConfig struct {
	MaxNumberAttempts int           `default:"3" usage:"Order number generation attempts on collision"`
	PersistTimeout    time.Duration `default:"5s" usage:"Timeout for committing a single order"`
	LookupConcurrency int           `default:"8" usage:"Parallel catalog lookups per reconciliation"`
	Currency          string        `default:"USD" usage:"ISO 4217 currency for carts and orders"`
}

// KafkaConfig enables order event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers; empty disables order events"`
	Topic   string   `default:"storefront.orders" usage:"Topic for order events"`
}

// RateLimitConfig controls the per-session checkout rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"10" usage:"Max checkout attempts per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		SkipFlags: true,
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration that cannot be started with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo URI is required: set SHOP_MONGO_URI")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if _, err := c.Currency(); err != nil {
		return err
	}
	return nil
}

// Currency parses Checkout.Currency.
func (c *Config) Currency() (currency.Unit, error) {
	unit, err := currency.ParseISO(c.Checkout.Currency)
	if err != nil {
		return currency.Unit{}, errors.Wrapf(err, "parse currency %q", c.Checkout.Currency)
	}
	return unit, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
