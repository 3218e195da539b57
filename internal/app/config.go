package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/tax"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string        `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	DatabaseWait time.Duration `default:"30s" usage:"How long to wait for the database at startup" flag:"database-wait"`
	APIKeyPepper string        `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Checkout     CheckoutConfig
	Tax          TaxConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CheckoutConfig controls the checkout flow.
type CheckoutConfig struct {
	Steps                    []string `default:"address,delivery,payment,confirm,complete" usage:"Ordered checkout steps, ending with complete"`
	AlwaysIncludeConfirmStep bool     `default:"true" usage:"Keep the confirm step even when a payment exists" flag:"always-confirm"`
	RestockOnCancel          bool     `default:"false" usage:"Return stock when an order is canceled" flag:"restock-on-cancel"`
	OptionKeys               []string `usage:"Line item option keys compared when merging into the cart; empty compares all options" flag:"option-keys"`
}

// Comparator returns the line item comparison policy for the cart.
func (c CheckoutConfig) Comparator() order.LineItemComparator {
	if len(c.OptionKeys) == 0 {
		return order.MatchOptions
	}
	return order.MatchOptionKeys(c.OptionKeys...)
}

// Order converts c to the order package configuration.
func (c CheckoutConfig) Order() (order.Config, error) {
	cfg := order.Config{
		AlwaysIncludeConfirmStep: c.AlwaysIncludeConfirmStep,
		RestockOnCancel:          c.RestockOnCancel,
	}
	for _, s := range c.Steps {
		cfg.Steps = append(cfg.Steps, order.State(s))
	}
	if err := cfg.Validate(); err != nil {
		return order.Config{}, errors.Wrap(err, "checkout")
	}
	return cfg, nil
}

// TaxConfig describes the single store wide tax rate. A zero rate disables
// tax.
type TaxConfig struct {
	Name     string `default:"Sales Tax" usage:"Tax label shown on adjustments"`
	Rate     string `default:"0" usage:"Tax rate as a fraction, e.g. 0.05"`
	Included bool   `default:"false" usage:"Prices already include the tax" flag:"tax-included"`
}

// Rates returns the configured tax rates.
func (c TaxConfig) Rates() ([]tax.Rate, error) {
	rate, err := decimal.NewFromString(c.Rate)
	if err != nil {
		return nil, errors.Wrapf(err, "tax rate %q", c.Rate)
	}
	if rate.IsNegative() {
		return nil, errors.Errorf("tax rate %s is negative", rate)
	}
	if rate.IsZero() {
		return nil, nil
	}
	return []tax.Rate{tax.NewRate(c.Name, rate, c.Included)}, nil
}

// RateLimitConfig controls the per-client rate limiter.
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

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
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

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	if _, err := c.Checkout.Order(); err != nil {
		return err
	}
	if _, err := c.Tax.Rates(); err != nil {
		return err
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
