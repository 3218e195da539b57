package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
)

func validConfig() *Config {
	return &Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/shop",
		Checkout: CheckoutConfig{
			Steps:                    []string{"address", "delivery", "payment", "confirm", "complete"},
			AlwaysIncludeConfirmStep: true,
		},
		Tax:       TaxConfig{Name: "Sales Tax", Rate: "0"},
		RateLimit: RateLimitConfig{Max: 100, Window: time.Minute},
	}
}

func TestCheckoutConfig_Order(t *testing.T) {
	cfg, err := CheckoutConfig{
		Steps:           []string{"address", "payment", "complete"},
		RestockOnCancel: true,
	}.Order()
	require.NoError(t, err)
	assert.Equal(t, []order.State{order.StateAddress, order.StatePayment, order.StateComplete}, cfg.Steps)
	assert.True(t, cfg.RestockOnCancel)
	assert.False(t, cfg.AlwaysIncludeConfirmStep)

	for _, steps := range [][]string{
		nil,
		{"address", "delivery"},
		{"address", "shipping", "complete"},
		{"address", "address", "complete"},
	} {
		_, err := CheckoutConfig{Steps: steps}.Order()
		assert.Error(t, err, "steps %v", steps)
	}
}

func TestCheckoutConfig_Comparator(t *testing.T) {
	li := &order.LineItem{Options: map[string]string{"gift_wrap": "yes", "note": "hi"}}

	all := CheckoutConfig{}.Comparator()
	assert.True(t, all(li, map[string]string{"gift_wrap": "yes", "note": "hi"}))
	assert.False(t, all(li, map[string]string{"gift_wrap": "yes"}))

	keyed := CheckoutConfig{OptionKeys: []string{"gift_wrap"}}.Comparator()
	assert.True(t, keyed(li, map[string]string{"gift_wrap": "yes"}))
	assert.True(t, keyed(li, map[string]string{"gift_wrap": "yes", "note": "bye"}))
	assert.False(t, keyed(li, map[string]string{"gift_wrap": "no", "note": "hi"}))
	assert.False(t, keyed(li, nil))
}

func TestTaxConfig_Rates(t *testing.T) {
	rates, err := TaxConfig{Name: "VAT", Rate: "0.2", Included: true}.Rates()
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "VAT", rates[0].Name)
	assert.True(t, rates[0].Included)

	rates, err = TaxConfig{Rate: "0"}.Rates()
	require.NoError(t, err)
	assert.Empty(t, rates)

	_, err = TaxConfig{Rate: "five"}.Rates()
	assert.Error(t, err)
	_, err = TaxConfig{Rate: "-0.1"}.Rates()
	assert.Error(t, err)
}

func TestTaxConfig_RateComputes(t *testing.T) {
	rates, err := TaxConfig{Name: "Sales Tax", Rate: "0.05"}.Rates()
	require.NoError(t, err)
	require.Len(t, rates, 1)
	got := rates[0].Compute(amount(decimal.NewFromInt(100)))
	assert.True(t, decimal.NewFromInt(5).Equal(got), "got %s", got)
}

type amount decimal.Decimal

func (a amount) TaxableAmount() decimal.Decimal { return decimal.Decimal(a) }

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"no database":   func(c *Config) { c.DatabaseURL = "" },
		"zero rate max": func(c *Config) { c.RateLimit.Max = 0 },
		"bad checkout":  func(c *Config) { c.Checkout.Steps = []string{"payment"} },
		"bad tax rate":  func(c *Config) { c.Tax.Rate = "x" },
		"zero window":   func(c *Config) { c.RateLimit.Window = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9090")

	cfg := &Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	cfg = &Config{Addr: "127.0.0.1:1234", DatabaseURL: "postgres://explicit/db"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:1234", cfg.Addr)
}
