package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	LocationID string `envconfig:"LOCATION_ID" default:"main-branch"`
	ShopID     string `envconfig:"SHOP_ID" default:"altarath"`

	ShopName     string  `envconfig:"SHOP_NAME" default:"Al Tarath Auto Care"`
	ShopAddress  string  `envconfig:"SHOP_ADDRESS" default:"Industrial Area, Sohar"`
	ShopPhone    string  `envconfig:"SHOP_PHONE" default:""`
	ShopCRNumber string  `envconfig:"SHOP_CR_NUMBER" default:""`
	VATRate      float64 `envconfig:"VAT_RATE" default:"5"`

	TxServiceURL     string        `envconfig:"TX_SERVICE_URL"`
	TxServiceTimeout time.Duration `envconfig:"TX_SERVICE_TIMEOUT" default:"10s"`
	CatalogURL       string        `envconfig:"CATALOG_URL"`
	CatalogTimeout   time.Duration `envconfig:"CATALOG_TIMEOUT" default:"5s"`

	StockSnapshotTTL     time.Duration `envconfig:"STOCK_SNAPSHOT_TTL" default:"2m"`
	SyncInterval         time.Duration `envconfig:"SYNC_INTERVAL" default:"30s"`
	CheckoutRetries      int           `envconfig:"CHECKOUT_RETRIES" default:"3"`
	CheckoutRetryDelay   time.Duration `envconfig:"CHECKOUT_RETRY_DELAY" default:"1s"`
	AuthorizationTimeout time.Duration `envconfig:"AUTHORIZATION_TIMEOUT" default:"2m"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "process environment")
	}
	if cfg.CheckoutRetries < 1 {
		cfg.CheckoutRetries = 1
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// ValidateSecurity enforces the minimum auth configuration before the
// server accepts traffic.
func (c Config) ValidateSecurity() error {
	if len(c.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set to at least 32 characters")
	}
	return nil
}
