package config

import (
	"fmt"
	"net/url"

	pkgconfig "github.com/amingione/fas-checkout/pkg/config"
)

// Config holds all configuration for the checkout service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CHECKOUT_HTTP_PORT" envDefault:"8004"`

	// PostgreSQL (completion ledger)
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"checkout"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"checkout_secret"`
	PostgresDB   string `env:"CHECKOUT_DB_NAME" envDefault:"checkout_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis (checkout session state)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Session state TTL (minutes). Abandoned checkouts expire on their own.
	SessionTTLMins int `env:"SESSION_TTL_MINUTES" envDefault:"30"`

	// Kafka
	KafkaBrokers         []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaPaymentTopic    string   `env:"KAFKA_PAYMENT_SUCCEEDED_TOPIC" envDefault:"storefront.payment.succeeded"`
	KafkaConsumerGroupID string   `env:"KAFKA_CONSUMER_GROUP_ID" envDefault:"checkout-service"`

	// Downstream services
	CommerceEngineURL string `env:"COMMERCE_ENGINE_URL" envDefault:"http://localhost:9000"`
	PaymentGatewayURL string `env:"PAYMENT_GATEWAY_URL" envDefault:"https://api.payments.example.com"`
	CarrierAPIURL     string `env:"CARRIER_API_URL" envDefault:"https://api.carrier.example.com"`
	PaymentAPIKey     string `env:"PAYMENT_API_KEY" envDefault:""`
	CarrierAPIKey     string `env:"CARRIER_API_KEY" envDefault:""`

	// Provider id registered with the commerce engine for payment sessions.
	PaymentProviderID string `env:"PAYMENT_PROVIDER_ID" envDefault:"pp_checkout"`

	// Webhook signing secret shared with the payment gateway.
	WebhookSecret string `env:"PAYMENT_WEBHOOK_SECRET" envDefault:""`

	// Shipping method allow list: "carrier" or "carrier:service" entries.
	// Quotes outside the list are never shown to shoppers.
	AllowedShippingMethods []string `env:"ALLOWED_SHIPPING_METHODS" envDefault:"usps,ups:ground" envSeparator:","`

	// Fallback parcel when carts carry no weight data.
	FallbackParcelWeightOz float64 `env:"FALLBACK_PARCEL_WEIGHT_OZ" envDefault:"16"`
	FallbackParcelLengthIn float64 `env:"FALLBACK_PARCEL_LENGTH_IN" envDefault:"12"`
	FallbackParcelWidthIn  float64 `env:"FALLBACK_PARCEL_WIDTH_IN" envDefault:"9"`
	FallbackParcelHeightIn float64 `env:"FALLBACK_PARCEL_HEIGHT_IN" envDefault:"4"`

	// Rate quote timeout (seconds). A carrier that blows this budget degrades
	// the response to "no rates" instead of failing the checkout.
	RateQuoteTimeoutSecs int `env:"RATE_QUOTE_TIMEOUT_SECONDS" envDefault:"10"`

	// Circuit breaker settings for downstream service calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Per-step saga timeouts (seconds). Each completion step gets its own
	// context.WithTimeout so a slow downstream cannot hold the checkout
	// open indefinitely.
	SagaPaymentTimeout  int `env:"SAGA_PAYMENT_TIMEOUT" envDefault:"10"`
	SagaCommerceTimeout int `env:"SAGA_COMMERCE_TIMEOUT" envDefault:"15"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load checkout config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.SessionTTLMins < 1 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be positive, got %d", c.SessionTTLMins)
	}
	if c.RateQuoteTimeoutSecs < 1 {
		return fmt.Errorf("RATE_QUOTE_TIMEOUT_SECONDS must be positive, got %d", c.RateQuoteTimeoutSecs)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	for name, rawURL := range map[string]string{
		"COMMERCE_ENGINE_URL": c.CommerceEngineURL,
		"PAYMENT_GATEWAY_URL": c.PaymentGatewayURL,
		"CARRIER_API_URL":     c.CarrierAPIURL,
	} {
		if rawURL == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, rawURL, err)
		}
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}
