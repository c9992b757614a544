package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/amingione/fas-checkout/internal/config"
	"github.com/amingione/fas-checkout/internal/domain"
	"github.com/amingione/fas-checkout/internal/event"
	"github.com/amingione/fas-checkout/internal/gateway/carrier"
	"github.com/amingione/fas-checkout/internal/gateway/commerce"
	"github.com/amingione/fas-checkout/internal/gateway/payment"
	handler "github.com/amingione/fas-checkout/internal/handler/http"
	"github.com/amingione/fas-checkout/internal/repository/postgres"
	redisrepo "github.com/amingione/fas-checkout/internal/repository/redis"
	"github.com/amingione/fas-checkout/internal/service"
	"github.com/amingione/fas-checkout/migrations"
	"github.com/amingione/fas-checkout/pkg/database"
	"github.com/amingione/fas-checkout/pkg/health"
	"github.com/amingione/fas-checkout/pkg/httpclient"
	pkgkafka "github.com/amingione/fas-checkout/pkg/kafka"
	"github.com/amingione/fas-checkout/pkg/tracing"
)

// App wires together all dependencies and runs the checkout service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumer       *event.PaymentConsumer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "checkout",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool for the completion ledger.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "checkout")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Redis holds per-shopper checkout session state.
	redisCfg := database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	redisClient, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", redisCfg.Addr()))

	// Initialize Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Repositories and event publishing.
	ledger := postgres.NewCompletionLedger(pool)
	sessionStore := redisrepo.NewSessionStore(redisClient)
	eventProducer := event.NewProducer(producer, logger)

	// The saga client sends each request exactly once; retries around
	// non-idempotent completion steps would risk double side effects.
	// The commerce engine and payment gateway share a circuit breaker.
	sagaClient := httpclient.New(httpclient.NonRetryingConfig())

	cbCfg := httpclient.CircuitBreakerConfig{
		Name:         "checkout-downstream",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
	cbClient := httpclient.NewCircuitBreakerClient(sagaClient, cbCfg, logger).
		WithFallback(service.CircuitOpenFallback)
	logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
		slog.Int("timeout_seconds", cfg.CBTimeout),
		slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
	)

	// Rate quoting is read-only, so the carrier client may retry.
	carrierClient := httpclient.New(httpclient.DefaultConfig())

	commerceGW := commerce.NewClient(cbClient, cfg.CommerceEngineURL, logger)
	paymentGW := payment.NewClient(cbClient, cfg.PaymentGatewayURL, cfg.PaymentAPIKey, logger)
	carrierGW := carrier.NewClient(carrierClient, cfg.CarrierAPIURL, cfg.CarrierAPIKey, logger)

	// Services.
	fallbackParcel := domain.Parcel{
		WeightOunces: cfg.FallbackParcelWeightOz,
		LengthIn:     cfg.FallbackParcelLengthIn,
		WidthIn:      cfg.FallbackParcelWidthIn,
		HeightIn:     cfg.FallbackParcelHeightIn,
	}
	rateService := service.NewRateService(
		commerceGW,
		carrierGW,
		cfg.AllowedShippingMethods,
		fallbackParcel,
		time.Duration(cfg.RateQuoteTimeoutSecs)*time.Second,
		logger,
	)
	intentService := service.NewIntentService(commerceGW, paymentGW, logger)
	addressService := service.NewAddressSyncService(commerceGW, logger)
	completionService := service.NewCompletionService(
		ledger,
		commerceGW,
		paymentGW,
		eventProducer,
		logger,
		service.SagaTimeouts{
			PaymentTimeout:  time.Duration(cfg.SagaPaymentTimeout) * time.Second,
			CommerceTimeout: time.Duration(cfg.SagaCommerceTimeout) * time.Second,
		},
		cfg.PaymentProviderID,
	)
	sessionService := service.NewSessionService(
		sessionStore,
		time.Duration(cfg.SessionTTLMins)*time.Minute,
		logger,
	)

	// Payment-succeeded events trigger the same saga the HTTP endpoints do.
	// Events that keep failing with a retryable error land in the DLQ.
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	consumer := event.NewPaymentConsumer(pkgkafka.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaConsumerGroupID,
		Topic:   cfg.KafkaPaymentTopic,
	}, completionService, logger).WithDLQ(dlq)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	checkoutHandler := handler.NewCheckoutHandler(
		rateService,
		intentService,
		addressService,
		completionService,
		sessionService,
		logger,
	)
	webhookHandler := handler.NewWebhookHandler(completionService, cfg.WebhookSecret, logger)
	router := handler.NewRouter(checkoutHandler, webhookHandler, healthHandler, logger, cfg.PprofAllowedCIDRs)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		producer:       producer,
		dlq:            dlq,
		consumer:       consumer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and the Kafka consumer, blocking until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		a.logger.Info("starting payment event consumer")
		if err := a.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("payment consumer: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumer and producer
// 4. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Stop consuming payment events, then close the producer.
	if err := a.consumer.Close(); err != nil {
		a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Close client connections.
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
