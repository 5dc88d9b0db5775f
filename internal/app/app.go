// Package app wires the marketplace core together: storage, external
// providers, domain services, HTTP surface, and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/velstore/marketplace-core/internal/domain/delivery"
	"github.com/velstore/marketplace-core/internal/domain/order"
	"github.com/velstore/marketplace-core/internal/domain/recon"
	"github.com/velstore/marketplace-core/internal/events"
	"github.com/velstore/marketplace-core/internal/handler"
	"github.com/velstore/marketplace-core/internal/razorpay"
	"github.com/velstore/marketplace-core/internal/redisx"
	"github.com/velstore/marketplace-core/internal/shiprocket"
	"github.com/velstore/marketplace-core/internal/storage/postgres"
	"github.com/velstore/marketplace-core/pkg/health"
	"github.com/velstore/marketplace-core/pkg/httpmiddleware"
)

// dedupExpectedEvents sizes the in-memory bloom filter fronting the durable
// webhook ledger.
const dedupExpectedEvents = 1_000_000

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, _ *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(500*time.Millisecond))

	// Redis backs webhook dedup and partner token caching. Without it the
	// durable ledger in postgres still dedups event publication.
	var redisClient *redisx.Client
	if cfg.RedisAddr != "" {
		redisClient, err = redisx.New(ctx, cfg.RedisAddr)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = redisClient.Close() }()
		healthSvc.AddReadinessCheck("redis", 5*time.Second, redisClient.Ping)
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	deliveryRepo := postgres.NewDeliveryRepository(pool)
	reconStore := postgres.NewReconStore(pool, orderRepo, deliveryRepo)
	eventLedger := postgres.NewEventLedger(pool)

	// Event publisher.
	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, "marketplace-core")
		defer func() { _ = kafkaPublisher.Close() }()
		publisher = kafkaPublisher
	}

	// External providers.
	gateway := razorpay.NewClient(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.WebhookSecret)

	var tokenCache shiprocket.TokenCache
	if redisClient != nil {
		tokenCache = redisClient
	}
	var partnerOpts []shiprocket.Option
	if cfg.Shiprocket.BaseURL != "" {
		partnerOpts = append(partnerOpts, shiprocket.WithBaseURL(cfg.Shiprocket.BaseURL))
	}
	partner := shiprocket.NewClient(tokenCache, partnerOpts...)

	// Domain services.
	orderService := order.NewService(catalogRepo, orderRepo, gateway, publisher, cfg.Currency)
	deliveryService := delivery.NewService(partner, deliveryRepo, deliveryRepo)

	var dedupStore recon.DedupStore = eventLedger
	if redisClient != nil {
		dedupStore = redisClient
	}
	deduper := recon.NewDeduper(dedupStore, dedupExpectedEvents, 0.001)
	reconService := recon.NewService(reconStore, catalogRepo, gateway.Signer(), publisher, deduper)

	// HTTP handlers.
	h := handler.NewHandler(
		orderService,
		orderRepo,
		deliveryService,
		reconService,
		gateway,
		[]byte(cfg.Shiprocket.WebhookSecret),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-Buyer-ID", "X-Seller-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
