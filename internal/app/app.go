package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	checkout, err := cfg.Checkout.Order()
	if err != nil {
		return err
	}
	rates, err := cfg.Tax.Rates()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.WaitReady(ctx, pool, cfg.DatabaseWait); err != nil {
		return errors.Wrap(err, "wait for db")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New(lg)
	healthSvc.AddReadinessCheck("postgres", health.PingCheck("postgres", pool), health.CheckOptions{})
	healthSvc.AddLivenessCheck("goroutines", health.GoroutineCountCheck(10000), health.CheckOptions{Timeout: time.Second})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	products := postgres.NewProductRepository(pool)
	options := postgres.NewOptionRepository(pool)
	tags := postgres.NewTaggingRepository(pool)
	promotions := postgres.NewPromotionRepository(pool)

	// Domain services.
	orderService, err := order.NewService(order.Deps{
		Orders:         postgres.NewOrderRepository(pool),
		Variants:       products,
		Users:          postgres.NewUserRepository(pool),
		Promotions:     promotion.NewRepoValidator(promotions),
		PromotionUses:  promotions,
		PaymentMethods: postgres.NewPaymentMethodRepository(pool),
		Stock:          postgres.NewStockRepository(pool),
	}, checkout,
		order.WithTaxRates(rates...),
		order.WithComparators(cfg.Checkout.Comparator()),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	productService := product.NewService(products, options, tags)
	authenticator := auth.NewAuthenticator(postgres.NewAPIKeyRepository(pool), []byte(cfg.APIKeyPepper))

	// Router: health endpoints + API routes on one server.
	root := chi.NewRouter()
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/api", handler.New(productService, orderService, authenticator).Routes())
	routeFinder := httpmiddleware.MakeRouteFinder(root)

	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: httpmiddleware.KeyByHeader(handler.APIKeyHeader),
	})
	go limiter.Run(ctx)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(root,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			limiter.Middleware(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
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
