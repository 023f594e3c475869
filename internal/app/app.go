package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nghednh/flowershop-checkout/internal/domain/cart"
	"github.com/nghednh/flowershop-checkout/internal/domain/loyalty"
	"github.com/nghednh/flowershop-checkout/internal/domain/order"
	"github.com/nghednh/flowershop-checkout/internal/domain/pricing"
	"github.com/nghednh/flowershop-checkout/internal/gateway"
	"github.com/nghednh/flowershop-checkout/internal/handler"
	"github.com/nghednh/flowershop-checkout/internal/repository"
	"github.com/nghednh/flowershop-checkout/pkg/health"
	"github.com/nghednh/flowershop-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	catalogRepo := repository.NewCatalogRepository(pool)
	addressRepo := repository.NewAddressRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	loyaltyRepo := repository.NewLoyaltyRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	var ruleRepo pricing.Repository = repository.NewPricingRuleRepository(pool)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		ruleRepo = repository.NewCachedRuleRepository(ruleRepo, rdb, cfg.RuleCacheTTL)
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	engine := pricing.NewEngine(ruleRepo)
	cartSvc := cart.NewService(cartRepo, catalogRepo, engine)
	ledger := loyalty.NewLedger(loyaltyRepo)

	// Loyalty values are validated in LoadConfig.
	accrualUnit, _ := decimal.NewFromString(cfg.Loyalty.AccrualUnit)
	redeemValue, _ := decimal.NewFromString(cfg.Loyalty.RedeemValue)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:        cfg.Gateway.BaseURL,
		APIKey:         cfg.Gateway.APIKey,
		RequestTimeout: cfg.Gateway.RequestTimeout,
		MaxElapsed:     cfg.Gateway.MaxElapsed,
	})
	orchestrator := order.NewOrchestrator(cartSvc, addressRepo, orderRepo, gw, order.LoyaltyPolicy{
		AccrualUnit: accrualUnit,
		RedeemValue: redeemValue,
	})

	// HTTP handlers.
	h := handler.New(
		handler.Config{
			CallbackSecret: cfg.CallbackSecret,
			APIKeyPepper:   cfg.APIKeyPepper,
		},
		cartSvc,
		orchestrator,
		ledger,
		apikeyRepo,
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", http.StripPrefix("/api", h.Router()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", m),
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
