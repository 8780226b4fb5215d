package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-store/internal/domain/admin"
	"github.com/xenking/kart-store/internal/domain/auth"
	"github.com/xenking/kart-store/internal/domain/cart"
	"github.com/xenking/kart-store/internal/domain/checkout"
	"github.com/xenking/kart-store/internal/domain/order"
	"github.com/xenking/kart-store/internal/domain/refund"
	"github.com/xenking/kart-store/internal/handler"
	"github.com/xenking/kart-store/pkg/health"
	"github.com/xenking/kart-store/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("payments", cfg.Payments.Provider),
	)
	ctx = zctx.Base(ctx, lg)

	healthSvc := health.New()

	store, err := openStorage(ctx, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer store.close()

	idem, closeIdem, err := newIdempotencyStore(ctx, cfg.Redis, healthSvc)
	if err != nil {
		return err
	}
	defer closeIdem()

	publisher, closePublisher := newPublisher(ctx, cfg.Kafka)
	defer closePublisher()

	adapter, err := newPaymentAdapter(cfg.Payments)
	if err != nil {
		return err
	}

	metrics, err := order.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create order metrics")
	}
	opts := []order.Option{
		order.WithPublisher(publisher),
		order.WithMetrics(metrics),
		order.WithTracerProvider(m.TracerProvider()),
	}

	// Domain services.
	orderService := order.NewService(store.orders, adapter, opts...)
	refunds := refund.NewCoordinator(orderService, adapter)
	checkoutService := checkout.NewService(
		cart.NewValidator(store.products),
		order.NewFactory(store.orders, opts...),
		orderService,
		idem,
	)

	h := handler.New(handler.Deps{
		Products:      store.products,
		Checkout:      checkoutService,
		Orders:        orderService,
		Admin:         admin.NewSurface(auth.ScopeAuthorizer{Scope: auth.ScopeAdmin}, orderService, refunds),
		Authenticator: auth.NewAuthenticator(store.apikeys, []byte(cfg.APIKeyPepper)),
	})

	// Expiry of unpaid orders.
	reaperBeat := &health.Heartbeat{}
	reaper := order.NewReaper(orderService, cfg.Orders.PendingTTL, cfg.Orders.ReaperInterval)
	reaper.OnPass = reaperBeat.Beat
	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go reaper.Run(reaperCtx)

	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("reaper", time.Second,
		health.HeartbeatCheck(reaperBeat, 3*cfg.Orders.ReaperInterval),
		health.WithThresholds(2, 1),
	)
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", "Idempotency-Key", httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Idempotent-Replayed"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   isProbe,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("kart-api", m),
		httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
		httpmiddleware.Labeler(httpmiddleware.ChiRoute),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(r)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Payments.Timeout*time.Duration(max(cfg.Payments.MaxAttempts, 1)) + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           r,
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

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz" || strings.HasPrefix(r.URL.Path, "/debug/")
}
