// Package app assembles and runs the SalePoint licensed application
// daemon.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"salepoint/internal/config"
	"salepoint/internal/infrastructure"
	"salepoint/internal/license"
	"salepoint/internal/security"
	"salepoint/internal/services"
	"salepoint/internal/store"
	transport "salepoint/internal/transport/http"
)

const (
	AppName = "SalePoint License Service"
	Version = "1.0.0"
)

// Application is the dependency container for the daemon.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Router    *chi.Mux
	Server    *http.Server
	Store     *store.Store
	Cache     *license.DecodeCache
	Limiter   *license.AttemptLimiter
	Telemetry *infrastructure.Telemetry
	Licenses  services.LicenseService
}

// New builds the application: config, logger, telemetry, storage, license
// core, services, and the HTTP router.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	telemetry, err := infrastructure.InitializeTelemetry()
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	metrics, err := license.NewMetrics(telemetry.Meter())
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}

	codec, err := license.NewKeyCodec(cfg.License.Secret)
	if err != nil {
		st.Close()
		return nil, err
	}

	cache := license.NewDecodeCache(cfg.License.CacheTTL, cfg.License.CacheMaxSize)
	limiter := license.NewAttemptLimiter(cfg.License.MaxAttempts, cfg.License.BlockDuration, cfg.License.AttemptWindow)
	ledger := license.NewActivationLedger(st, logger)
	device := security.NewFingerprintProvider()

	licenseService := services.NewLicenseService(codec, ledger, device, st, cache, limiter, metrics, logger)

	app := &Application{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Cache:     cache,
		Limiter:   limiter,
		Telemetry: telemetry,
		Licenses:  licenseService,
	}
	app.Router = app.buildRouter()
	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return app, nil
}

func (a *Application) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(infrastructure.TraceRequests)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	licenseHandler := transport.NewLicenseHandler(a.Licenses, a.Logger)
	r.Mount("/api/license", licenseHandler.Routes())

	r.Handle("/metrics", a.Telemetry.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok", "version": Version})
	})
	return r
}

// Run starts the HTTP server and blocks until a termination signal, then
// shuts down gracefully.
func (a *Application) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		a.shutdownDependencies()
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		a.Logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	a.shutdownDependencies()
	a.Logger.Info("application stopped")
	return nil
}

func (a *Application) shutdownDependencies() {
	a.Cache.Stop()
	a.Limiter.Stop()
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("store close failed", slog.String("error", err.Error()))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Telemetry.MeterProvider.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
	infrastructure.CloseLogFile()
}
