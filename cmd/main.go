package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mstgnz/donatepay/handler"
	"github.com/mstgnz/donatepay/infra/config"
	"github.com/mstgnz/donatepay/infra/logger"
	"github.com/mstgnz/donatepay/infra/middle"
	"github.com/mstgnz/donatepay/router"
	"go.uber.org/fx"
)

const version = "1.0.0"

func init() {
	// Load Env; a missing file leaves the process environment as is
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Load Env Error: %v\n", err)
	}
}

func main() {
	app := fx.New(
		fx.Provide(config.LoadAppConfig),
		infraModule,
		paymentModule,

		fx.Provide(provideHTTPHandler),
		fx.Invoke(startServer),
	)

	app.Run()
}

func provideHTTPHandler(
	cfg *config.AppConfig,
	rateLimiter *middle.RateLimiter,
	paymentHandler *handler.PaymentHandler,
	webhookHandler *handler.WebhookHandler,
	reconciliationHandler *handler.ReconciliationHandler,
	healthHandler *handler.HealthHandler,
) http.Handler {
	return router.New(router.Handlers{
		Payment:        paymentHandler,
		Webhook:        webhookHandler,
		Reconciliation: reconciliationHandler,
		Health:         healthHandler,
	}, router.Options{
		APIKey:      cfg.APIKey,
		IPWhitelist: cfg.IPWhitelist,
		RateLimiter: rateLimiter,
	})
}

func startServer(lc fx.Lifecycle, cfg *config.AppConfig, h http.Handler) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           h,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      handler.MaxRunTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", server.Addr, err)
			}
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server stopped", err)
				}
			}()
			logger.Info("API is running", logger.LogContext{Fields: map[string]any{
				"port":        cfg.Port,
				"environment": cfg.Environment,
			}})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("API is shutting down", logger.LogContext{Fields: map[string]any{"port": cfg.Port}})
			return server.Shutdown(ctx)
		},
	})
}
