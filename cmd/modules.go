package main

import (
	"context"
	"time"

	"github.com/mstgnz/donatepay/handler"
	"github.com/mstgnz/donatepay/infra/config"
	"github.com/mstgnz/donatepay/infra/conn"
	"github.com/mstgnz/donatepay/infra/logger"
	"github.com/mstgnz/donatepay/infra/middle"
	"github.com/mstgnz/donatepay/infra/opensearch"
	"github.com/mstgnz/donatepay/notify"
	"github.com/mstgnz/donatepay/payment"
	"github.com/mstgnz/donatepay/provider"
	"github.com/mstgnz/donatepay/reconcile"
	"github.com/mstgnz/donatepay/store"
	"github.com/mstgnz/donatepay/webhook"
	"go.uber.org/fx"

	// Import for side-effect registration
	_ "github.com/mstgnz/donatepay/provider/myfatoorah"
	_ "github.com/mstgnz/donatepay/provider/papara"
	_ "github.com/mstgnz/donatepay/provider/stripe"
)

var infraModule = fx.Options(
	fx.Provide(
		provideOpenSearchLogger,
		provideDatabase,
		provideStore,
		provideRateLimiter,
	),
)

var paymentModule = fx.Options(
	fx.Provide(
		provideProviderRouter,
		provideSink,
		provideEngine,
		provideIngestor,
		providePaymentService,
		provideHandlers,
	),
)

// provideOpenSearchLogger also installs the global logger, so it runs first in the graph
func provideOpenSearchLogger(cfg *config.AppConfig) *opensearch.Logger {
	var osLogger *opensearch.Logger
	if cfg.EnableLogging {
		client, err := opensearch.NewClient(cfg)
		if err != nil {
			logger.Warn("Failed to initialize OpenSearch client, continuing without it", logger.LogContext{
				Fields: map[string]any{"error": err.Error()},
			})
		} else {
			osLogger = opensearch.NewLogger(client)
		}
	}

	logger.InitGlobalLogger(osLogger, cfg)
	return osLogger
}

func provideDatabase(lc fx.Lifecycle, cfg *config.AppConfig, _ *opensearch.Logger) (*conn.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := conn.ConnectDatabase(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.CloseDatabase()
		},
	})
	return db, nil
}

func provideStore(db *conn.DB) (store.Store, error) {
	st, err := store.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func provideRateLimiter(lc fx.Lifecycle, cfg *config.AppConfig) *middle.RateLimiter {
	rl := middle.NewRateLimiter(cfg.RateLimitPerMin)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			rl.Stop()
			return nil
		},
	})
	return rl
}

func provideProviderRouter(cfg *config.AppConfig, _ *opensearch.Logger) *provider.Router {
	providerConfig := config.NewProviderConfig()
	providerConfig.LoadFromEnv()

	r := provider.NewRouter(cfg.RegistryCapacity)
	r.LoadProviders(provider.DefaultFactories, providerConfigs(providerConfig, cfg.ProviderTimeout), cfg.PaymentProvider)

	if active, ok := r.Active(); ok {
		logger.Info("Payment provider router ready", logger.LogContext{
			Provider: string(active),
			Fields:   map[string]any{"registered": r.GetRegisteredProviders()},
		})
	} else {
		logger.Warn("No payment providers configured")
	}
	return r
}

// providerConfigs fills in the HTTP timeout for every configured provider that
// does not set its own
func providerConfigs(pc *config.ProviderConfig, timeout time.Duration) map[string]map[string]string {
	for _, name := range pc.GetAvailableProviders() {
		conf, err := pc.GetConfig(name)
		if err != nil || conf["timeout"] != "" {
			continue
		}
		conf["timeout"] = timeout.String()
		if err := pc.SetConfig(name, conf); err != nil {
			logger.Warn("Failed to apply provider timeout", logger.LogContext{
				Provider: name,
				Fields:   map[string]any{"error": err.Error()},
			})
		}
	}
	return pc.All()
}

func provideSink(lc fx.Lifecycle, osLogger *opensearch.Logger) notify.Sink {
	sinks := []notify.Sink{notify.LogSink{}}
	if osLogger != nil {
		osSink := notify.NewOpenSearchSink(osLogger)
		lc.Append(fx.Hook{
			OnStop: osSink.Wait,
		})
		sinks = append(sinks, osSink)
	}
	return notify.NewMulti(sinks...)
}

func provideEngine(lc fx.Lifecycle, cfg *config.AppConfig, st store.Store, r *provider.Router, sink notify.Sink) *reconcile.Engine {
	engine := reconcile.NewEngine(reconcile.Config{
		Timeout:       cfg.Reconciliation.Timeout,
		Interval:      cfg.Reconciliation.Interval,
		SweepInterval: cfg.Reconciliation.SweepInterval,
		BatchSize:     cfg.Reconciliation.BatchSize,
		CacheCapacity: cfg.Reconciliation.CacheCapacity,
		ItemTimeout:   cfg.ProviderTimeout,
	}, st, r, sink)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			engine.Start()
			return nil
		},
		OnStop: engine.Stop,
	})
	return engine
}

func provideIngestor(r *provider.Router, st store.Store, sink notify.Sink, engine *reconcile.Engine) *webhook.Ingestor {
	ingestor := webhook.NewIngestor(r, st, sink)
	ingestor.OnResolved(engine.Forget)
	return ingestor
}

func providePaymentService(r *provider.Router, st store.Store, sink notify.Sink, engine *reconcile.Engine) *payment.Service {
	return payment.NewService(r, st, sink, engine, config.App().Validator)
}

type handlers struct {
	fx.Out

	Payment        *handler.PaymentHandler
	Webhook        *handler.WebhookHandler
	Reconciliation *handler.ReconciliationHandler
	Health         *handler.HealthHandler
}

func provideHandlers(
	cfg *config.AppConfig,
	db *conn.DB,
	r *provider.Router,
	svc *payment.Service,
	ingestor *webhook.Ingestor,
	engine *reconcile.Engine,
	osLogger *opensearch.Logger,
) handlers {
	reconciliation := handler.NewReconciliationHandler(engine, engine.Config().Interval)
	if osLogger != nil {
		reconciliation.WithHistory(osLogger)
	}

	return handlers{
		Payment:        handler.NewPaymentHandler(svc, config.App().Validator),
		Webhook:        handler.NewWebhookHandler(ingestor),
		Reconciliation: reconciliation,
		Health:         handler.NewHealthHandler(db.DB, r, engine, cfg.Environment, version),
	}
}
