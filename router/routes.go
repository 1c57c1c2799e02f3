package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mstgnz/donatepay/handler"
	"github.com/mstgnz/donatepay/infra/middle"
	"github.com/mstgnz/donatepay/infra/response"
)

// Handlers groups the HTTP handlers mounted by Routes
type Handlers struct {
	Payment        *handler.PaymentHandler
	Webhook        *handler.WebhookHandler
	Reconciliation *handler.ReconciliationHandler
	Health         *handler.HealthHandler
}

// Options configures the middleware stack
type Options struct {
	APIKey         string
	IPWhitelist    []string
	RateLimiter    *middle.RateLimiter
	AllowedOrigins []string
}

// New builds the root router with the full middleware stack
func New(h Handlers, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middle.RequestLoggingMiddleware())
	r.Use(middle.PanicRecoveryMiddleware())

	// Security Middleware
	r.Use(middle.SecurityHeadersMiddleware())
	if opts.RateLimiter != nil {
		r.Use(middle.RateLimitMiddleware(opts.RateLimiter))
	}
	r.Use(middle.RequestValidationMiddleware())

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           300, // Preflight cache time (second)
	}))

	Routes(r, h, opts)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "Not Found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
	})

	return r
}

// Routes mounts the public, webhook and operational endpoints
func Routes(r chi.Router, h Handlers, opts Options) {
	if h.Health != nil {
		r.Get("/health", h.Health.CheckHealth)
	}

	if h.Payment != nil {
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.Payment.CreatePayment)
			r.Get("/{transactionId}/status", h.Payment.GetPaymentStatus)
		})

		r.Route("/payment-methods", func(r chi.Router) {
			r.Get("/available", h.Payment.GetAvailableMethods)
			r.Get("/health", h.Payment.GetProviderHealth)
		})
	}

	// Gateways authenticate with signatures, not the API key
	if h.Webhook != nil {
		r.Post("/webhooks/{providerType}", h.Webhook.HandleWebhook)
	}

	if h.Reconciliation != nil {
		r.Route("/reconciliation", func(r chi.Router) {
			r.Use(middle.IPWhitelistMiddleware(opts.IPWhitelist))
			r.Use(middle.AuthMiddleware(opts.APIKey))

			r.Post("/run", h.Reconciliation.Run)
			r.Post("/run/{paymentId}", h.Reconciliation.RunPayment)
			r.Get("/stats", h.Reconciliation.Stats)
			r.Get("/payments/{paymentId}/history", h.Reconciliation.History)
		})
	}
}
