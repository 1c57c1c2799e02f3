package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/mstgnz/donatepay/infra/logger"
	"github.com/shopspring/decimal"
)

// DefaultCapacity bounds how many providers a router accepts
const DefaultCapacity = 10

// Router holds the registered providers, tracks the active one and dispatches
// payment operations either to an explicitly named provider or to the active one.
type Router struct {
	mu        sync.RWMutex
	providers map[ProviderType]PaymentProvider
	order     []ProviderType
	active    ProviderType
	capacity  int
	now       func() time.Time
}

// NewRouter creates a router accepting at most capacity providers
func NewRouter(capacity int) *Router {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Router{
		providers: make(map[ProviderType]PaymentProvider),
		capacity:  capacity,
		now:       time.Now,
	}
}

// SetClock overrides the time source used by the expiry check
func (r *Router) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register adds a provider. An unconfigured provider is skipped with a warning
// unless skipConfigCheck is set. The first registered provider becomes active.
func (r *Router) Register(t ProviderType, p PaymentProvider, skipConfigCheck bool) error {
	if p == nil {
		return fmt.Errorf("%w: nil provider for '%s'", ErrConfig, t)
	}
	if !skipConfigCheck && !p.IsConfigured() {
		logger.Warn("Skipping unconfigured payment provider", logger.LogContext{Provider: string(t)})
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[t]; !exists {
		if len(r.providers) >= r.capacity {
			return fmt.Errorf("%w: capacity %d reached, cannot register '%s'", ErrRegistryFull, r.capacity, t)
		}
		r.order = append(r.order, t)
	}
	r.providers[t] = p

	if r.active == "" {
		r.active = t
	}

	logger.Info("Payment provider registered", logger.LogContext{
		Provider: string(t),
		Fields:   map[string]any{"active": r.active == t},
	})
	return nil
}

// LoadProviders instantiates every configured provider from the factory registry.
// preferred, when registered, becomes the active provider.
func (r *Router) LoadProviders(factories *FactoryRegistry, configs map[string]map[string]string, preferred string) {
	for _, t := range factories.Types() {
		cfg, ok := configs[string(t)]
		if !ok {
			continue
		}
		p, err := factories.Create(t, cfg)
		if err != nil {
			logger.Error("Failed to initialize payment provider", err, logger.LogContext{Provider: string(t)})
			continue
		}
		if err := r.Register(t, p, false); err != nil {
			logger.Error("Failed to register payment provider", err, logger.LogContext{Provider: string(t)})
		}
	}

	if preferred == "" {
		return
	}
	if err := r.SetActive(ProviderType(preferred)); err != nil {
		logger.Warn("PAYMENT_PROVIDER is not registered, keeping current active provider", logger.LogContext{
			Provider: preferred,
		})
	}
}

// SetActive makes a registered provider the default route
func (r *Router) SetActive(t ProviderType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[t]; !ok {
		return &Error{Kind: ErrConfig, Provider: t, Op: "setActive", Message: "provider is not registered"}
	}
	r.active = t
	return nil
}

// Unregister removes a provider. When it was active, the earliest remaining
// registration takes over, or no provider is active if none remain.
func (r *Router) Unregister(t ProviderType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[t]; !ok {
		return false
	}
	delete(r.providers, t)
	r.order = slices.DeleteFunc(r.order, func(o ProviderType) bool { return o == t })

	if r.active == t {
		r.active = ""
		if len(r.order) > 0 {
			r.active = r.order[0]
		}
	}
	return true
}

// Active returns the active provider type
func (r *Router) Active() (ProviderType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.active != ""
}

// Get returns a registered provider
func (r *Router) Get(t ProviderType) (PaymentProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	return p, ok
}

// GetRegisteredProviders returns provider types in registration order
func (r *Router) GetRegisteredProviders() []ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Resolve picks the named provider, or the active one when t is empty
func (r *Router) Resolve(t ProviderType) (PaymentProvider, ProviderType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t != "" {
		p, ok := r.providers[t]
		if !ok {
			return nil, t, &Error{Kind: ErrProviderNotFound, Provider: t, Op: "route"}
		}
		return p, t, nil
	}

	if r.active == "" {
		return nil, "", ErrNoActiveProvider
	}
	return r.providers[r.active], r.active, nil
}

// CreatePayment routes a payment creation and returns the provider that served it
func (r *Router) CreatePayment(ctx context.Context, t ProviderType, req CreatePaymentRequest) (*CreatePaymentResponse, ProviderType, error) {
	p, resolved, err := r.Resolve(t)
	if err != nil {
		return nil, resolved, err
	}

	start := time.Now()
	resp, err := p.CreatePayment(ctx, req)
	r.observe(resolved, "createPayment", start, err)
	if err != nil {
		return nil, resolved, err
	}
	resp.Status = OutcomePending
	return resp, resolved, nil
}

// GetStatus routes a status lookup and applies the expiry check to the result
func (r *Router) GetStatus(ctx context.Context, t ProviderType, transactionID string) (*PaymentStatusResult, error) {
	p, resolved, err := r.Resolve(t)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := p.GetPaymentStatus(ctx, transactionID)
	r.observe(resolved, "getStatus", start, err)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	now := r.now()
	r.mu.RUnlock()

	if ApplyExpiry(result, now) {
		logger.Info("Pending payment expired at gateway, forcing failed", logger.LogContext{
			Provider: string(resolved),
			Fields:   map[string]any{"transactionId": transactionID},
		})
	}
	return result, nil
}

// AvailableMethods routes a payment method listing
func (r *Router) AvailableMethods(ctx context.Context, t ProviderType, amount decimal.Decimal, currency string) ([]PaymentMethod, error) {
	p, resolved, err := r.Resolve(t)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	methods, err := p.GetAvailablePaymentMethods(ctx, amount, currency)
	r.observe(resolved, "listMethods", start, err)
	return methods, err
}

// HandleWebhook validates the signature when the provider supports it and
// normalizes the payload. The provider must be named explicitly.
func (r *Router) HandleWebhook(ctx context.Context, t ProviderType, payload []byte, headers http.Header) (*WebhookEvent, error) {
	if t == "" {
		return nil, ValidationError("", "webhook", "provider type is required")
	}
	p, resolved, err := r.Resolve(t)
	if err != nil {
		return nil, err
	}

	if v, ok := p.(WebhookValidator); ok && !v.ValidateWebhook(ctx, payload, headers) {
		logger.Warn("Rejected webhook with invalid signature", logger.LogContext{Provider: string(resolved)})
		return nil, &Error{Kind: ErrInvalidSignature, Provider: resolved, Op: "webhook"}
	}

	start := time.Now()
	event, err := p.HandleWebhook(ctx, payload)
	r.observe(resolved, "handleWebhook", start, err)
	return event, err
}

// HealthCheck checks one provider, or the active one when t is empty
func (r *Router) HealthCheck(ctx context.Context, t ProviderType) (HealthResult, error) {
	p, resolved, err := r.Resolve(t)
	if err != nil {
		return HealthResult{}, err
	}
	return checkHealth(ctx, resolved, p), nil
}

// HealthCheckAll checks every registered provider concurrently
func (r *Router) HealthCheckAll(ctx context.Context) []HealthResult {
	r.mu.RLock()
	types := slices.Clone(r.order)
	providers := make([]PaymentProvider, len(types))
	for i, t := range types {
		providers[i] = r.providers[t]
	}
	r.mu.RUnlock()

	results := make([]HealthResult, len(types))
	var wg sync.WaitGroup
	for i := range types {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = checkHealth(ctx, types[i], providers[i])
		}(i)
	}
	wg.Wait()
	return results
}

func checkHealth(ctx context.Context, t ProviderType, p PaymentProvider) HealthResult {
	if !p.IsConfigured() {
		return HealthResult{Provider: t, Status: HealthNotConfigured, CheckedAt: time.Now().UTC()}
	}
	res := p.HealthCheck(ctx)
	res.Provider = t
	res.ResponseMs = res.ResponseTime.Milliseconds()
	if res.CheckedAt.IsZero() {
		res.CheckedAt = time.Now().UTC()
	}
	return res
}

func (r *Router) observe(t ProviderType, op string, start time.Time, err error) {
	fields := map[string]any{
		"operation":  op,
		"durationMs": time.Since(start).Milliseconds(),
	}
	if err == nil {
		logger.Debug("Provider call completed", logger.LogContext{Provider: string(t), Fields: fields})
		return
	}

	var perr *Error
	if errors.As(err, &perr) {
		fields["kind"] = perr.Kind.Error()
		if perr.StatusCode != 0 {
			fields["statusCode"] = perr.StatusCode
		}
	}
	if errors.Is(err, ErrUpstreamNotFound) || errors.Is(err, ErrValidation) {
		logger.Warn("Provider call failed", logger.LogContext{Provider: string(t), Fields: withErr(fields, err)})
		return
	}
	logger.Error("Provider call failed", err, logger.LogContext{Provider: string(t), Fields: fields})
}

func withErr(fields map[string]any, err error) map[string]any {
	fields["error"] = err.Error()
	return fields
}
