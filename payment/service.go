// Package payment orchestrates payment creation and status refresh across the
// provider router, the payment store and the reconciliation engine.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/donatepay/infra/logger"
	"github.com/mstgnz/donatepay/notify"
	"github.com/mstgnz/donatepay/provider"
	"github.com/mstgnz/donatepay/store"
	"github.com/shopspring/decimal"
)

// Gateway is the routing surface the service needs; *provider.Router satisfies it
type Gateway interface {
	CreatePayment(ctx context.Context, t provider.ProviderType, req provider.CreatePaymentRequest) (*provider.CreatePaymentResponse, provider.ProviderType, error)
	GetStatus(ctx context.Context, t provider.ProviderType, transactionID string) (*provider.PaymentStatusResult, error)
	DetectProvider(ref provider.PaymentRef) (provider.ProviderType, bool)
	AvailableMethods(ctx context.Context, t provider.ProviderType, amount decimal.Decimal, currency string) ([]provider.PaymentMethod, error)
	HealthCheck(ctx context.Context, t provider.ProviderType) (provider.HealthResult, error)
	HealthCheckAll(ctx context.Context) []provider.HealthResult
	Active() (provider.ProviderType, bool)
}

// Tracker is the reconciliation registration hook
type Tracker interface {
	Track(p *store.Payment)
	Forget(paymentID string)
}

type nopTracker struct{}

func (nopTracker) Track(*store.Payment) {}
func (nopTracker) Forget(string)        {}

// CreateResult is returned to the client after a payment was opened
type CreateResult struct {
	PaymentID     string                `json:"paymentId"`
	TransactionID string                `json:"transactionId"`
	Provider      provider.ProviderType `json:"provider"`
	URL           string                `json:"url,omitempty"`
	Status        provider.Outcome      `json:"status"`
	Amount        decimal.Decimal       `json:"amount"`
	Currency      string                `json:"currency"`
	RawResponse   map[string]any        `json:"rawResponse,omitempty"`
}

// StatusResult is the refreshed view of one payment
type StatusResult struct {
	TransactionID string                `json:"transactionId"`
	PaymentID     string                `json:"paymentId,omitempty"`
	Provider      provider.ProviderType `json:"provider"`
	Status        provider.Outcome      `json:"status"`
	GatewayStatus provider.Outcome      `json:"gatewayStatus"`
	Updated       bool                  `json:"updated"`
	Stored        bool                  `json:"stored"`
	Amount        *decimal.Decimal      `json:"amount,omitempty"`
	Currency      string                `json:"currency,omitempty"`
}

// Service handles the client-facing payment operations
type Service struct {
	gateway  Gateway
	store    store.Store
	sink     notify.Sink
	tracker  Tracker
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a payment service. sink and tracker may be nil.
func NewService(gw Gateway, st store.Store, sink notify.Sink, tracker Tracker, validate *validator.Validate) *Service {
	if sink == nil {
		sink = notify.Nop{}
	}
	if tracker == nil {
		tracker = nopTracker{}
	}
	if validate == nil {
		validate = validator.New()
	}
	return &Service{
		gateway:  gw,
		store:    st,
		sink:     sink,
		tracker:  tracker,
		validate: validate,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreatePayment opens a payment at the named provider, or the active one when
// providerName is empty, stores it as pending and registers it for reconciliation.
func (s *Service) CreatePayment(ctx context.Context, providerName string, req provider.CreatePaymentRequest) (*CreateResult, error) {
	t := provider.ProviderType(strings.ToLower(strings.TrimSpace(providerName)))

	if err := s.validate.Struct(req); err != nil {
		return nil, provider.ValidationError(t, "createPayment", "%v", err)
	}
	if !req.Amount.IsPositive() {
		return nil, provider.ValidationError(t, "createPayment", "amount must be greater than zero")
	}
	req.Currency = strings.ToUpper(req.Currency)

	resp, resolved, err := s.gateway.CreatePayment(ctx, t, req)
	if err != nil {
		return nil, err
	}

	created, err := s.store.Create(ctx, &store.Payment{
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		TransactionID: resp.ID,
		Provider:      string(resolved),
		Status:        provider.OutcomePending,
		RawResponse:   store.EncodeRaw(resp.RawResponse),
	})
	if err != nil {
		// the gateway payment exists without a local row; a later webhook is acknowledged as unknown
		logger.Error("Gateway payment created but not stored", err, logger.LogContext{
			Provider: string(resolved),
			Fields:   map[string]any{"transactionId": resp.ID},
		})
		return nil, err
	}
	s.tracker.Track(created)

	logger.Info("Payment created", logger.LogContext{
		Provider:  string(resolved),
		PaymentID: created.ID,
		Fields: map[string]any{
			"transactionId": created.TransactionID,
			"amount":        created.Amount.String(),
			"currency":      created.Currency,
		},
	})

	return &CreateResult{
		PaymentID:     created.ID,
		TransactionID: created.TransactionID,
		Provider:      resolved,
		URL:           resp.URL,
		Status:        created.Status,
		Amount:        created.Amount,
		Currency:      created.Currency,
		RawResponse:   resp.RawResponse,
	}, nil
}

// RefreshStatus queries the gateway for a transaction. When the gateway
// reports a terminal outcome for a locally pending payment, the payment is
// transitioned and the sink notified. providerName overrides the stored provider.
func (s *Service) RefreshStatus(ctx context.Context, transactionID, providerName string) (*StatusResult, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, provider.ValidationError("", "getStatus", "transaction id is required")
	}

	p, err := s.store.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	t := provider.ProviderType(strings.ToLower(strings.TrimSpace(providerName)))
	if t == "" {
		ref := provider.PaymentRef{TransactionID: transactionID}
		if p != nil {
			ref.Provider = p.Provider
			ref.Raw = p.Raw()
		}
		// unresolved falls through to the active provider
		t, _ = s.gateway.DetectProvider(ref)
	}

	result, err := s.gateway.GetStatus(ctx, t, transactionID)
	if err != nil {
		return nil, err
	}
	if t == "" {
		t, _ = s.gateway.Active()
	}

	out := &StatusResult{
		TransactionID: transactionID,
		Provider:      t,
		Status:        result.Outcome,
		GatewayStatus: result.Outcome,
		Amount:        result.Amount,
		Currency:      result.Currency,
	}
	if p == nil {
		return out, nil
	}

	out.PaymentID = p.ID
	out.Stored = true
	out.Status = p.Status

	if p.Status.IsTerminal() || !result.Outcome.IsTerminal() {
		return out, nil
	}

	changed, err := s.transition(ctx, p, t, result)
	if err != nil {
		return nil, err
	}
	if changed {
		out.Status = result.Outcome
		out.Updated = true
		return out, nil
	}

	current, err := s.store.FindByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		out.Status = current.Status
	}
	return out, nil
}

func (s *Service) transition(ctx context.Context, p *store.Payment, t provider.ProviderType, result *provider.PaymentStatusResult) (bool, error) {
	now := s.now()
	elapsed := now.Sub(p.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	const reason = "status refresh"

	raw, err := store.WithAudit(p.RawResponse, result.Raw, store.AuditEntry{
		At:             now,
		Source:         notify.SourceStatusRefresh,
		Reason:         reason,
		PreviousStatus: p.Status,
		NewStatus:      result.Outcome,
		MinutesElapsed: float64(elapsed.Round(time.Second)/time.Second) / 60,
		ReferenceTime:  "createdAt",
	})
	if err != nil {
		return false, fmt.Errorf("failed to build audit entry: %w", err)
	}

	changed, err := s.store.Transition(ctx, p.ID, result.Outcome, raw)
	if err != nil || !changed {
		return false, err
	}

	s.tracker.Forget(p.ID)
	s.sink.Notify(ctx, notify.OutcomeChange{
		PaymentID:      p.ID,
		TransactionID:  p.TransactionID,
		Provider:       string(t),
		PreviousStatus: p.Status,
		NewStatus:      result.Outcome,
		Source:         notify.SourceStatusRefresh,
		Reason:         reason,
		Amount:         p.Amount,
		Currency:       p.Currency,
		At:             now,
		Raw:            result.Raw,
	})
	return true, nil
}

// AvailableMethods lists the payment methods of a provider for an amount
func (s *Service) AvailableMethods(ctx context.Context, providerName string, amount decimal.Decimal, currency string) ([]provider.PaymentMethod, error) {
	t := provider.ProviderType(strings.ToLower(strings.TrimSpace(providerName)))
	if !amount.IsPositive() {
		return nil, provider.ValidationError(t, "listMethods", "amount must be greater than zero")
	}
	if len(currency) != 3 {
		return nil, provider.ValidationError(t, "listMethods", "currency must be a 3-letter code")
	}
	return s.gateway.AvailableMethods(ctx, t, amount, strings.ToUpper(currency))
}

// Health checks one provider, or every registered provider when providerName is empty
func (s *Service) Health(ctx context.Context, providerName string) ([]provider.HealthResult, error) {
	t := provider.ProviderType(strings.ToLower(strings.TrimSpace(providerName)))
	if t == "" {
		return s.gateway.HealthCheckAll(ctx), nil
	}
	res, err := s.gateway.HealthCheck(ctx, t)
	if err != nil {
		return nil, err
	}
	return []provider.HealthResult{res}, nil
}
