package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderType identifies a payment gateway implementation
type ProviderType string

const (
	MyFatoorah ProviderType = "myfatoorah"
	Stripe     ProviderType = "stripe"
	Papara     ProviderType = "papara"
)

// Outcome is the canonical three-state result every gateway status maps into
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomePaid    Outcome = "paid"
	OutcomeFailed  Outcome = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (o Outcome) IsTerminal() bool {
	return o == OutcomePaid || o == OutcomeFailed
}

// HealthStatus classifies the result of a provider health check
type HealthStatus string

const (
	HealthHealthy       HealthStatus = "healthy"
	HealthUnhealthy     HealthStatus = "unhealthy"
	HealthNotConfigured HealthStatus = "not_configured"
)

// ConfigField represents a required configuration field for a payment provider
type ConfigField struct {
	Key         string `json:"key"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // "string", "number", "url", "email", "boolean"
	Description string `json:"description"`
	Example     string `json:"example"`
	Pattern     string `json:"pattern,omitempty"`
	MinLength   int    `json:"minLength,omitempty"`
	MaxLength   int    `json:"maxLength,omitempty"`
}

// Customer represents the donor information passed to the gateway
type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty"`
}

// CreatePaymentRequest carries everything a gateway needs to open a payment
type CreatePaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,len=3,alpha"`
	ReferenceID   string          `json:"referenceId,omitempty" validate:"max=128"`
	Description   string          `json:"description,omitempty" validate:"max=255"`
	Customer      *Customer       `json:"customer,omitempty" validate:"omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
}

// CreatePaymentResponse is returned once the gateway accepted the payment
type CreatePaymentResponse struct {
	ID          string         `json:"id"`
	URL         string         `json:"url,omitempty"`
	Status      Outcome        `json:"status"`
	RawResponse map[string]any `json:"rawResponse,omitempty"`
}

// PaymentStatusResult is the canonical view of a gateway status lookup
type PaymentStatusResult struct {
	Outcome       Outcome          `json:"outcome"`
	TransactionID string           `json:"transactionId"`
	PaymentID     string           `json:"paymentId,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Raw           map[string]any   `json:"raw,omitempty"`
}

// PaymentMethod is one method a gateway offers for a given amount
type PaymentMethod struct {
	ID            string          `json:"id"`
	Code          string          `json:"code,omitempty"`
	Name          string          `json:"name"`
	ImageURL      string          `json:"imageUrl,omitempty"`
	ServiceCharge decimal.Decimal `json:"serviceCharge"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Currency      string          `json:"currency"`
	Fallback      bool            `json:"fallback,omitempty"`
}

// WebhookEvent is a gateway callback normalized into canonical terms
type WebhookEvent struct {
	TransactionID string           `json:"transactionId"`
	Status        Outcome          `json:"status"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Customer      *Customer        `json:"customerInfo,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	EventType     string           `json:"eventType,omitempty"`
	Raw           map[string]any   `json:"-"`
}

// HealthResult describes one upstream health check
type HealthResult struct {
	Provider     ProviderType  `json:"provider"`
	Status       HealthStatus  `json:"status"`
	Configured   bool          `json:"configured"`
	ResponseTime time.Duration `json:"-"`
	ResponseMs   int64         `json:"responseTime"`
	Error        string        `json:"error,omitempty"`
	CheckedAt    time.Time     `json:"checkedAt"`
}

// PaymentProvider defines the interface that all payment gateways must implement
type PaymentProvider interface {
	// Type returns the registry tag of the gateway
	Type() ProviderType

	// Initialize sets up the payment provider with credentials and callback URLs
	Initialize(config map[string]string) error

	// RequiredConfig returns the configuration fields required for this provider
	RequiredConfig() []ConfigField

	// IsConfigured reports whether every required credential and URL is present
	IsConfigured() bool

	// CreatePayment opens a payment at the gateway; the result is always pending
	CreatePayment(ctx context.Context, request CreatePaymentRequest) (*CreatePaymentResponse, error)

	// GetPaymentStatus queries the gateway and maps the result to a canonical outcome
	GetPaymentStatus(ctx context.Context, transactionID string) (*PaymentStatusResult, error)

	// GetAvailablePaymentMethods lists methods with service charges, falling back to a static list
	GetAvailablePaymentMethods(ctx context.Context, amount decimal.Decimal, currency string) ([]PaymentMethod, error)

	// HandleWebhook normalizes a native callback payload
	HandleWebhook(ctx context.Context, payload []byte) (*WebhookEvent, error)

	// HealthCheck performs one side-effect-free upstream call
	HealthCheck(ctx context.Context) HealthResult
}

// WebhookValidator is implemented by gateways that sign their callbacks
type WebhookValidator interface {
	ValidateWebhook(ctx context.Context, payload []byte, headers http.Header) bool
}

// ProviderFactory is a function type that creates a new PaymentProvider
type ProviderFactory func() PaymentProvider
