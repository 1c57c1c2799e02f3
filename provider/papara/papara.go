// Package papara implements the Papara wallet gateway.
package papara

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mstgnz/donatepay/provider"
	"github.com/shopspring/decimal"
)

const (
	apiSandboxURL    = "https://merchant-api.test.papara.com"
	apiProductionURL = "https://merchant-api.papara.com"

	endpointPayments = "/payments"
	endpointAccount  = "/account"

	signatureHeader = "X-Papara-Signature"
)

// Papara payment status codes
const (
	statusPending   = 0
	statusCompleted = 1
	statusRefunded  = 2
)

// currencyCodes maps Papara's numeric currency field to ISO codes
var currencyCodes = map[string]string{"0": "TRY", "1": "USD", "2": "EUR", "3": "GBP"}

// Provider implements provider.PaymentProvider for Papara
type Provider struct {
	apiKey          string
	webhookSecret   string
	notificationURL string
	redirectURL     string
	config          map[string]string
	httpClient      *provider.ProviderHTTPClient
}

// NewProvider creates a new Papara payment provider
func NewProvider() provider.PaymentProvider {
	return &Provider{}
}

func (p *Provider) Type() provider.ProviderType {
	return provider.Papara
}

// RequiredConfig returns the configuration fields required for Papara
func (p *Provider) RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "apiKey",
			Required:    true,
			Type:        "string",
			Description: "Papara API Key (provided by Papara)",
			Example:     "12345678-1234-1234-1234-123456789012",
			MinLength:   32,
			MaxLength:   100,
		},
		{
			Key:         "notificationUrl",
			Required:    true,
			Type:        "url",
			Description: "URL Papara posts payment notifications to",
			Example:     "https://donate.example.org/webhooks/papara",
		},
		{
			Key:         "redirectUrl",
			Required:    true,
			Type:        "url",
			Description: "URL the donor returns to after paying",
			Example:     "https://donate.example.org/payments/done",
		},
		{
			Key:         "environment",
			Required:    false,
			Type:        "string",
			Description: "Environment setting (sandbox or production)",
			Example:     "sandbox",
			Pattern:     "^(sandbox|production)$",
		},
	}
}

// Initialize sets up the Papara provider
func (p *Provider) Initialize(conf map[string]string) error {
	p.config = conf
	p.apiKey = conf["apiKey"]
	p.notificationURL = conf["notificationUrl"]
	p.redirectURL = conf["redirectUrl"]
	p.webhookSecret = conf["webhookSecret"]
	if p.webhookSecret == "" {
		p.webhookSecret = p.apiKey
	}

	if p.apiKey == "" {
		return fmt.Errorf("%w: papara: apiKey is required", provider.ErrConfig)
	}

	baseURL := conf["baseUrl"]
	if baseURL == "" {
		baseURL = apiSandboxURL
		if conf["environment"] == "production" {
			baseURL = apiProductionURL
		}
	}

	httpConfig := provider.CreateHTTPClientConfig(provider.Papara, baseURL, provider.ParseTimeout(conf["timeout"]))
	httpConfig.DefaultHeaders["ApiKey"] = p.apiKey
	p.httpClient = provider.NewProviderHTTPClient(httpConfig)
	return nil
}

func (p *Provider) IsConfigured() bool {
	return p.httpClient != nil && provider.ValidateConfigFields("papara", p.config, p.RequiredConfig()) == nil
}

// CreatePayment opens a wallet payment and returns its checkout URL
func (p *Provider) CreatePayment(ctx context.Context, request provider.CreatePaymentRequest) (*provider.CreatePaymentResponse, error) {
	if !request.Amount.IsPositive() {
		return nil, provider.ValidationError(provider.Papara, "createPayment", "amount must be greater than 0")
	}
	if p.notificationURL == "" || p.redirectURL == "" {
		return nil, provider.ValidationError(provider.Papara, "createPayment", "notificationUrl and redirectUrl must be configured")
	}
	if request.ReferenceID == "" {
		return nil, provider.ValidationError(provider.Papara, "createPayment", "referenceId is required")
	}

	description := request.Description
	if description == "" {
		description = "Donation " + request.ReferenceID
	}

	data, raw, err := p.call(ctx, "createPayment", http.MethodPost, endpointPayments, nil, map[string]any{
		"amount":           request.Amount.Round(2).InexactFloat64(),
		"referenceId":      request.ReferenceID,
		"orderDescription": description,
		"notificationUrl":  p.notificationURL,
		"redirectUrl":      p.redirectURL,
	})
	if err != nil {
		return nil, err
	}

	id := provider.StringField(data, "id")
	if id == "" {
		return nil, provider.NewError(provider.ErrUpstream, provider.Papara, "createPayment", "response has no payment id")
	}

	return &provider.CreatePaymentResponse{
		ID:          id,
		URL:         provider.StringField(data, "paymentUrl"),
		Status:      provider.OutcomePending,
		RawResponse: raw,
	}, nil
}

// GetPaymentStatus queries a payment by id
func (p *Provider) GetPaymentStatus(ctx context.Context, transactionID string) (*provider.PaymentStatusResult, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, provider.ValidationError(provider.Papara, "getStatus", "transaction id is required")
	}

	data, raw, err := p.call(ctx, "getStatus", http.MethodGet, endpointPayments, map[string]string{"id": transactionID}, nil)
	if err != nil {
		return nil, err
	}

	return &provider.PaymentStatusResult{
		Outcome:       MapStatus(provider.StringField(data, "status")),
		TransactionID: firstNonEmpty(provider.StringField(data, "id"), transactionID),
		Amount:        provider.DecimalField(data, "amount"),
		Currency:      currency(data),
		Raw:           raw,
	}, nil
}

// GetAvailablePaymentMethods returns the wallet itself; Papara has no method selection
func (p *Provider) GetAvailablePaymentMethods(ctx context.Context, amount decimal.Decimal, currency string) ([]provider.PaymentMethod, error) {
	if !amount.IsPositive() {
		return nil, provider.ValidationError(provider.Papara, "listMethods", "amount must be greater than 0")
	}
	return []provider.PaymentMethod{{
		ID:            "papara",
		Code:          "papara",
		Name:          "Papara Wallet",
		ServiceCharge: decimal.Zero,
		TotalAmount:   amount,
		Currency:      strings.ToUpper(currency),
	}}, nil
}

// HandleWebhook normalizes a payment notification. Papara posts the payment
// object itself, optionally wrapped in a data envelope.
func (p *Provider) HandleWebhook(ctx context.Context, payload []byte) (*provider.WebhookEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, provider.ValidationError(provider.Papara, "webhook", "payload is not valid JSON")
	}

	data := provider.MapField(raw, "data")
	if data == nil {
		data = raw
	}

	event := &provider.WebhookEvent{
		TransactionID: provider.StringField(data, "id", "paymentId"),
		Status:        MapStatus(provider.StringField(data, "status")),
		Amount:        provider.DecimalField(data, "amount"),
		Currency:      currency(data),
		Timestamp:     provider.TimeField(data, "updatedAt", "createdAt"),
		EventType:     firstNonEmpty(provider.StringField(raw, "eventType"), "payment.notification"),
		Raw:           raw,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if email := provider.StringField(data, "email", "userEmail"); email != "" {
		event.Customer = &provider.Customer{Email: email, Name: provider.StringField(data, "userName", "name")}
	}
	return event, nil
}

// ValidateWebhook checks X-Papara-Signature, a base64 HMAC-SHA256 of the raw body
func (p *Provider) ValidateWebhook(ctx context.Context, payload []byte, headers http.Header) bool {
	signature := headers.Get(signatureHeader)
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(payload, p.webhookSecret)))
}

// Sign generates the webhook signature for a payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// HealthCheck reads the merchant account, which has no side effects
func (p *Provider) HealthCheck(ctx context.Context) provider.HealthResult {
	start := time.Now()
	_, _, err := p.call(ctx, "healthCheck", http.MethodGet, endpointAccount, nil, nil)
	return provider.ClassifyHealth(err, time.Since(start))
}

// MapStatus maps Papara's numeric or named status to the canonical outcome.
// A refunded payment was paid first, so it stays paid.
func MapStatus(status string) provider.Outcome {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case fmt.Sprint(statusCompleted), "COMPLETED", fmt.Sprint(statusRefunded), "REFUNDED":
		return provider.OutcomePaid
	case "FAILED", "CANCELLED", "CANCELED":
		return provider.OutcomeFailed
	default:
		return provider.OutcomePending
	}
}

// call sends a request and unwraps the succeeded/data/error envelope
func (p *Provider) call(ctx context.Context, op, method, endpoint string, query map[string]string, body any) (map[string]any, map[string]any, error) {
	if p.httpClient == nil {
		return nil, nil, provider.NewError(provider.ErrConfig, provider.Papara, op, "provider is not initialized")
	}

	resp, err := p.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Op:          op,
		Method:      method,
		Endpoint:    endpoint,
		Body:        body,
		QueryParams: query,
	})

	var raw map[string]any
	if resp != nil {
		raw = provider.DecodeRaw(resp.Body)
	}
	if err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) && perr.StatusCode == http.StatusBadRequest && looksNotFound(raw) {
			perr.Kind = provider.ErrUpstreamNotFound
		}
		return nil, nil, err
	}

	if ok, _ := raw["succeeded"].(bool); !ok {
		e := provider.MapField(raw, "error")
		kind := provider.ErrUpstream
		if looksNotFound(raw) {
			kind = provider.ErrUpstreamNotFound
		}
		return nil, nil, &provider.Error{
			Kind:       kind,
			Provider:   provider.Papara,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    firstNonEmpty(provider.StringField(e, "message"), "request was not successful"),
		}
	}

	data := provider.MapField(raw, "data")
	if data == nil {
		data = map[string]any{}
	}
	return data, raw, nil
}

func looksNotFound(raw map[string]any) bool {
	msg := strings.ToLower(provider.StringField(provider.MapField(raw, "error"), "message"))
	return strings.Contains(msg, "not found") || strings.Contains(msg, "bulunamad")
}

func currency(data map[string]any) string {
	c := provider.StringField(data, "currency")
	if iso, ok := currencyCodes[c]; ok {
		return iso
	}
	return strings.ToUpper(c)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
