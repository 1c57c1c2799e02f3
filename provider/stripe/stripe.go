// Package stripe implements the payment-intent based Stripe gateway.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mstgnz/donatepay/provider"
	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	apiURL     = "https://api.stripe.com"
	apiVersion = "2025-03-31.basil"

	endpointPaymentIntents        = "/v1/payment_intents"
	endpointPaymentIntentRetrieve = "/v1/payment_intents/%s"
	endpointAccount               = "/v1/account"

	signatureHeader = "Stripe-Signature"

	// healthSentinel is a payment intent id that never exists
	healthSentinel = "pi_donatepay_health_check"
)

// zeroDecimalCurrencies are charged in whole units rather than cents
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true, "KRW": true, "MGA": true,
	"PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// Provider implements provider.PaymentProvider for Stripe
type Provider struct {
	secretKey     string
	webhookSecret string
	returnURL     string
	config        map[string]string
	httpClient    *provider.ProviderHTTPClient
}

// NewProvider creates a new Stripe payment provider
func NewProvider() provider.PaymentProvider {
	return &Provider{}
}

func (p *Provider) Type() provider.ProviderType {
	return provider.Stripe
}

// RequiredConfig returns the configuration fields required for Stripe
func (p *Provider) RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "secretKey",
			Required:    true,
			Type:        "string",
			Description: "Stripe secret API key",
			Example:     "sk_test_...",
			Pattern:     "^(sk|rk)_(test|live)_",
		},
		{
			Key:         "webhookSecret",
			Required:    false,
			Type:        "string",
			Description: "Signing secret of the webhook endpoint",
			Example:     "whsec_...",
		},
		{
			Key:         "returnUrl",
			Required:    false,
			Type:        "url",
			Description: "URL the donor returns to after a redirect-based method",
		},
	}
}

// Initialize sets up the Stripe provider with its secret key
func (p *Provider) Initialize(conf map[string]string) error {
	p.config = conf
	p.secretKey = conf["secretKey"]
	p.webhookSecret = conf["webhookSecret"]
	p.returnURL = conf["returnUrl"]

	if p.secretKey == "" {
		return fmt.Errorf("%w: stripe: secretKey is required", provider.ErrConfig)
	}

	baseURL := conf["baseUrl"]
	if baseURL == "" {
		baseURL = apiURL
	}

	httpConfig := provider.CreateHTTPClientConfig(provider.Stripe, baseURL, provider.ParseTimeout(conf["timeout"]))
	httpConfig.DefaultHeaders["Authorization"] = "Bearer " + p.secretKey
	httpConfig.DefaultHeaders["Stripe-Version"] = apiVersion
	p.httpClient = provider.NewProviderHTTPClient(httpConfig)
	return nil
}

func (p *Provider) IsConfigured() bool {
	return p.httpClient != nil && provider.ValidateConfigFields("stripe", p.config, p.RequiredConfig()) == nil
}

// CreatePayment creates an unconfirmed payment intent. The client secret is
// returned in the raw response for the frontend to confirm with.
func (p *Provider) CreatePayment(ctx context.Context, request provider.CreatePaymentRequest) (*provider.CreatePaymentResponse, error) {
	if p.httpClient == nil {
		return nil, provider.NewError(provider.ErrConfig, provider.Stripe, "createPayment", "provider is not initialized")
	}
	if !request.Amount.IsPositive() {
		return nil, provider.ValidationError(provider.Stripe, "createPayment", "amount must be greater than 0")
	}
	if len(request.Currency) != 3 {
		return nil, provider.ValidationError(provider.Stripe, "createPayment", "currency must be a 3-letter code")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(ToMinorUnits(request.Amount, request.Currency), 10))
	form.Set("currency", strings.ToLower(request.Currency))
	if request.PaymentMethod != "" {
		form.Add("payment_method_types[]", request.PaymentMethod)
	} else {
		form.Set("automatic_payment_methods[enabled]", "true")
	}
	if request.Description != "" {
		form.Set("description", request.Description)
	}
	if request.ReferenceID != "" {
		form.Set("metadata[reference_id]", request.ReferenceID)
	}
	if c := request.Customer; c != nil {
		if c.Email != "" {
			form.Set("receipt_email", c.Email)
		}
		if c.Name != "" {
			form.Set("metadata[donor_name]", c.Name)
		}
	}

	headers := map[string]string{}
	if request.ReferenceID != "" {
		headers["Idempotency-Key"] = "donatepay-" + request.ReferenceID
	}

	resp, err := p.httpClient.SendForm(ctx, &provider.HTTPRequest{
		Op:       "createPayment",
		Method:   http.MethodPost,
		Endpoint: endpointPaymentIntents,
		Headers:  headers,
		FormData: form,
	})
	if err != nil {
		return nil, err
	}

	var intent stripego.PaymentIntent
	if err := p.httpClient.ParseJSONResponse(resp, &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, provider.NewError(provider.ErrUpstream, provider.Stripe, "createPayment", "response has no payment intent id")
	}

	result := &provider.CreatePaymentResponse{
		ID:          intent.ID,
		Status:      provider.OutcomePending,
		RawResponse: provider.DecodeRaw(resp.Body),
	}
	if intent.NextAction != nil && intent.NextAction.RedirectToURL != nil {
		result.URL = intent.NextAction.RedirectToURL.URL
	}
	return result, nil
}

// GetPaymentStatus retrieves a payment intent and maps its status
func (p *Provider) GetPaymentStatus(ctx context.Context, transactionID string) (*provider.PaymentStatusResult, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, provider.ValidationError(provider.Stripe, "getStatus", "transaction id is required")
	}

	intent, raw, err := p.retrieve(ctx, "getStatus", transactionID)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(string(intent.Currency))
	amount := FromMinorUnits(intent.Amount, currency)
	result := &provider.PaymentStatusResult{
		Outcome:       MapStatus(intent.Status),
		TransactionID: intent.ID,
		Amount:        &amount,
		Currency:      currency,
		Raw:           raw,
	}
	if intent.LatestCharge != nil {
		result.PaymentID = intent.LatestCharge.ID
	}
	return result, nil
}

// GetAvailablePaymentMethods derives methods from the account's active
// payment capabilities. Stripe does not charge the donor a service fee.
func (p *Provider) GetAvailablePaymentMethods(ctx context.Context, amount decimal.Decimal, currency string) ([]provider.PaymentMethod, error) {
	if !amount.IsPositive() {
		return nil, provider.ValidationError(provider.Stripe, "listMethods", "amount must be greater than 0")
	}
	currency = strings.ToUpper(currency)

	codes := []string{"card"}
	fallback := true

	if p.httpClient != nil {
		resp, err := p.httpClient.SendJSON(ctx, &provider.HTTPRequest{
			Op:       "listMethods",
			Method:   http.MethodGet,
			Endpoint: endpointAccount,
		})
		if err == nil {
			if active := activeMethods(provider.DecodeRaw(resp.Body)); len(active) > 0 {
				codes = active
				fallback = false
			}
		}
	}

	methods := make([]provider.PaymentMethod, 0, len(codes))
	for _, code := range codes {
		methods = append(methods, provider.PaymentMethod{
			ID:            code,
			Code:          code,
			Name:          methodName(code),
			ServiceCharge: decimal.Zero,
			TotalAmount:   amount,
			Currency:      currency,
			Fallback:      fallback,
		})
	}
	return methods, nil
}

// HandleWebhook normalizes a payment_intent.* event
func (p *Provider) HandleWebhook(ctx context.Context, payload []byte) (*provider.WebhookEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, provider.ValidationError(provider.Stripe, "webhook", "payload is not a valid event")
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, provider.ValidationError(provider.Stripe, "webhook", "event has no data object")
	}

	var intent stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil || intent.ID == "" {
		return nil, provider.ValidationError(provider.Stripe, "webhook", "event object is not a payment intent")
	}

	currency := strings.ToUpper(string(intent.Currency))
	amount := FromMinorUnits(intent.Amount, currency)
	out := &provider.WebhookEvent{
		TransactionID: intent.ID,
		Status:        MapStatus(intent.Status),
		Amount:        &amount,
		Currency:      currency,
		EventType:     string(event.Type),
		Timestamp:     time.Unix(event.Created, 0).UTC(),
		Raw:           provider.DecodeRaw(payload),
	}
	if event.Created == 0 {
		out.Timestamp = time.Now().UTC()
	}
	if intent.ReceiptEmail != "" || intent.Metadata["donor_name"] != "" {
		out.Customer = &provider.Customer{Name: intent.Metadata["donor_name"], Email: intent.ReceiptEmail}
	}
	return out, nil
}

// ValidateWebhook verifies the Stripe-Signature header. Without a configured
// signing secret every webhook is accepted.
func (p *Provider) ValidateWebhook(ctx context.Context, payload []byte, headers http.Header) bool {
	if p.webhookSecret == "" {
		return true
	}
	return webhook.ValidatePayload(payload, headers.Get(signatureHeader), p.webhookSecret) == nil
}

// HealthCheck retrieves a sentinel intent; resource_missing means reachable and authorized
func (p *Provider) HealthCheck(ctx context.Context) provider.HealthResult {
	start := time.Now()
	_, _, err := p.retrieve(ctx, "healthCheck", healthSentinel)
	return provider.ClassifyHealth(err, time.Since(start))
}

func (p *Provider) retrieve(ctx context.Context, op, id string) (*stripego.PaymentIntent, map[string]any, error) {
	if p.httpClient == nil {
		return nil, nil, provider.NewError(provider.ErrConfig, provider.Stripe, op, "provider is not initialized")
	}

	resp, err := p.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Op:       op,
		Method:   http.MethodGet,
		Endpoint: fmt.Sprintf(endpointPaymentIntentRetrieve, url.PathEscape(id)),
	})
	if err != nil {
		return nil, nil, err
	}

	var intent stripego.PaymentIntent
	if err := p.httpClient.ParseJSONResponse(resp, &intent); err != nil {
		return nil, nil, err
	}
	return &intent, provider.DecodeRaw(resp.Body), nil
}

// MapStatus maps a payment intent status to the canonical outcome.
// Everything short of succeeded or canceled can still complete.
func MapStatus(status stripego.PaymentIntentStatus) provider.Outcome {
	switch status {
	case stripego.PaymentIntentStatusSucceeded:
		return provider.OutcomePaid
	case stripego.PaymentIntentStatusCanceled:
		return provider.OutcomeFailed
	default:
		return provider.OutcomePending
	}
}

// ToMinorUnits converts an amount to the smallest currency unit Stripe expects
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts a Stripe amount back to major units
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	d := decimal.NewFromInt(amount)
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return d
	}
	return d.Shift(-2)
}

// activeMethods reads "<method>_payments": "active" entries of account capabilities
func activeMethods(raw map[string]any) []string {
	var codes []string
	for name, state := range provider.MapField(raw, "capabilities") {
		method, ok := strings.CutSuffix(name, "_payments")
		if ok && state == "active" {
			codes = append(codes, method)
		}
	}
	sort.Strings(codes)
	return codes
}

func methodName(code string) string {
	switch code {
	case "card":
		return "Card"
	case "sepa_debit":
		return "SEPA Direct Debit"
	case "us_bank_account":
		return "US Bank Account"
	}
	words := strings.Split(code, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
