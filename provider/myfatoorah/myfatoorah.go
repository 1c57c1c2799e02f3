// Package myfatoorah implements the invoice-based MyFatoorah gateway.
package myfatoorah

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mstgnz/donatepay/provider"
	"github.com/shopspring/decimal"
)

const (
	apiSandboxURL    = "https://apitest.myfatoorah.com"
	apiProductionURL = "https://api.myfatoorah.com"

	endpointInitiatePayment  = "/v2/InitiatePayment"
	endpointExecutePayment   = "/v2/ExecutePayment"
	endpointSendPayment      = "/v2/SendPayment"
	endpointGetPaymentStatus = "/v2/GetPaymentStatus"

	keyTypeInvoice = "InvoiceId"
	keyTypePayment = "PaymentId"

	signatureHeader = "MyFatoorah-Signature"

	// healthSentinel is an invoice id that never exists
	healthSentinel = "0"
)

// fallbackMethods is advertised when InitiatePayment is unavailable
var fallbackMethods = []provider.PaymentMethod{
	{ID: "1", Code: "kn", Name: "KNET"},
	{ID: "2", Code: "vm", Name: "VISA/MASTER"},
}

// Provider implements provider.PaymentProvider for MyFatoorah
type Provider struct {
	apiKey        string
	baseURL       string
	callbackURL   string
	errorURL      string
	webhookSecret string
	language      string
	config        map[string]string
	httpClient    *provider.ProviderHTTPClient
}

// NewProvider creates a new MyFatoorah payment provider
func NewProvider() provider.PaymentProvider {
	return &Provider{}
}

// Type returns the registry tag
func (p *Provider) Type() provider.ProviderType {
	return provider.MyFatoorah
}

// RequiredConfig returns the configuration fields required for MyFatoorah
func (p *Provider) RequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "apiKey",
			Required:    true,
			Type:        "string",
			Description: "MyFatoorah API token",
			MinLength:   16,
		},
		{
			Key:         "callbackUrl",
			Required:    true,
			Type:        "url",
			Description: "URL the donor is sent to after a successful payment",
			Example:     "https://donate.example.org/payments/success",
		},
		{
			Key:         "errorUrl",
			Required:    true,
			Type:        "url",
			Description: "URL the donor is sent to after a failed payment",
			Example:     "https://donate.example.org/payments/error",
		},
		{
			Key:         "environment",
			Required:    false,
			Type:        "string",
			Description: "sandbox or production",
			Pattern:     "^(sandbox|production)$",
		},
		{
			Key:         "webhookSecret",
			Required:    false,
			Type:        "string",
			Description: "Webhook secret key used to verify MyFatoorah-Signature",
		},
	}
}

// Initialize sets up the provider from its configuration map
func (p *Provider) Initialize(conf map[string]string) error {
	p.config = conf
	p.apiKey = conf["apiKey"]
	p.callbackURL = conf["callbackUrl"]
	p.errorURL = conf["errorUrl"]
	p.webhookSecret = conf["webhookSecret"]
	p.language = conf["language"]
	if p.language == "" {
		p.language = "en"
	}

	if p.apiKey == "" {
		return fmt.Errorf("%w: myfatoorah: apiKey is required", provider.ErrConfig)
	}

	p.baseURL = conf["baseUrl"]
	if p.baseURL == "" {
		p.baseURL = apiSandboxURL
		if conf["environment"] == "production" {
			p.baseURL = apiProductionURL
		}
	}

	httpConfig := provider.CreateHTTPClientConfig(provider.MyFatoorah, p.baseURL, provider.ParseTimeout(conf["timeout"]))
	httpConfig.DefaultHeaders["Authorization"] = "Bearer " + p.apiKey
	p.httpClient = provider.NewProviderHTTPClient(httpConfig)
	return nil
}

// IsConfigured reports whether the token and both redirect URLs are present
func (p *Provider) IsConfigured() bool {
	return p.httpClient != nil && provider.ValidateConfigFields("myfatoorah", p.config, p.RequiredConfig()) == nil
}

// CreatePayment opens an invoice. With a payment method it executes the
// payment directly, otherwise it sends a payment link.
func (p *Provider) CreatePayment(ctx context.Context, request provider.CreatePaymentRequest) (*provider.CreatePaymentResponse, error) {
	if err := p.validateCreate(request); err != nil {
		return nil, err
	}

	body := map[string]any{
		"InvoiceValue":       request.Amount.Round(3).InexactFloat64(),
		"DisplayCurrencyIso": strings.ToUpper(request.Currency),
		"CallBackUrl":        p.callbackURL,
		"ErrorUrl":           p.errorURL,
		"CustomerReference":  request.ReferenceID,
		"Language":           p.language,
	}
	if request.Description != "" {
		body["UserDefinedField"] = request.Description
	}
	customerName := "Donor"
	if c := request.Customer; c != nil {
		if c.Name != "" {
			customerName = c.Name
		}
		if c.Email != "" {
			body["CustomerEmail"] = c.Email
		}
		if c.Phone != "" {
			body["CustomerMobile"] = c.Phone
		}
	}
	body["CustomerName"] = customerName

	endpoint := endpointSendPayment
	if request.PaymentMethod != "" {
		methodID, err := strconv.Atoi(request.PaymentMethod)
		if err != nil {
			return nil, provider.ValidationError(provider.MyFatoorah, "createPayment", "paymentMethod must be a numeric MyFatoorah method id")
		}
		body["PaymentMethodId"] = methodID
		endpoint = endpointExecutePayment
	} else {
		body["NotificationOption"] = "LNK"
	}

	raw, err := p.post(ctx, "createPayment", endpoint, body)
	if err != nil {
		return nil, err
	}

	data := provider.MapField(raw, "Data")
	invoiceID := provider.StringField(data, "InvoiceId")
	if invoiceID == "" {
		return nil, &provider.Error{Kind: provider.ErrUpstream, Provider: provider.MyFatoorah, Op: "createPayment", Message: "response has no InvoiceId"}
	}

	return &provider.CreatePaymentResponse{
		ID:          invoiceID,
		URL:         provider.StringField(data, "PaymentURL", "InvoiceURL"),
		Status:      provider.OutcomePending,
		RawResponse: raw,
	}, nil
}

// GetPaymentStatus looks the transaction up as an invoice id first and as a
// payment id when the invoice lookup reports not found.
func (p *Provider) GetPaymentStatus(ctx context.Context, transactionID string) (*provider.PaymentStatusResult, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, provider.ValidationError(provider.MyFatoorah, "getStatus", "transaction id is required")
	}

	raw, err := p.lookup(ctx, transactionID, keyTypeInvoice)
	if provider.IsNotFound(err) {
		raw, err = p.lookup(ctx, transactionID, keyTypePayment)
	}
	if err != nil {
		return nil, err
	}

	data := provider.MapField(raw, "Data")
	transactions := provider.SliceField(data, "InvoiceTransactions")
	attempts := make([]string, 0, len(transactions))
	paymentID, currency := "", ""
	for _, tx := range transactions {
		attempts = append(attempts, provider.StringField(tx, "TransactionStatus"))
		if id := provider.StringField(tx, "PaymentId"); id != "" {
			paymentID = id
		}
		if c := provider.StringField(tx, "PaidCurrency", "Currency"); c != "" && currency == "" {
			currency = c
		}
	}

	return &provider.PaymentStatusResult{
		Outcome:       provider.DeriveOutcome(provider.StringField(data, "InvoiceStatus"), attempts),
		TransactionID: firstNonEmpty(provider.StringField(data, "InvoiceId"), transactionID),
		PaymentID:     paymentID,
		Amount:        provider.DecimalField(data, "InvoiceValue"),
		Currency:      currency,
		Raw:           raw,
	}, nil
}

// GetAvailablePaymentMethods asks InitiatePayment for the methods and their
// service charges for this amount.
func (p *Provider) GetAvailablePaymentMethods(ctx context.Context, amount decimal.Decimal, currency string) ([]provider.PaymentMethod, error) {
	if !amount.IsPositive() {
		return nil, provider.ValidationError(provider.MyFatoorah, "listMethods", "amount must be greater than 0")
	}
	currency = strings.ToUpper(currency)

	raw, err := p.post(ctx, "listMethods", endpointInitiatePayment, map[string]any{
		"InvoiceAmount": amount.InexactFloat64(),
		"CurrencyIso":   currency,
	})
	if err != nil {
		return fallback(amount, currency), nil
	}

	entries := provider.SliceField(provider.MapField(raw, "Data"), "PaymentMethods")
	if len(entries) == 0 {
		return fallback(amount, currency), nil
	}

	methods := make([]provider.PaymentMethod, 0, len(entries))
	for _, m := range entries {
		charge := decimal.Zero
		if c := provider.DecimalField(m, "ServiceCharge"); c != nil {
			charge = *c
		}
		total := amount.Add(charge)
		if t := provider.DecimalField(m, "TotalAmount"); t != nil {
			total = *t
		}
		methods = append(methods, provider.PaymentMethod{
			ID:            provider.StringField(m, "PaymentMethodId"),
			Code:          provider.StringField(m, "PaymentMethodCode"),
			Name:          provider.StringField(m, "PaymentMethodEn", "PaymentMethodAr"),
			ImageURL:      provider.StringField(m, "ImageUrl"),
			ServiceCharge: charge,
			TotalAmount:   total,
			Currency:      firstNonEmpty(provider.StringField(m, "CurrencyIso"), currency),
		})
	}
	return methods, nil
}

// HandleWebhook normalizes a TransactionsStatusChanged notification
func (p *Provider) HandleWebhook(ctx context.Context, payload []byte) (*provider.WebhookEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, provider.ValidationError(provider.MyFatoorah, "webhook", "payload is not valid JSON")
	}

	data := provider.MapField(raw, "Data")
	if data == nil {
		data = raw
	}

	var attempts []string
	if s := provider.StringField(data, "TransactionStatus"); s != "" {
		attempts = append(attempts, s)
	}

	event := &provider.WebhookEvent{
		TransactionID: provider.StringField(data, "InvoiceId", "InvoiceID"),
		Status:        provider.DeriveOutcome(provider.StringField(data, "InvoiceStatus"), attempts),
		Amount:        provider.DecimalField(data, "InvoiceValueInDisplayCurreny", "InvoiceValueInDisplayCurrency", "InvoiceValueInBaseCurrency", "InvoiceValue"),
		Currency:      provider.StringField(data, "DisplayCurrency", "BaseCurrency", "PayCurrency"),
		Timestamp:     provider.TimeField(raw, "DateTime", "CreatedDate"),
		EventType:     provider.StringField(raw, "Event", "EventType"),
		Raw:           raw,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	name := provider.StringField(data, "CustomerName")
	email := provider.StringField(data, "CustomerEmail")
	phone := provider.StringField(data, "CustomerMobile")
	if name != "" || email != "" || phone != "" {
		event.Customer = &provider.Customer{Name: name, Email: email, Phone: phone}
	}

	return event, nil
}

// ValidateWebhook checks MyFatoorah-Signature: base64 HMAC-SHA256 over the
// Data fields sorted by name and joined as "key=value,key=value". Without a
// configured secret every webhook is accepted.
func (p *Provider) ValidateWebhook(ctx context.Context, payload []byte, headers http.Header) bool {
	if p.webhookSecret == "" {
		return true
	}

	signature := headers.Get(signatureHeader)
	if signature == "" {
		return false
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return false
	}
	data := provider.MapField(raw, "Data")
	if data == nil {
		return false
	}

	expected := Sign(data, p.webhookSecret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Sign computes the MyFatoorah webhook signature for a Data object
func Sign(data map[string]any, secret string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := provider.StringField(data, k)
		if data[k] != nil && v == "" {
			if b, err := json.Marshal(data[k]); err == nil {
				v = string(b)
			}
		}
		parts = append(parts, k+"="+v)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, ",")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// HealthCheck looks up a sentinel invoice; not found means reachable and authorized
func (p *Provider) HealthCheck(ctx context.Context) provider.HealthResult {
	start := time.Now()
	_, err := p.lookup(ctx, healthSentinel, keyTypeInvoice)
	return provider.ClassifyHealth(err, time.Since(start))
}

func (p *Provider) lookup(ctx context.Context, key, keyType string) (map[string]any, error) {
	raw, err := p.post(ctx, "getStatus", endpointGetPaymentStatus, map[string]any{
		"Key":     key,
		"KeyType": keyType,
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// post sends a JSON request and unwraps MyFatoorah's IsSuccess envelope.
// "No data" style validation failures become not-found errors.
func (p *Provider) post(ctx context.Context, op, endpoint string, body any) (map[string]any, error) {
	if p.httpClient == nil {
		return nil, provider.NewError(provider.ErrConfig, provider.MyFatoorah, op, "provider is not initialized")
	}

	resp, err := p.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Op:       op,
		Method:   http.MethodPost,
		Endpoint: endpoint,
		Body:     body,
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
		return nil, err
	}

	if ok, _ := raw["IsSuccess"].(bool); !ok {
		kind := provider.ErrUpstream
		if looksNotFound(raw) {
			kind = provider.ErrUpstreamNotFound
		}
		return nil, &provider.Error{
			Kind:       kind,
			Provider:   provider.MyFatoorah,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    firstNonEmpty(provider.StringField(raw, "Message"), "request was not successful"),
		}
	}

	return raw, nil
}

func (p *Provider) validateCreate(request provider.CreatePaymentRequest) error {
	if p.callbackURL == "" || p.errorURL == "" {
		return provider.ValidationError(provider.MyFatoorah, "createPayment", "callbackUrl and errorUrl must be configured")
	}
	if !request.Amount.IsPositive() {
		return provider.ValidationError(provider.MyFatoorah, "createPayment", "amount must be greater than 0")
	}
	if len(request.Currency) != 3 {
		return provider.ValidationError(provider.MyFatoorah, "createPayment", "currency must be a 3-letter code")
	}
	return nil
}

func looksNotFound(raw map[string]any) bool {
	texts := []string{provider.StringField(raw, "Message")}
	for _, v := range provider.SliceField(raw, "ValidationErrors") {
		texts = append(texts, provider.StringField(v, "Error"))
	}
	for _, t := range texts {
		t = strings.ToLower(t)
		if strings.Contains(t, "not found") || strings.Contains(t, "no data") || strings.Contains(t, "invalid key") {
			return true
		}
	}
	return false
}

func fallback(amount decimal.Decimal, currency string) []provider.PaymentMethod {
	methods := make([]provider.PaymentMethod, len(fallbackMethods))
	for i, m := range fallbackMethods {
		m.ServiceCharge = decimal.Zero
		m.TotalAmount = amount
		m.Currency = currency
		m.Fallback = true
		methods[i] = m
	}
	return methods
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
