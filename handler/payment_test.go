package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/donatepay/infra/response"
	"github.com/mstgnz/donatepay/payment"
	"github.com/mstgnz/donatepay/provider"
	"github.com/shopspring/decimal"
)

// Mock PaymentService for testing
type mockPaymentService struct {
	createPaymentFunc    func(ctx context.Context, providerName string, req provider.CreatePaymentRequest) (*payment.CreateResult, error)
	refreshStatusFunc    func(ctx context.Context, transactionID, providerName string) (*payment.StatusResult, error)
	availableMethodsFunc func(ctx context.Context, providerName string, amount decimal.Decimal, currency string) ([]provider.PaymentMethod, error)
	healthFunc           func(ctx context.Context, providerName string) ([]provider.HealthResult, error)
}

func (m *mockPaymentService) CreatePayment(ctx context.Context, providerName string, req provider.CreatePaymentRequest) (*payment.CreateResult, error) {
	if m.createPaymentFunc != nil {
		return m.createPaymentFunc(ctx, providerName, req)
	}
	return &payment.CreateResult{
		PaymentID:     "pay-1",
		TransactionID: "7001",
		Provider:      provider.MyFatoorah,
		Status:        provider.OutcomePending,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}, nil
}

func (m *mockPaymentService) RefreshStatus(ctx context.Context, transactionID, providerName string) (*payment.StatusResult, error) {
	if m.refreshStatusFunc != nil {
		return m.refreshStatusFunc(ctx, transactionID, providerName)
	}
	return &payment.StatusResult{TransactionID: transactionID, Status: provider.OutcomePaid}, nil
}

func (m *mockPaymentService) AvailableMethods(ctx context.Context, providerName string, amount decimal.Decimal, currency string) ([]provider.PaymentMethod, error) {
	if m.availableMethodsFunc != nil {
		return m.availableMethodsFunc(ctx, providerName, amount, currency)
	}
	return []provider.PaymentMethod{{ID: "1", Name: "KNET", Currency: currency}}, nil
}

func (m *mockPaymentService) Health(ctx context.Context, providerName string) ([]provider.HealthResult, error) {
	if m.healthFunc != nil {
		return m.healthFunc(ctx, providerName)
	}
	return []provider.HealthResult{{Provider: provider.MyFatoorah, Status: provider.HealthHealthy, Configured: true}}, nil
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestPaymentHandler_CreatePayment(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		service        *mockPaymentService
		expectedStatus int
		expectProvider string
	}{
		{
			name:           "valid donation on active provider",
			body:           `{"amount":"12.500","currency":"KWD","referenceId":"donation-1"}`,
			service:        &mockPaymentService{},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "numeric amount with explicit provider",
			body:           `{"provider":"stripe","amount":25,"currency":"USD","customer":{"email":"donor@example.com"}}`,
			service:        &mockPaymentService{},
			expectedStatus: http.StatusCreated,
			expectProvider: "stripe",
		},
		{
			name:           "malformed json",
			body:           `{"amount":`,
			service:        &mockPaymentService{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid currency",
			body:           `{"amount":10,"currency":"KW"}`,
			service:        &mockPaymentService{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid customer email",
			body:           `{"amount":10,"currency":"KWD","customer":{"email":"nope"}}`,
			service:        &mockPaymentService{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "service validation error",
			body: `{"amount":0,"currency":"KWD"}`,
			service: &mockPaymentService{
				createPaymentFunc: func(ctx context.Context, providerName string, req provider.CreatePaymentRequest) (*payment.CreateResult, error) {
					return nil, provider.ValidationError("", "createPayment", "amount must be greater than zero")
				},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "gateway auth error",
			body: `{"amount":10,"currency":"KWD"}`,
			service: &mockPaymentService{
				createPaymentFunc: func(ctx context.Context, providerName string, req provider.CreatePaymentRequest) (*payment.CreateResult, error) {
					return nil, provider.NewError(provider.ErrUpstreamAuth, provider.MyFatoorah, "createPayment", "unauthorized")
				},
			},
			expectedStatus: http.StatusBadGateway,
		},
		{
			name: "no active provider",
			body: `{"amount":10,"currency":"KWD"}`,
			service: &mockPaymentService{
				createPaymentFunc: func(ctx context.Context, providerName string, req provider.CreatePaymentRequest) (*payment.CreateResult, error) {
					return nil, provider.ErrNoActiveProvider
				},
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotProvider string
			if tt.service.createPaymentFunc == nil {
				tt.service.createPaymentFunc = func(ctx context.Context, providerName string, req provider.CreatePaymentRequest) (*payment.CreateResult, error) {
					gotProvider = providerName
					return &payment.CreateResult{PaymentID: "pay-1", TransactionID: "7001", Status: provider.OutcomePending}, nil
				}
			}
			h := NewPaymentHandler(tt.service, validator.New())

			req := httptest.NewRequest("POST", "/payments", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			h.CreatePayment(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if gotProvider != tt.expectProvider {
				t.Errorf("Expected provider %q, got %q", tt.expectProvider, gotProvider)
			}

			resp := decodeResponse(t, w)
			if resp.Success != (tt.expectedStatus == http.StatusCreated) {
				t.Errorf("Unexpected success flag %v", resp.Success)
			}
		})
	}
}

func TestPaymentHandler_GetPaymentStatus(t *testing.T) {
	var gotTx, gotProvider string
	service := &mockPaymentService{
		refreshStatusFunc: func(ctx context.Context, transactionID, providerName string) (*payment.StatusResult, error) {
			gotTx, gotProvider = transactionID, providerName
			if transactionID == "missing" {
				return nil, provider.NewError(provider.ErrUpstreamNotFound, provider.MyFatoorah, "getStatus", "not found")
			}
			return &payment.StatusResult{TransactionID: transactionID, Status: provider.OutcomePaid}, nil
		},
	}
	h := NewPaymentHandler(service, validator.New())

	req := withURLParam(httptest.NewRequest("GET", "/payments/7001/status?provider=myfatoorah", nil), "transactionId", "7001")
	w := httptest.NewRecorder()
	h.GetPaymentStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if gotTx != "7001" || gotProvider != "myfatoorah" {
		t.Errorf("Unexpected arguments %q %q", gotTx, gotProvider)
	}
	data := decodeResponse(t, w).Data.(map[string]any)
	if data["status"] != "paid" {
		t.Errorf("Expected paid, got %v", data["status"])
	}

	req = withURLParam(httptest.NewRequest("GET", "/payments/missing/status", nil), "transactionId", "missing")
	w = httptest.NewRecorder()
	h.GetPaymentStatus(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	req = withURLParam(httptest.NewRequest("GET", "/payments//status", nil), "transactionId", "")
	w = httptest.NewRecorder()
	h.GetPaymentStatus(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestPaymentHandler_GetAvailableMethods(t *testing.T) {
	service := &mockPaymentService{
		availableMethodsFunc: func(ctx context.Context, providerName string, amount decimal.Decimal, currency string) ([]provider.PaymentMethod, error) {
			return []provider.PaymentMethod{{ID: "card", Name: "Card", Currency: currency, Fallback: providerName == "stripe"}}, nil
		},
	}
	h := NewPaymentHandler(service, validator.New())

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		fallback       bool
	}{
		{"valid", "?amount=10&currency=KWD", http.StatusOK, false},
		{"fallback list", "?amount=10&currency=USD&provider=stripe", http.StatusOK, true},
		{"bad amount", "?amount=ten&currency=KWD", http.StatusBadRequest, false},
		{"missing currency", "?amount=10", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.GetAvailableMethods(w, httptest.NewRequest("GET", "/payment-methods/available"+tt.query, nil))

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}
			data := decodeResponse(t, w).Data.(map[string]any)
			if data["fallback"] != tt.fallback {
				t.Errorf("Expected fallback %v, got %v", tt.fallback, data["fallback"])
			}
		})
	}
}

func TestPaymentHandler_GetProviderHealth(t *testing.T) {
	h := NewPaymentHandler(&mockPaymentService{}, validator.New())

	w := httptest.NewRecorder()
	h.GetProviderHealth(w, httptest.NewRequest("GET", "/payment-methods/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	data := decodeResponse(t, w).Data.(map[string]any)
	if data["healthy"] != float64(1) || data["total"] != float64(1) {
		t.Errorf("Unexpected health summary %v", data)
	}

	h = NewPaymentHandler(&mockPaymentService{
		healthFunc: func(ctx context.Context, providerName string) ([]provider.HealthResult, error) {
			return nil, &provider.Error{Kind: provider.ErrProviderNotFound, Provider: provider.ProviderType(providerName)}
		},
	}, validator.New())
	w = httptest.NewRecorder()
	h.GetProviderHealth(w, httptest.NewRequest("GET", "/payment-methods/health?provider=unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}
