package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/donatepay/handler"
	"github.com/mstgnz/donatepay/infra/opensearch"
	"github.com/mstgnz/donatepay/payment"
	"github.com/mstgnz/donatepay/provider"
	"github.com/mstgnz/donatepay/reconcile"
	"github.com/mstgnz/donatepay/webhook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	statusTxID string
}

func (s *stubService) CreatePayment(ctx context.Context, providerName string, req provider.CreatePaymentRequest) (*payment.CreateResult, error) {
	return &payment.CreateResult{PaymentID: "pay-1", TransactionID: "tx-1", Provider: provider.Stripe, Status: provider.OutcomePending}, nil
}

func (s *stubService) RefreshStatus(ctx context.Context, transactionID, providerName string) (*payment.StatusResult, error) {
	s.statusTxID = transactionID
	return &payment.StatusResult{TransactionID: transactionID, Status: provider.OutcomePending}, nil
}

func (s *stubService) AvailableMethods(ctx context.Context, providerName string, amount decimal.Decimal, currency string) ([]provider.PaymentMethod, error) {
	return nil, nil
}

func (s *stubService) Health(ctx context.Context, providerName string) ([]provider.HealthResult, error) {
	return nil, nil
}

type stubIngestor struct {
	providerType string
}

func (s *stubIngestor) Ingest(ctx context.Context, providerType string, payload []byte, headers http.Header) (*webhook.Result, error) {
	s.providerType = providerType
	return &webhook.Result{Received: true, Success: true}, nil
}

type stubReconciler struct {
	runs int
}

func (s *stubReconciler) RunOnce(ctx context.Context) (reconcile.RunSummary, error) {
	s.runs++
	return reconcile.RunSummary{}, nil
}

func (s *stubReconciler) ReconcilePayment(ctx context.Context, paymentID string) (*reconcile.ItemResult, error) {
	return &reconcile.ItemResult{PaymentID: paymentID, Action: reconcile.ActionUntouched}, nil
}

func (s *stubReconciler) Stats(ctx context.Context) (reconcile.Stats, error) {
	return reconcile.Stats{}, nil
}

type fixture struct {
	service    *stubService
	ingestor   *stubIngestor
	reconciler *stubReconciler
	handler    http.Handler
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	f := &fixture{service: &stubService{}, ingestor: &stubIngestor{}, reconciler: &stubReconciler{}}
	f.handler = New(Handlers{
		Payment:        handler.NewPaymentHandler(f.service, validator.New()),
		Webhook:        handler.NewWebhookHandler(f.ingestor),
		Reconciliation: handler.NewReconciliationHandler(f.reconciler, 0),
		Health:         handler.NewHealthHandler(nil, nil, nil, "test", "1.0.0"),
	}, Options{APIKey: apiKey})
	require.NotNil(t, f.handler)
	return f
}

func (f *fixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestRoutes_PublicEndpoints(t *testing.T) {
	f := newFixture(t, "secret")

	w := f.do("GET", "/payments/tx-42/status", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tx-42", f.service.statusTxID)

	w = f.do("POST", "/payments", `{"amount":10,"currency":"USD"}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = f.do("GET", "/payment-methods/available?amount=10&currency=KWD", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do("GET", "/payment-methods/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no database configured")
}

func TestRoutes_WebhookNeedsNoAPIKey(t *testing.T) {
	f := newFixture(t, "secret")

	w := f.do("POST", "/webhooks/papara", `{"id":"p-1"}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "papara", f.ingestor.providerType)
	assert.Contains(t, w.Body.String(), `"received":true`)
}

func TestRoutes_ReconciliationRequiresAPIKey(t *testing.T) {
	f := newFixture(t, "secret")

	w := f.do("POST", "/reconciliation/run", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do("POST", "/reconciliation/run", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, f.reconciler.runs)

	auth := map[string]string{"Authorization": "Bearer secret"}
	w = f.do("POST", "/reconciliation/run", "", auth)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.reconciler.runs)

	w = f.do("POST", "/reconciliation/run/pay-9", "", auth)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"paymentId":"pay-9"`)

	w = f.do("GET", "/reconciliation/stats", "", auth)
	assert.Equal(t, http.StatusOK, w.Code)
}

type stubHistory struct {
	paymentID string
}

func (s *stubHistory) GetOutcomeEvents(ctx context.Context, paymentID string) ([]opensearch.OutcomeEvent, error) {
	s.paymentID = paymentID
	return []opensearch.OutcomeEvent{{PaymentID: paymentID, Provider: "stripe", NewStatus: "paid"}}, nil
}

func TestRoutes_OutcomeHistory(t *testing.T) {
	f := newFixture(t, "secret")
	auth := map[string]string{"Authorization": "Bearer secret"}

	w := f.do("GET", "/reconciliation/payments/pay-3/history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do("GET", "/reconciliation/payments/pay-3/history", "", auth)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no outcome index configured")

	history := &stubHistory{}
	mux := New(Handlers{
		Reconciliation: handler.NewReconciliationHandler(f.reconciler, 0).WithHistory(history),
	}, Options{APIKey: "secret"})

	req := httptest.NewRequest("GET", "/reconciliation/payments/pay-3/history", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pay-3", history.paymentID)
	assert.Contains(t, rec.Body.String(), `"new_status":"paid"`)
}

func TestRoutes_ReconciliationDisabledWithoutAPIKey(t *testing.T) {
	f := newFixture(t, "")

	w := f.do("GET", "/reconciliation/stats", "", map[string]string{"Authorization": "Bearer anything"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutes_NotFoundAndMethod(t *testing.T) {
	f := newFixture(t, "secret")

	w := f.do("GET", "/v1/payments", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = f.do("GET", "/webhooks/stripe", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRoutes_SecurityHeaders(t *testing.T) {
	f := newFixture(t, "secret")

	w := f.do("GET", "/payment-methods/health", "", nil)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
