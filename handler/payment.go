package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/donatepay/infra/response"
	"github.com/mstgnz/donatepay/payment"
	"github.com/mstgnz/donatepay/provider"
	"github.com/shopspring/decimal"
)

// PaymentService defines the payment operations exposed over HTTP
type PaymentService interface {
	CreatePayment(ctx context.Context, providerName string, req provider.CreatePaymentRequest) (*payment.CreateResult, error)
	RefreshStatus(ctx context.Context, transactionID, providerName string) (*payment.StatusResult, error)
	AvailableMethods(ctx context.Context, providerName string, amount decimal.Decimal, currency string) ([]provider.PaymentMethod, error)
	Health(ctx context.Context, providerName string) ([]provider.HealthResult, error)
}

// CreatePaymentPayload is the POST /payments body
type CreatePaymentPayload struct {
	Provider string `json:"provider,omitempty" validate:"omitempty,alpha,max=32"`
	provider.CreatePaymentRequest
}

// PaymentHandler handles payment related HTTP requests
type PaymentHandler struct {
	paymentService PaymentService
	validate       *validator.Validate
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService PaymentService, validate *validator.Validate) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		validate:       validate,
	}
}

// CreatePayment opens a payment at the requested or active gateway
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req CreatePaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	resp, err := h.paymentService.CreatePayment(ctx, req.Provider, req.CreatePaymentRequest)
	if err != nil {
		writeError(w, "Payment failed", err)
		return
	}

	response.Success(w, http.StatusCreated, "Payment created", resp)
}

// GetPaymentStatus refreshes the status of a transaction from its gateway
func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	transactionID := strings.TrimSpace(chi.URLParam(r, "transactionId"))
	if transactionID == "" {
		response.Error(w, http.StatusBadRequest, "Missing transaction ID", nil)
		return
	}

	resp, err := h.paymentService.RefreshStatus(ctx, transactionID, r.URL.Query().Get("provider"))
	if err != nil {
		writeError(w, "Failed to get payment status", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment status retrieved", resp)
}

// GetAvailableMethods lists payment methods for ?amount&currency&provider
func (h *PaymentHandler) GetAvailableMethods(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	query := r.URL.Query()
	amount, err := decimal.NewFromString(query.Get("amount"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	currency := query.Get("currency")
	if currency == "" {
		response.Error(w, http.StatusBadRequest, "Missing currency", nil)
		return
	}

	methods, err := h.paymentService.AvailableMethods(ctx, query.Get("provider"), amount, currency)
	if err != nil {
		writeError(w, "Failed to list payment methods", err)
		return
	}

	fallback := false
	for _, m := range methods {
		fallback = fallback || m.Fallback
	}

	response.Success(w, http.StatusOK, "Payment methods retrieved", map[string]any{
		"methods":  methods,
		"fallback": fallback,
	})
}

// GetProviderHealth checks one gateway or all of them
func (h *PaymentHandler) GetProviderHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	results, err := h.paymentService.Health(ctx, r.URL.Query().Get("provider"))
	if err != nil {
		writeError(w, "Failed to check provider health", err)
		return
	}

	healthy := 0
	for _, res := range results {
		if res.Status == provider.HealthHealthy {
			healthy++
		}
	}

	response.Success(w, http.StatusOK, "Provider health checked", map[string]any{
		"providers": results,
		"healthy":   healthy,
		"total":     len(results),
	})
}

// writeError maps a taxonomy error to its HTTP status
func writeError(w http.ResponseWriter, message string, err error) {
	response.Error(w, provider.HTTPStatus(err), message, err)
}
