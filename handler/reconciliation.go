package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/donatepay/infra/opensearch"
	"github.com/mstgnz/donatepay/infra/response"
	"github.com/mstgnz/donatepay/reconcile"
	"github.com/mstgnz/donatepay/store"
)

// Reconciler is the operational surface of the reconciliation engine
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.RunSummary, error)
	ReconcilePayment(ctx context.Context, paymentID string) (*reconcile.ItemResult, error)
	Stats(ctx context.Context) (reconcile.Stats, error)
}

// OutcomeHistory reads back the outcome changes recorded for a payment
type OutcomeHistory interface {
	GetOutcomeEvents(ctx context.Context, paymentID string) ([]opensearch.OutcomeEvent, error)
}

// ReconciliationHandler exposes manual reconciliation runs and stats
type ReconciliationHandler struct {
	engine  Reconciler
	history OutcomeHistory
	timeout time.Duration
}

// MaxRunTimeout bounds a manual run so its summary is written before the
// server write timeout. Items left when it expires count as skipped.
const MaxRunTimeout = 50 * time.Second

// NewReconciliationHandler creates a handler; timeout bounds a manual run and
// is capped at MaxRunTimeout
func NewReconciliationHandler(engine Reconciler, timeout time.Duration) *ReconciliationHandler {
	if timeout <= 0 || timeout > MaxRunTimeout {
		timeout = MaxRunTimeout
	}
	return &ReconciliationHandler{engine: engine, timeout: timeout}
}

// WithHistory enables the outcome history endpoint
func (h *ReconciliationHandler) WithHistory(history OutcomeHistory) *ReconciliationHandler {
	h.history = history
	return h
}

// Run executes one reconciliation pass now
func (h *ReconciliationHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	summary, err := h.engine.RunOnce(ctx)
	if errors.Is(err, reconcile.ErrRunInProgress) {
		response.Error(w, http.StatusConflict, "Reconciliation already running", err)
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}

	response.Success(w, http.StatusOK, "Reconciliation completed", summary)
}

// RunPayment reconciles a single payment by id
func (h *ReconciliationHandler) RunPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	paymentID := chi.URLParam(r, "paymentId")
	if paymentID == "" {
		response.Error(w, http.StatusBadRequest, "Missing payment ID", nil)
		return
	}

	item, err := h.engine.ReconcilePayment(ctx, paymentID)
	switch {
	case errors.Is(err, reconcile.ErrRunInProgress):
		response.Error(w, http.StatusConflict, "Reconciliation already running", err)
		return
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "Payment not found", err)
		return
	case err != nil && item != nil:
		_ = response.WriteJSON(w, http.StatusBadGateway, response.Response{
			Code:    http.StatusBadGateway,
			Success: false,
			Message: "Gateway check failed, payment left pending",
			Error:   err.Error(),
			Data:    item,
		})
		return
	case err != nil:
		response.Error(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment reconciled", item)
}

// Stats reports pending totals and cache size
func (h *ReconciliationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	stats, err := h.engine.Stats(ctx)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to load reconciliation stats", err)
		return
	}

	response.Success(w, http.StatusOK, "Reconciliation stats", stats)
}

// History lists the recorded outcome changes of a payment, newest first
func (h *ReconciliationHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		response.Error(w, http.StatusServiceUnavailable, "Outcome history is not enabled", nil)
		return
	}

	paymentID := chi.URLParam(r, "paymentId")
	if paymentID == "" {
		response.Error(w, http.StatusBadRequest, "Missing payment ID", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	events, err := h.history.GetOutcomeEvents(ctx, paymentID)
	if err != nil {
		response.Error(w, http.StatusBadGateway, "Failed to load outcome history", err)
		return
	}
	if events == nil {
		events = []opensearch.OutcomeEvent{}
	}

	response.Success(w, http.StatusOK, "Outcome history", events)
}
