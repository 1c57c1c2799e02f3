package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mstgnz/donatepay/infra/response"
	"github.com/mstgnz/donatepay/webhook"
)

// WebhookIngestor applies a gateway callback
type WebhookIngestor interface {
	Ingest(ctx context.Context, providerType string, payload []byte, headers http.Header) (*webhook.Result, error)
}

// WebhookHandler receives gateway callbacks
type WebhookHandler struct {
	ingestor WebhookIngestor
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(ingestor WebhookIngestor) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor}
}

// HandleWebhook answers {received, success}. Signature and payload problems are 4xx.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read webhook body", err)
		return
	}

	result, err := h.ingestor.Ingest(ctx, chi.URLParam(r, "providerType"), payload, r.Header)
	if err != nil {
		writeError(w, "Webhook rejected", err)
		return
	}

	_ = response.WriteJSON(w, http.StatusOK, result)
}
