// Package webhook applies inbound gateway callbacks to stored payments.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mstgnz/donatepay/infra/logger"
	"github.com/mstgnz/donatepay/notify"
	"github.com/mstgnz/donatepay/provider"
	"github.com/mstgnz/donatepay/store"
)

// Normalizer validates and normalizes a native callback; *provider.Router satisfies it
type Normalizer interface {
	HandleWebhook(ctx context.Context, t provider.ProviderType, payload []byte, headers http.Header) (*provider.WebhookEvent, error)
}

// Result is what the webhook endpoint reports back to the gateway
type Result struct {
	Received      bool                  `json:"received"`
	Success       bool                  `json:"success"`
	Provider      provider.ProviderType `json:"provider"`
	TransactionID string                `json:"transactionId,omitempty"`
	PaymentID     string                `json:"paymentId,omitempty"`
	Status        provider.Outcome      `json:"status,omitempty"`
	Changed       bool                  `json:"changed"`
	Message       string                `json:"message,omitempty"`
}

// Ingestor turns gateway callbacks into guarded status transitions
type Ingestor struct {
	normalizer Normalizer
	store      store.Store
	sink       notify.Sink
	onResolved func(paymentID string)
	now        func() time.Time
}

// NewIngestor creates an ingestor. sink may be nil.
func NewIngestor(n Normalizer, st store.Store, sink notify.Sink) *Ingestor {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Ingestor{
		normalizer: n,
		store:      st,
		sink:       sink,
		onResolved: func(string) {},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// OnResolved registers a hook called after a callback resolved a payment
func (i *Ingestor) OnResolved(fn func(paymentID string)) {
	if fn != nil {
		i.onResolved = fn
	}
}

// SetClock replaces the clock used for audit entries
func (i *Ingestor) SetClock(now func() time.Time) {
	i.now = now
}

// Ingest validates the callback signature, normalizes it and transitions the
// matching payment. A callback for an unknown transaction is acknowledged
// with Success false; the reconciliation pass picks the payment up later.
// Returned errors are rejections: bad signature, unknown provider, unreadable payload.
func (i *Ingestor) Ingest(ctx context.Context, providerType string, payload []byte, headers http.Header) (*Result, error) {
	t := provider.ProviderType(strings.ToLower(strings.TrimSpace(providerType)))

	event, err := i.normalizer.HandleWebhook(ctx, t, payload, headers)
	if err != nil {
		return nil, err
	}

	res := &Result{Received: true, Provider: t, TransactionID: event.TransactionID, Status: event.Status}
	log := logger.WithProvider(string(t)).AddField("transactionId", event.TransactionID)

	if event.TransactionID == "" {
		log.Warn("Webhook carried no transaction id, ignoring")
		res.Message = "no transaction id in payload"
		return res, nil
	}

	p, err := i.store.FindByTransactionID(ctx, event.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	}
	if p == nil {
		log.Warn("Webhook for unknown transaction, leaving it to reconciliation")
		res.Message = "payment not found"
		return res, nil
	}

	res.PaymentID = p.ID
	res.Success = true
	log = log.SetPaymentID(p.ID)

	if !event.Status.IsTerminal() {
		res.Status = p.Status
		log.Debug("Webhook reported pending, nothing to apply")
		return res, nil
	}

	if p.Status.IsTerminal() {
		if p.Status != event.Status {
			log.AddField("stored", string(p.Status)).AddField("reported", string(event.Status)).
				Warn("Webhook disagrees with terminal status, keeping stored status")
		}
		res.Status = p.Status
		return res, nil
	}

	reason := "webhook"
	if event.EventType != "" {
		reason += " " + event.EventType
	}
	now := i.now()
	raw, err := store.WithAudit(p.RawResponse, event.Raw, store.AuditEntry{
		At:             now,
		Source:         notify.SourceWebhook,
		Reason:         reason,
		PreviousStatus: p.Status,
		NewStatus:      event.Status,
		MinutesElapsed: minutesSince(p.CreatedAt, now),
		ReferenceTime:  "createdAt",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build audit entry: %w", err)
	}

	changed, err := i.store.Transition(ctx, p.ID, event.Status, raw)
	if err != nil {
		return nil, err
	}
	if !changed {
		// reconciliation or a refresh resolved it first
		current, err := i.store.FindByID(ctx, p.ID)
		if err == nil && current != nil {
			res.Status = current.Status
		}
		return res, nil
	}

	res.Changed = true
	log.AddField("status", string(event.Status)).Info("Payment resolved by webhook")

	amount := p.Amount
	if event.Amount != nil {
		amount = *event.Amount
	}
	i.sink.Notify(ctx, notify.OutcomeChange{
		PaymentID:      p.ID,
		TransactionID:  p.TransactionID,
		Provider:       string(t),
		PreviousStatus: p.Status,
		NewStatus:      event.Status,
		Source:         notify.SourceWebhook,
		Reason:         reason,
		Amount:         amount,
		Currency:       p.Currency,
		At:             now,
		Raw:            event.Raw,
	})
	i.onResolved(p.ID)
	return res, nil
}

func minutesSince(t, now time.Time) float64 {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return float64(d.Round(time.Second)/time.Second) / 60
}
