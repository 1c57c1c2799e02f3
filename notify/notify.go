// Package notify fans payment outcome changes out to fire-and-forget sinks.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mstgnz/donatepay/infra/logger"
	"github.com/mstgnz/donatepay/infra/opensearch"
	"github.com/mstgnz/donatepay/provider"
	"github.com/shopspring/decimal"
)

// Sources of an outcome change
const (
	SourceWebhook        = "webhook"
	SourceReconciliation = "reconciliation"
	SourceStatusRefresh  = "status_refresh"
)

// OutcomeChange describes a payment leaving pending
type OutcomeChange struct {
	PaymentID      string
	TransactionID  string
	Provider       string
	PreviousStatus provider.Outcome
	NewStatus      provider.Outcome
	Source         string
	Reason         string
	Amount         decimal.Decimal
	Currency       string
	At             time.Time
	// Raw is the gateway payload that settled the outcome, if any
	Raw map[string]any
}

// Sink receives outcome changes. Notify must not block the caller on slow
// downstreams and never reports failure.
type Sink interface {
	Notify(ctx context.Context, change OutcomeChange)
}

// Nop discards every change
type Nop struct{}

func (Nop) Notify(context.Context, OutcomeChange) {}

// LogSink writes changes to the system logger
type LogSink struct{}

func (LogSink) Notify(_ context.Context, change OutcomeChange) {
	logger.Info("Payment outcome changed", logger.LogContext{
		Provider:  change.Provider,
		PaymentID: change.PaymentID,
		Fields: map[string]any{
			"transactionId":  change.TransactionID,
			"previousStatus": string(change.PreviousStatus),
			"newStatus":      string(change.NewStatus),
			"source":         change.Source,
			"reason":         change.Reason,
		},
	})
}

// OutcomeIndexer stores outcome documents
type OutcomeIndexer interface {
	LogOutcomeEvent(ctx context.Context, event opensearch.OutcomeEvent) error
}

// OpenSearchSink indexes changes asynchronously, each write bounded by its own timeout
type OpenSearchSink struct {
	indexer OutcomeIndexer
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewOpenSearchSink creates a sink writing to the payment outcome index
func NewOpenSearchSink(indexer OutcomeIndexer) *OpenSearchSink {
	return &OpenSearchSink{indexer: indexer, timeout: 5 * time.Second}
}

func (s *OpenSearchSink) Notify(_ context.Context, change OutcomeChange) {
	event := opensearch.OutcomeEvent{
		Timestamp:      change.At,
		PaymentID:      change.PaymentID,
		TransactionID:  change.TransactionID,
		Provider:       change.Provider,
		PreviousStatus: string(change.PreviousStatus),
		NewStatus:      string(change.NewStatus),
		Source:         change.Source,
		Reason:         change.Reason,
		Currency:       change.Currency,
	}
	if !change.Amount.IsZero() {
		event.Amount = change.Amount.String()
	}
	if len(change.Raw) > 0 {
		if data, err := json.Marshal(change.Raw); err == nil {
			event.Gateway = opensearch.SanitizeForLog(string(data))
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.indexer.LogOutcomeEvent(ctx, event); err != nil {
			logger.Warn("Failed to index payment outcome", logger.LogContext{
				Provider:  change.Provider,
				PaymentID: change.PaymentID,
				Fields:    map[string]any{"error": err.Error()},
			})
		}
	}()
}

// Wait blocks until in-flight writes finish or ctx ends
func (s *OpenSearchSink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Multi forwards every change to each sink in order
type Multi []Sink

func (m Multi) Notify(ctx context.Context, change OutcomeChange) {
	for _, s := range m {
		s.Notify(ctx, change)
	}
}

// NewMulti drops nil sinks and returns Nop when none remain
func NewMulti(sinks ...Sink) Sink {
	var out Multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	}
	return out
}
