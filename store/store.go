// Package store persists Payment records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mstgnz/donatepay/provider"
	"gorm.io/datatypes"
)

// ErrNotFound is returned by Update for an unknown payment id. Finders return nil, nil instead.
var ErrNotFound = errors.New("payment not found")

// Store is the Payment Store consumed by the payment service, webhook
// ingestion and the reconciliation engine
type Store interface {
	Create(ctx context.Context, payment *Payment) (*Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	FindByID(ctx context.Context, id string) (*Payment, error)
	// FindPending returns pending payments created before olderThan, oldest first
	FindPending(ctx context.Context, olderThan time.Time, limit int, excludeIDs ...string) ([]Payment, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	CountByStatus(ctx context.Context, status provider.Outcome) (int64, error)
	// Transition moves a pending payment to a terminal status. It reports false
	// when the payment was no longer pending.
	Transition(ctx context.Context, id string, to provider.Outcome, raw datatypes.JSON) (bool, error)
	CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	OldestPending(ctx context.Context) (*Payment, error)
}
