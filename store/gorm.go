package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mstgnz/donatepay/infra/conn"
	"github.com/mstgnz/donatepay/provider"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore implements Store on PostgreSQL or SQLite
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore wraps an open connection pool in gorm and migrates the payments table
func NewGormStore(db *conn.DB) (*GormStore, error) {
	var dialector gorm.Dialector
	switch db.Driver {
	case conn.DriverPostgres:
		dialector = postgres.New(postgres.Config{Conn: db.DB})
	case conn.DriverSQLite:
		dialector = sqlite.New(sqlite.Config{Conn: db.DB})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	if err := gdb.AutoMigrate(&Payment{}); err != nil {
		return nil, fmt.Errorf("failed to migrate payments: %w", err)
	}

	return &GormStore{db: gdb, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *GormStore) Create(ctx context.Context, payment *Payment) (*Payment, error) {
	if payment.TransactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}
	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return payment, nil
}

func (s *GormStore) FindByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	return s.first(ctx, "transaction_id = ?", transactionID)
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*Payment, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormStore) first(ctx context.Context, query string, arg any) (*Payment, error) {
	var payment Payment
	err := s.db.WithContext(ctx).Where(query, arg).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return &payment, nil
}

func (s *GormStore) FindPending(ctx context.Context, olderThan time.Time, limit int, excludeIDs ...string) ([]Payment, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", provider.OutcomePending, olderThan.UTC())
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN ?", excludeIDs)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var payments []Payment
	if err := q.Order("created_at ASC").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to query pending payments: %w", err)
	}
	return payments, nil
}

func (s *GormStore) Update(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["updated_at"] = s.now()

	res := s.db.WithContext(ctx).Model(&Payment{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CountByStatus(ctx context.Context, status provider.Outcome) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Payment{}).Where("status = ?", status).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return count, nil
}

func (s *GormStore) Transition(ctx context.Context, id string, to provider.Outcome, raw datatypes.JSON) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("cannot transition to %q", to)
	}

	updates := map[string]any{
		"status":     to,
		"updated_at": s.now(),
	}
	if raw != nil {
		updates["raw_response"] = raw
	}

	res := s.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND status = ?", id, provider.OutcomePending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition payment: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Payment{}).
		Where("status = ? AND created_at < ?", provider.OutcomePending, cutoff.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending payments: %w", err)
	}
	return count, nil
}

func (s *GormStore) OldestPending(ctx context.Context) (*Payment, error) {
	var payment Payment
	err := s.db.WithContext(ctx).
		Where("status = ?", provider.OutcomePending).
		Order("created_at ASC").
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find oldest pending payment: %w", err)
	}
	return &payment, nil
}

// Ping checks the underlying connection
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
