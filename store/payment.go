package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/donatepay/provider"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// auditKey is the field of RawResponse holding the status change history
const auditKey = "reconciliation"

// Payment is the durable record of one donation payment
type Payment struct {
	ID            string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	Amount        decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency      string           `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentMethod string           `gorm:"type:varchar(64)" json:"paymentMethod,omitempty"`
	TransactionID string           `gorm:"type:varchar(128);uniqueIndex;not null" json:"transactionId"`
	Provider      string           `gorm:"type:varchar(32);index" json:"provider,omitempty"`
	Status        provider.Outcome `gorm:"type:varchar(16);index;not null" json:"status"`
	RawResponse   datatypes.JSON   `json:"rawResponse,omitempty"`
	CreatedAt     time.Time        `gorm:"index" json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// BeforeCreate assigns the id and the initial pending status
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = provider.OutcomePending
	}
	return nil
}

// Raw decodes RawResponse, returning nil when it is empty or not an object
func (p *Payment) Raw() map[string]any {
	if len(p.RawResponse) == 0 {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(p.RawResponse, &raw); err != nil {
		return nil
	}
	return raw
}

// AuditEntry records one status change inside RawResponse
type AuditEntry struct {
	At             time.Time        `json:"at"`
	Source         string           `json:"source"`
	Reason         string           `json:"reason"`
	PreviousStatus provider.Outcome `json:"previousStatus"`
	NewStatus      provider.Outcome `json:"newStatus"`
	MinutesElapsed float64          `json:"minutesElapsed"`
	ReferenceTime  string           `json:"referenceTime,omitempty"`
}

// WithAudit builds the next RawResponse: latest replaces the gateway payload
// when given, and the entry is appended to the existing history.
func WithAudit(existing datatypes.JSON, latest map[string]any, entry AuditEntry) (datatypes.JSON, error) {
	current := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &current); err != nil {
			current = map[string]any{"response": string(existing)}
		}
	}

	history, _ := current[auditKey].([]any)

	next := current
	if latest != nil {
		next = make(map[string]any, len(latest)+1)
		for k, v := range latest {
			next[k] = v
		}
	}
	next[auditKey] = append(history, entry)

	b, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// EncodeRaw marshals a gateway payload for storage
func EncodeRaw(raw map[string]any) datatypes.JSON {
	if raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
