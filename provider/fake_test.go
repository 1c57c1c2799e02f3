package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type fakeProvider struct {
	kind       ProviderType
	configured bool
	status     *PaymentStatusResult
	statusErr  error
	event      *WebhookEvent
	validSig   bool
	health     HealthResult
	calls      int
}

func (f *fakeProvider) Type() ProviderType { return f.kind }
func (f *fakeProvider) Initialize(map[string]string) error { return nil }
func (f *fakeProvider) RequiredConfig() []ConfigField { return nil }
func (f *fakeProvider) IsConfigured() bool { return f.configured }
func (f *fakeProvider) HealthCheck(context.Context) HealthResult { return f.health }

func (f *fakeProvider) CreatePayment(_ context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error) {
	f.calls++
	return &CreatePaymentResponse{ID: "tx-" + req.ReferenceID, Status: OutcomePending}, nil
}

func (f *fakeProvider) GetPaymentStatus(_ context.Context, id string) (*PaymentStatusResult, error) {
	f.calls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	res := *f.status
	res.TransactionID = id
	return &res, nil
}

func (f *fakeProvider) GetAvailablePaymentMethods(context.Context, decimal.Decimal, string) ([]PaymentMethod, error) {
	return []PaymentMethod{{ID: "card", Name: "Card", Fallback: true}}, nil
}

func (f *fakeProvider) HandleWebhook(context.Context, []byte) (*WebhookEvent, error) {
	f.calls++
	return f.event, nil
}

// signedProvider adds the optional signature capability
type signedProvider struct{ *fakeProvider }

func (s signedProvider) ValidateWebhook(context.Context, []byte, http.Header) bool {
	return s.validSig
}

func newFake(t ProviderType) *fakeProvider {
	return &fakeProvider{
		kind:       t,
		configured: true,
		status:     &PaymentStatusResult{Outcome: OutcomePending},
		health:     HealthResult{Status: HealthHealthy, Configured: true, ResponseTime: 5 * time.Millisecond},
	}
}
