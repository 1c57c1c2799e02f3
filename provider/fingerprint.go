package provider

import (
	"strings"

	"github.com/google/uuid"
)

// PaymentRef is what the router needs to know about a stored payment to guess
// which gateway issued it.
type PaymentRef struct {
	Provider      string
	TransactionID string
	Raw           map[string]any
}

// FingerprintRaw inspects a raw gateway payload for shapes unique to a gateway
func FingerprintRaw(raw map[string]any) (ProviderType, bool) {
	if raw == nil {
		return "", false
	}
	if hint, ok := raw["provider"].(string); ok && hint != "" {
		return ProviderType(strings.ToLower(hint)), true
	}

	if obj, _ := raw["object"].(string); obj == "payment_intent" {
		return Stripe, true
	}
	if _, ok := raw["client_secret"]; ok {
		return Stripe, true
	}

	invoiceKeys := []string{"InvoiceId", "InvoiceURL", "InvoiceTransactions", "PaymentURL"}
	if hasAnyKey(raw, invoiceKeys) {
		return MyFatoorah, true
	}
	if data, ok := raw["Data"].(map[string]any); ok && hasAnyKey(data, invoiceKeys) {
		return MyFatoorah, true
	}

	walletKeys := []string{"paymentUrl", "referenceId", "merchantId"}
	if hasAnyKey(raw, walletKeys) {
		return Papara, true
	}
	if data, ok := raw["data"].(map[string]any); ok && hasAnyKey(data, walletKeys) {
		return Papara, true
	}

	return "", false
}

// FingerprintTransactionID guesses the gateway from the identifier shape.
// Numeric ids are ambiguous across invoice gateways; the invoice gateway wins.
func FingerprintTransactionID(id string) (ProviderType, bool) {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return "", false
	case strings.HasPrefix(id, "pi_"), strings.HasPrefix(id, "cs_"):
		return Stripe, true
	case isDigits(id):
		return MyFatoorah, true
	}
	if _, err := uuid.Parse(id); err == nil {
		return Papara, true
	}
	return "", false
}

// DetectProvider resolves the issuing provider of a stored payment with an
// ordered set of heuristics, keeping only registered candidates: the stored
// provider, raw payload fingerprints, transaction id shape, the active
// provider, then the first registered one.
func (r *Router) DetectProvider(ref PaymentRef) (ProviderType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered := func(t ProviderType) bool {
		_, ok := r.providers[t]
		return ok
	}

	if t := ProviderType(strings.ToLower(ref.Provider)); t != "" && registered(t) {
		return t, true
	}
	if t, ok := FingerprintRaw(ref.Raw); ok && registered(t) {
		return t, true
	}
	if t, ok := FingerprintTransactionID(ref.TransactionID); ok && registered(t) {
		return t, true
	}
	if r.active != "" {
		return r.active, true
	}
	if len(r.order) > 0 {
		return r.order[0], true
	}
	return "", false
}

func hasAnyKey(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
