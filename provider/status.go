package provider

import (
	"slices"
	"strconv"
	"strings"
)

// Normalized attempt statuses
const (
	AttemptSuccess = "SUCCESS"
	AttemptFailed  = "FAILED"
	AttemptUnknown = "UNKNOWN"
)

var (
	paidKeywords   = []string{"SUCCESS", "SUCCSS", "CAPTURED", "PAID", "APPROVED"}
	failedKeywords = []string{"FAILED", "DECLINED", "VOID", "CANCELED", "CANCELLED"}
)

// Invoice status codes shared by invoice-based gateways
const (
	InvoicePending          = 0
	InvoiceInitiated        = 1
	InvoiceInProgress       = 2
	InvoiceCanceled         = 3
	InvoicePaid             = 4
	InvoiceDuplicatePayment = 5
	InvoiceExpired          = 6
	InvoiceFailed           = 7
	InvoiceOther            = -1
)

var invoiceStatusNames = map[string]int{
	"PENDING":          InvoicePending,
	"INITIATED":        InvoiceInitiated,
	"INPROGRESS":       InvoiceInProgress,
	"CANCELED":         InvoiceCanceled,
	"CANCELLED":        InvoiceCanceled,
	"PAID":             InvoicePaid,
	"DUPLICATEPAYMENT": InvoiceDuplicatePayment,
	"EXPIRED":          InvoiceExpired,
	"FAILED":           InvoiceFailed,
}

// NormalizeAttemptStatus folds a gateway attempt status into SUCCESS, FAILED or UNKNOWN
func NormalizeAttemptStatus(status string) string {
	s := strings.ToUpper(strings.TrimSpace(status))
	if s == "" {
		return AttemptUnknown
	}
	switch {
	case slices.Contains(paidKeywords, s):
		return AttemptSuccess
	case slices.Contains(failedKeywords, s):
		return AttemptFailed
	default:
		return AttemptUnknown
	}
}

// InvoiceStatusCode resolves an invoice status given either by name ("Paid",
// "In Progress") or by numeric code. Unknown values map to InvoiceOther.
func InvoiceStatusCode(status string) int {
	s := strings.TrimSpace(status)
	if s == "" {
		return InvoiceOther
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n >= InvoicePending && n <= InvoiceFailed {
			return n
		}
		return InvoiceOther
	}
	key := strings.ToUpper(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s))
	if code, ok := invoiceStatusNames[key]; ok {
		return code
	}
	return InvoiceOther
}

// InvoiceOutcome maps an invoice status code to a canonical outcome
func InvoiceOutcome(code int) Outcome {
	switch code {
	case InvoicePaid, InvoiceDuplicatePayment:
		return OutcomePaid
	case InvoiceCanceled, InvoiceExpired, InvoiceFailed:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// DeriveOutcome combines the invoice-level status with the statuses of the
// individual payment attempts. First match wins:
//  1. any successful attempt -> paid
//  2. non-empty attempts, all failed or canceled -> failed
//  3. invoice status table
//
// Rule 2 also overrides an invoice reported as paid.
func DeriveOutcome(invoiceStatus string, attemptStatuses []string) Outcome {
	failed := 0
	for _, a := range attemptStatuses {
		switch NormalizeAttemptStatus(a) {
		case AttemptSuccess:
			return OutcomePaid
		case AttemptFailed:
			failed++
		}
	}

	if len(attemptStatuses) > 0 && failed == len(attemptStatuses) {
		return OutcomeFailed
	}

	return InvoiceOutcome(InvoiceStatusCode(invoiceStatus))
}

// OutcomeFromKeyword maps a single free-form status through the attempt keyword
// sets; used by gateways without an invoice layer.
func OutcomeFromKeyword(status string) Outcome {
	switch NormalizeAttemptStatus(status) {
	case AttemptSuccess:
		return OutcomePaid
	case AttemptFailed:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}
