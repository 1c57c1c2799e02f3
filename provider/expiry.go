package provider

import (
	"strconv"
	"strings"
	"time"
)

// expiryFields are the raw-response keys gateways use for payment expiry
var expiryFields = []string{"expiresAt", "expires_at", "ExpiryDate", "expiryDate", "expiration", "ExpireDate", "expireDate"}

var expiryLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ExpiryFromRaw looks for a recognizable expiry timestamp at the top level of
// a raw gateway payload or inside its Data/data object.
func ExpiryFromRaw(raw map[string]any) (time.Time, bool) {
	if raw == nil {
		return time.Time{}, false
	}
	candidates := []map[string]any{raw}
	for _, key := range []string{"Data", "data"} {
		if nested, ok := raw[key].(map[string]any); ok {
			candidates = append(candidates, nested)
		}
	}

	for _, m := range candidates {
		for _, field := range expiryFields {
			v, ok := m[field]
			if !ok || v == nil {
				continue
			}
			if t, ok := parseExpiry(v); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func parseExpiry(v any) (time.Time, bool) {
	switch val := v.(type) {
	case float64:
		return unixTime(int64(val))
	case int64:
		return unixTime(val)
	case int:
		return unixTime(int64(val))
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unixTime(n)
		}
		for _, layout := range expiryLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// unixTime accepts seconds or milliseconds since epoch
func unixTime(n int64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(n), true
	}
	return time.Unix(n, 0), true
}

// ApplyExpiry forces a pending result to failed when its raw payload carries
// an expiry timestamp before now. It reports whether the outcome changed.
func ApplyExpiry(result *PaymentStatusResult, now time.Time) bool {
	if result == nil || result.Outcome != OutcomePending {
		return false
	}
	expiresAt, ok := ExpiryFromRaw(result.Raw)
	if !ok || !expiresAt.Before(now) {
		return false
	}
	result.Outcome = OutcomeFailed
	return true
}
