package provider

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Helpers for best-effort extraction from loosely typed gateway payloads.

// StringField returns the first non-empty value among keys, formatting numbers without exponent
func StringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// DecimalField parses the first numeric-looking value among keys
func DecimalField(m map[string]any, keys ...string) *decimal.Decimal {
	for _, k := range keys {
		var (
			d   decimal.Decimal
			err error
		)
		switch v := m[k].(type) {
		case float64:
			d = decimal.NewFromFloat(v)
		case string:
			d, err = decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(v, ",", "")))
		default:
			continue
		}
		if err == nil {
			return &d
		}
	}
	return nil
}

// MapField returns a nested object
func MapField(m map[string]any, key string) map[string]any {
	if nested, ok := m[key].(map[string]any); ok {
		return nested
	}
	return nil
}

// SliceField returns nested objects of an array, skipping non-object entries
func SliceField(m map[string]any, key string) []map[string]any {
	items, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// TimeField parses the first timestamp among keys, falling back to zero time
func TimeField(m map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if t, ok := parseExpiry(v); ok {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
