package provider

import (
	"errors"
	"time"
)

// ClassifyHealth turns the error of a sentinel lookup into a health result.
// A not-found answer proves the gateway is reachable and accepted the credentials.
func ClassifyHealth(err error, elapsed time.Duration) HealthResult {
	res := HealthResult{
		Status:       HealthHealthy,
		Configured:   true,
		ResponseTime: elapsed,
		ResponseMs:   elapsed.Milliseconds(),
		CheckedAt:    time.Now().UTC(),
	}
	if err == nil || errors.Is(err, ErrUpstreamNotFound) {
		return res
	}
	res.Status = HealthUnhealthy
	res.Error = err.Error()
	return res
}
