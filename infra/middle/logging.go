package middle

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mstgnz/donatepay/infra/logger"
)

// RequestLoggingMiddleware logs every request through the system logger with
// status, duration and request id. Webhook calls carry the gateway name.
func RequestLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			log := logger.WithContext(logger.LogContext{
				Provider: extractProviderFromURL(r.URL.Path),
				Fields: map[string]any{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     status,
					"bytes":      ww.BytesWritten(),
					"durationMs": time.Since(start).Milliseconds(),
					"clientIp":   GetClientIP(r),
				},
			}).SetRequestID(middleware.GetReqID(r.Context()))

			switch {
			case status >= http.StatusInternalServerError:
				log.Error("HTTP request failed", nil)
			case status >= http.StatusBadRequest:
				log.Warn("HTTP request rejected")
			case r.URL.Path == "/health":
				log.Debug("HTTP request")
			default:
				log.Info("HTTP request")
			}
		})
	}
}

// extractProviderFromURL returns the gateway segment of /webhooks/{provider}
func extractProviderFromURL(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) >= 2 && segments[0] == "webhooks" {
		return strings.ToLower(segments[1])
	}
	return ""
}
