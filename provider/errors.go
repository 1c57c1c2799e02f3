package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrUpstreamAuth     = errors.New("upstream authentication error")
	ErrUpstreamNotFound = errors.New("upstream resource not found")
	ErrUpstream         = errors.New("upstream error")
	ErrNoActiveProvider = errors.New("no active payment provider")
	ErrProviderNotFound = errors.New("payment provider not registered")
	ErrConfig           = errors.New("provider configuration error")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrRegistryFull     = errors.New("provider registry is full")
)

// Error carries the failure kind together with the gateway context it happened in.
// errors.Is matches both the kind sentinel and the wrapped cause.
type Error struct {
	Kind       error
	Provider   ProviderType
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg = e.Message
	}
	prefix := ""
	if e.Provider != "" {
		prefix = string(e.Provider) + ": "
	}
	if e.Op != "" {
		prefix += e.Op + ": "
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return prefix + msg + ": " + e.Err.Error()
	}
	return prefix + msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an *Error of the given kind
func NewError(kind error, p ProviderType, op, message string) *Error {
	return &Error{Kind: kind, Provider: p, Op: op, Message: message}
}

// ValidationError reports bad caller input or missing gateway settings
func ValidationError(p ProviderType, op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Provider: p, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindForStatus maps an upstream HTTP status to an error kind
func KindForStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUpstreamAuth
	case http.StatusNotFound:
		return ErrUpstreamNotFound
	default:
		return ErrUpstream
	}
}

// IsNotFound reports whether err is an upstream not-found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUpstreamNotFound)
}

// HTTPStatus maps an error to the status code returned to API callers
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUpstreamNotFound), errors.Is(err, ErrProviderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoActiveProvider), errors.Is(err, ErrConfig):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstreamAuth), errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
