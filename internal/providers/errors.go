package providers

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindAuth       ErrorKind = "auth"
	KindValidation ErrorKind = "validation"
	KindRateLimit  ErrorKind = "rate_limit"
	KindQuota      ErrorKind = "quota"
	KindServer     ErrorKind = "server"
)

// Error is returned by every Client on failure.
type Error struct {
	Kind       ErrorKind
	Provider   models.Provider
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same call could succeed if repeated.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork, KindServer:
		return true
	}
	return false
}

// IsKind reports whether err is a provider Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

// statusError maps an upstream HTTP error response to an Error.
func statusError(provider models.Provider, status int, body []byte) *Error {
	msg := upstreamMessage(body)
	kind := KindServer
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusPaymentRequired:
		kind = KindQuota
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient") {
			kind = KindQuota
		}
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		kind = KindValidation
	case status >= 500:
		kind = KindServer
	case status >= 400:
		kind = KindValidation
	}
	return &Error{Kind: kind, Provider: provider, StatusCode: status, Message: msg}
}

// transportError classifies a failure to get any response at all.
func transportError(provider models.Provider, err error) *Error {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, errDeadline) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: provider, Message: err.Error(), Err: err}
}

// upstreamMessage pulls a readable message out of a vendor error body.
func upstreamMessage(body []byte) string {
	for _, path := range []string{"error.message", "error", "message"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
			return r.String()
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
