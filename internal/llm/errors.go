package llm

import (
	"fmt"
	"strings"
)

// Error is the unified error interface returned by provider adapters.
type Error interface {
	error
	StatusCode() int
	Retryable() bool
}

type httpErrorBase struct {
	statusCode int
	message    string
	retryable  bool
}

func (e *httpErrorBase) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("model request error (status=%d): %s", e.statusCode, msg)
}
func (e *httpErrorBase) StatusCode() int { return e.statusCode }
func (e *httpErrorBase) Retryable() bool { return e.retryable }

type InvalidRequestError struct{ httpErrorBase }
type AuthenticationError struct{ httpErrorBase }
type NotFoundError struct{ httpErrorBase }
type QuotaExceededError struct{ httpErrorBase }
type RateLimitError struct{ httpErrorBase }
type ServerError struct{ httpErrorBase }
type UnknownHTTPError struct{ httpErrorBase }

// ErrorFromHTTPStatus classifies an HTTP failure into the typed hierarchy.
func ErrorFromHTTPStatus(statusCode int, message string) error {
	base := httpErrorBase{statusCode: statusCode, message: message}
	switch statusCode {
	case 400, 422:
		// Ambiguous status codes: use message hints for specific classification.
		lower := strings.ToLower(message)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "billing") {
			return &QuotaExceededError{base}
		}
		if strings.Contains(lower, "api key") || strings.Contains(lower, "invalid key") {
			return &AuthenticationError{base}
		}
		return &InvalidRequestError{base}
	case 401, 403:
		return &AuthenticationError{base}
	case 404:
		return &NotFoundError{base}
	case 429:
		base.retryable = true
		return &RateLimitError{base}
	case 500, 502, 503, 504:
		base.retryable = true
		return &ServerError{base}
	default:
		base.retryable = true
		return &UnknownHTTPError{base}
	}
}
