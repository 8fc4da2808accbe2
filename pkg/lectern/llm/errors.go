package llm

import (
	"fmt"
	"strings"
)

// ErrorKind classifies API errors for logging and caller decisions.
type ErrorKind int

const (
	ErrorTransient  ErrorKind = iota // 5xx
	ErrorRateLimit                   // 429
	ErrorOverloaded                  // 529 or "overloaded" in body
	ErrorTimeout                     // deadline exceeded upstream
	ErrorAuth                        // 401, 403
	ErrorBilling                     // 402 or quota exhausted
	ErrorContext                     // prompt too long for the model
	ErrorBadRequest                  // 400
	ErrorFatal                       // everything else
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransient:
		return "transient"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorOverloaded:
		return "overloaded"
	case ErrorTimeout:
		return "timeout"
	case ErrorAuth:
		return "auth"
	case ErrorBilling:
		return "billing"
	case ErrorContext:
		return "context"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// APIError is a non-200 reply from the provider.
type APIError struct {
	StatusCode int
	Body       string
	Kind       ErrorKind
}

func newAPIError(status int, body string) *APIError {
	return &APIError{StatusCode: status, Body: body, Kind: classifyAPIError(status, body)}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned %d (%s): %s", e.StatusCode, e.Kind, truncate(e.Body, 200))
}

// classifyAPIError determines the error kind from status code and body.
func classifyAPIError(statusCode int, body string) ErrorKind {
	lower := strings.ToLower(body)

	if strings.Contains(lower, "context_length_exceeded") ||
		strings.Contains(lower, "maximum context length") ||
		strings.Contains(lower, "tokens limit exceeded") {
		return ErrorContext
	}
	if statusCode == 402 ||
		strings.Contains(lower, "billing") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "payment required") {
		return ErrorBilling
	}
	if statusCode == 429 ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") {
		return ErrorRateLimit
	}
	if statusCode == 529 || strings.Contains(lower, "overloaded") {
		return ErrorOverloaded
	}
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
		return ErrorTimeout
	}

	switch {
	case statusCode == 400:
		return ErrorBadRequest
	case statusCode == 401 || statusCode == 403:
		return ErrorAuth
	case statusCode >= 500:
		return ErrorTransient
	default:
		return ErrorFatal
	}
}
