// Package apierrors provides the structured error kinds the dispatcher's
// inner loop classifies failures into. Every error the dispatcher acts on
// is one of these concrete types rather than a string match on a status
// code or message.
package apierrors

import (
	"encoding/json"
	"fmt"
)

// DispatchError is the base type every kind below embeds.
type DispatchError struct {
	Message   string
	Code      string
	Retryable bool
	Metadata  map[string]any
}

func (e *DispatchError) Error() string { return e.Message }

// ToJSON renders the error as the map the Anthropic error envelope expects.
func (e *DispatchError) ToJSON() map[string]any {
	out := map[string]any{
		"code":      e.Code,
		"message":   e.Message,
		"retryable": e.Retryable,
	}
	for k, v := range e.Metadata {
		out[k] = v
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (e *DispatchError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

func newBase(message, code string, retryable bool, metadata map[string]any) *DispatchError {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &DispatchError{Message: message, Code: code, Retryable: retryable, Metadata: metadata}
}

// ResourceExhaustedError is a 429/RESOURCE_EXHAUSTED response from the
// backend for a given account+model pair.
type ResourceExhaustedError struct {
	*DispatchError
	ResetMs      int64
	AccountEmail string
	Model        string
}

// NewResourceExhaustedError builds a ResourceExhaustedError.
func NewResourceExhaustedError(message string, resetMs int64, accountEmail, model string) *ResourceExhaustedError {
	return &ResourceExhaustedError{
		DispatchError: newBase(message, "RESOURCE_EXHAUSTED", true, map[string]any{
			"resetMs":      resetMs,
			"accountEmail": accountEmail,
			"model":        model,
		}),
		ResetMs:      resetMs,
		AccountEmail: accountEmail,
		Model:        model,
	}
}

// NoAccountsAvailableError means every account in the pool is unusable.
type NoAccountsAvailableError struct {
	*DispatchError
	AllRateLimited bool
	MinWaitMs      int64
}

// NewNoAccountsAvailableError builds a NoAccountsAvailableError.
func NewNoAccountsAvailableError(allRateLimited bool, minWaitMs int64) *NoAccountsAvailableError {
	message := "no accounts available"
	if allRateLimited {
		message = "all accounts are currently rate-limited"
	}
	return &NoAccountsAvailableError{
		DispatchError: newBase(message, "NO_ACCOUNTS_AVAILABLE", allRateLimited, map[string]any{
			"allRateLimited": allRateLimited,
			"minWaitMs":      minWaitMs,
		}),
		AllRateLimited: allRateLimited,
		MinWaitMs:      minWaitMs,
	}
}

// MaxRetriesExceededError means the dispatcher's retry budget ran out.
type MaxRetriesExceededError struct {
	*DispatchError
	Attempts int
	LastErr  error
}

// NewMaxRetriesExceededError builds a MaxRetriesExceededError.
func NewMaxRetriesExceededError(attempts int, lastErr error) *MaxRetriesExceededError {
	msg := fmt.Sprintf("max retries exceeded after %d attempts", attempts)
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, lastErr)
	}
	return &MaxRetriesExceededError{
		DispatchError: newBase(msg, "MAX_RETRIES_EXCEEDED", false, map[string]any{"attempts": attempts}),
		Attempts:      attempts,
		LastErr:       lastErr,
	}
}

// AuthInvalidError means credential exchange failed for a reason that will
// not resolve on retry (bad refresh token, revoked grant).
type AuthInvalidError struct {
	*DispatchError
	AccountEmail string
}

// NewAuthInvalidError builds an AuthInvalidError.
func NewAuthInvalidError(message, accountEmail string) *AuthInvalidError {
	return &AuthInvalidError{
		DispatchError: newBase(message, "AUTH_INVALID", false, map[string]any{"accountEmail": accountEmail}),
		AccountEmail:  accountEmail,
	}
}

// AuthNetworkError means the token exchange call itself failed for a
// transient reason (DNS, connection reset, timeout) — distinct from
// AuthInvalidError because it should be retried, possibly with a different
// account.
type AuthNetworkError struct {
	*DispatchError
	AccountEmail string
}

// NewAuthNetworkError builds an AuthNetworkError.
func NewAuthNetworkError(message, accountEmail string) *AuthNetworkError {
	return &AuthNetworkError{
		DispatchError: newBase(message, "AUTH_NETWORK_ERROR", true, map[string]any{"accountEmail": accountEmail}),
		AccountEmail:  accountEmail,
	}
}

// Upstream4xxError is a non-429, non-auth 4xx from the backend; not
// retryable since the request itself is malformed.
type Upstream4xxError struct {
	*DispatchError
	StatusCode int
}

// NewUpstream4xxError builds an Upstream4xxError.
func NewUpstream4xxError(message string, statusCode int) *Upstream4xxError {
	return &Upstream4xxError{
		DispatchError: newBase(message, "UPSTREAM_4XX", false, map[string]any{"statusCode": statusCode}),
		StatusCode:    statusCode,
	}
}

// Upstream5xxError is a backend server error; retryable with backoff.
type Upstream5xxError struct {
	*DispatchError
	StatusCode int
}

// NewUpstream5xxError builds an Upstream5xxError.
func NewUpstream5xxError(message string, statusCode int) *Upstream5xxError {
	return &Upstream5xxError{
		DispatchError: newBase(message, "UPSTREAM_5XX", true, map[string]any{"statusCode": statusCode}),
		StatusCode:    statusCode,
	}
}

// EmptyResponseError means the backend returned a 200 with no usable content.
type EmptyResponseError struct {
	*DispatchError
}

// NewEmptyResponseError builds an EmptyResponseError.
func NewEmptyResponseError(message string) *EmptyResponseError {
	if message == "" {
		message = "no content received from backend"
	}
	return &EmptyResponseError{DispatchError: newBase(message, "EMPTY_RESPONSE", true, nil)}
}

// FormatAPIError renders any recognized error kind (or a generic error) into
// the Anthropic-shaped error envelope body.
func FormatAPIError(err error) map[string]any {
	type jsoner interface{ ToJSON() map[string]any }
	if j, ok := err.(jsoner); ok {
		body := j.ToJSON()
		return map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    body["code"],
				"message": body["message"],
			},
		}
	}
	return map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "internal_error",
			"message": err.Error(),
		},
	}
}

// HTTPStatusFromError maps an error kind to the HTTP status the front end
// should reply with.
func HTTPStatusFromError(err error) int {
	switch e := err.(type) {
	case *ResourceExhaustedError:
		return 429
	case *NoAccountsAvailableError:
		if e.AllRateLimited {
			return 429
		}
		return 503
	case *MaxRetriesExceededError:
		return 503
	case *AuthInvalidError:
		return 401
	case *AuthNetworkError:
		return 502
	case *Upstream4xxError:
		return e.StatusCode
	case *Upstream5xxError:
		return e.StatusCode
	case *EmptyResponseError:
		return 502
	default:
		return 500
	}
}
