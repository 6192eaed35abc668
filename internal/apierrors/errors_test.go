package apierrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"resource exhausted", NewResourceExhaustedError("x", 1000, "a@x.com", "m"), 429},
		{"no accounts, all limited", NewNoAccountsAvailableError(true, 5000), 429},
		{"no accounts, none limited", NewNoAccountsAvailableError(false, 0), 503},
		{"max retries", NewMaxRetriesExceededError(5, nil), 503},
		{"auth invalid", NewAuthInvalidError("bad grant", "a@x.com"), 401},
		{"auth network", NewAuthNetworkError("timeout", "a@x.com"), 502},
		{"upstream 4xx", NewUpstream4xxError("bad request", 400), 400},
		{"upstream 5xx", NewUpstream5xxError("boom", 503), 503},
		{"empty response", NewEmptyResponseError(""), 502},
		{"unknown", errors.New("plain"), 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusFromError(tc.err))
		})
	}
}

func TestFormatAPIErrorKnownKind(t *testing.T) {
	err := NewResourceExhaustedError("rate limited", 2000, "a@x.com", "gemini-3-pro-high")
	body := FormatAPIError(err)
	assert.Equal(t, "error", body["type"])
	inner, ok := body["error"].(map[string]any)
	if assert.True(t, ok) {
		assert.Equal(t, "RESOURCE_EXHAUSTED", inner["type"])
		assert.Equal(t, "rate limited", inner["message"])
	}
}

func TestFormatAPIErrorGenericError(t *testing.T) {
	body := FormatAPIError(errors.New("something broke"))
	inner := body["error"].(map[string]any)
	assert.Equal(t, "internal_error", inner["type"])
	assert.Equal(t, "something broke", inner["message"])
}

func TestEmptyResponseErrorDefaultMessage(t *testing.T) {
	err := NewEmptyResponseError("")
	assert.Equal(t, "no content received from backend", err.Error())
}

func TestDispatchErrorToJSONIncludesMetadata(t *testing.T) {
	err := NewResourceExhaustedError("rl", 1234, "a@x.com", "m")
	j := err.ToJSON()
	assert.Equal(t, int64(1234), j["resetMs"])
	assert.Equal(t, "a@x.com", j["accountEmail"])
}
