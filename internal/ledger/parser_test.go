package ledger

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseResetDurationRetryAfterSeconds(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")
	d := ParseResetDuration(h, nil, 10*time.Second)
	assert.Equal(t, 30*time.Second, d)
}

func TestParseResetDurationRetryAfterDate(t *testing.T) {
	future := time.Now().Add(45 * time.Second).UTC()
	h := http.Header{}
	h.Set("Retry-After", future.Format(http.TimeFormat))
	d := ParseResetDuration(h, nil, 10*time.Second)
	assert.InDelta(t, 45*time.Second, d, float64(2*time.Second))
}

func TestParseResetDurationBodyRetryDelay(t *testing.T) {
	body := []byte(`{"error":{"details":[{"retryDelay":"12s"}]}}`)
	d := ParseResetDuration(http.Header{}, body, 10*time.Second)
	assert.Equal(t, 12*time.Second, d)
}

func TestParseResetDurationBodyRetryInfoRetryDelay(t *testing.T) {
	body := []byte(`{"error":{"details":[{"retryInfo":{"retryDelay":"7s"}}]}}`)
	d := ParseResetDuration(http.Header{}, body, 10*time.Second)
	assert.Equal(t, 7*time.Second, d)
}

func TestParseResetDurationPrecedence(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "5")
	body := []byte(`{"error":{"details":[{"retryDelay":"99s"}]}}`)
	d := ParseResetDuration(h, body, 10*time.Second)
	assert.Equal(t, 5*time.Second, d, "Retry-After header takes precedence over body")
}

func TestParseResetDurationDefaultCooldown(t *testing.T) {
	d := ParseResetDuration(http.Header{}, []byte(`not json`), 15*time.Second)
	assert.Equal(t, 15*time.Second, d)
}

func TestParseResetDurationNegativeRetryAfterIgnored(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "-5")
	d := ParseResetDuration(h, nil, 10*time.Second)
	assert.Equal(t, 10*time.Second, d)
}
