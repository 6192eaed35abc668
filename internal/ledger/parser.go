package ledger

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ParseResetDuration determines how long to wait before retrying a 429,
// following the precedence Retry-After header → body error.details[*].retryDelay
// → body error.details[*].retryInfo.retryDelay → defaultCooldown.
func ParseResetDuration(headers http.Header, body []byte, defaultCooldown time.Duration) time.Duration {
	if d, ok := parseRetryAfterHeader(headers); ok {
		return d
	}
	if d, ok := parseRetryDelayFromBody(body); ok {
		return d
	}
	return defaultCooldown
}

func parseRetryAfterHeader(headers http.Header) (time.Duration, bool) {
	v := headers.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}

type errorDetailsBody struct {
	Error struct {
		Details []struct {
			RetryDelay string `json:"retryDelay"`
			RetryInfo  struct {
				RetryDelay string `json:"retryDelay"`
			} `json:"retryInfo"`
		} `json:"details"`
	} `json:"error"`
}

func parseRetryDelayFromBody(body []byte) (time.Duration, bool) {
	if len(body) == 0 {
		return 0, false
	}
	var parsed errorDetailsBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, false
	}
	for _, d := range parsed.Error.Details {
		if d.RetryDelay != "" {
			if dur, ok := parseGoogleDuration(d.RetryDelay); ok {
				return dur, true
			}
		}
	}
	for _, d := range parsed.Error.Details {
		if d.RetryInfo.RetryDelay != "" {
			if dur, ok := parseGoogleDuration(d.RetryInfo.RetryDelay); ok {
				return dur, true
			}
		}
	}
	return 0, false
}

// parseGoogleDuration parses protobuf-style durations like "30s" or "1.5s".
func parseGoogleDuration(s string) (time.Duration, bool) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}
