package slack

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// APIError is a Slack API response with ok=false, or a non-OK HTTP status
// without a decodable body.
type APIError struct {
	Method     string
	Code       string
	StatusCode int
	// RetryAfter is the server-advertised wait, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
	}
	return fmt.Sprintf("slack %s: http %d", e.Method, e.StatusCode)
}

var retryableCodes = map[string]bool{
	"ratelimited":    true,
	"rate_limited":   true,
	"internal_error": true,
	"unknown_error":  true,
}

// Retryable reports whether the error code is in the transient set that the
// relay retries with backoff.
func (e *APIError) Retryable() bool {
	return retryableCodes[e.Code]
}

func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
