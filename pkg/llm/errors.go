package llm

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ProviderError is returned by backends when the upstream API answers with
// an HTTP error. It carries the status so callers can tell transient
// failures from permanent ones.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	// RetryAfter is the wait the upstream asked for, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPStatus reports the upstream status code.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// RetryDelay reports the upstream Retry-After hint.
func (e *ProviderError) RetryDelay() time.Duration { return e.RetryAfter }

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Missing or malformed values yield zero.
func ParseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
