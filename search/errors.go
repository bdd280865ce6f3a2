package search

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RateLimitError indicates the upstream refused the request for quota reasons
type RateLimitError struct {
	Status    int
	Remaining int // -1 when the header was absent
	Reset     time.Time
}

func newRateLimitError(resp *http.Response) *RateLimitError {
	e := &RateLimitError{Status: resp.StatusCode, Remaining: -1}
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			e.Remaining = n
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			e.Reset = time.Unix(sec, 0)
		}
	}
	return e
}

func (e *RateLimitError) Error() string {
	if !e.Reset.IsZero() {
		return fmt.Sprintf("rate limited (HTTP %d), resets at %s", e.Status, e.Reset.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("rate limited (HTTP %d)", e.Status)
}

// UpstreamError is any other non-success status. It is never retried.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d - %s", e.Status, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// TransportError wraps network failures
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError wraps a malformed response body
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
