package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies an LLM call failure. Kinds are stable strings
// surfaced in call logs and task run records.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection" // transport-level failure
	KindTimeout    ErrorKind = "timeout"    // deadline exceeded
	KindRateLimit  ErrorKind = "rate_limit" // HTTP 429
	KindResponse   ErrorKind = "response"   // non-2xx from the provider
	KindParse      ErrorKind = "parse"      // reply body not decodable
)

// Error is a typed LLM call failure. The client performs no retries;
// callers decide what to do with each kind.
type Error struct {
	Kind       ErrorKind
	Protocol   string
	Status     int            // HTTP status for response/rate_limit kinds
	RetryAfter *time.Duration // from Retry-After on rate limits, when present
	Message    string
	LogID      int64 // the LLMLog row recorded for this call, 0 if none
	Err        error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s error (HTTP %d): %s", e.Protocol, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Protocol, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == kind
}

// transportError classifies a failed HTTP round-trip.
func transportError(protocol string, err error) *Error {
	kind := KindConnection
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	} else {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = KindTimeout
		}
	}
	return &Error{Kind: kind, Protocol: protocol, Message: err.Error(), Err: err}
}

// statusError classifies a non-2xx provider reply. message should carry
// the provider's own error text when parseable.
func statusError(protocol string, resp *http.Response, message string) *Error {
	e := &Error{Kind: KindResponse, Protocol: protocol, Status: resp.StatusCode, Message: message}
	if resp.StatusCode == http.StatusTooManyRequests {
		e.Kind = KindRateLimit
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			e.RetryAfter = &ra
		}
	}
	return e
}

// parseError wraps a body that came back 2xx but did not decode.
func parseError(protocol string, err error) *Error {
	return &Error{Kind: KindParse, Protocol: protocol, Message: err.Error(), Err: err}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
