package newsharvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies upstream failures.
type ErrorKind int

const (
	// Transient covers network failures, timeouts and 5xx responses. They
	// are not retried at this layer.
	Transient ErrorKind = iota
	// RateLimited is a 429 response; it is the only retryable kind.
	RateLimited
	// Fatal covers 4xx responses other than 429 and malformed payloads.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Fatal:
		return "fatal"
	default:
		return "transient"
	}
}

// ErrRetriesExhausted is returned when a rate-limited request ran out of
// attempts.
var ErrRetriesExhausted = errors.New("retries exhausted after rate limiting")

// FetchError describes a failed upstream request.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (%d %s)", e.URL, e.Kind, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusKind maps a non-2xx HTTP status to its error kind.
func StatusKind(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return RateLimited
	case code >= 400 && code < 500:
		return Fatal
	default:
		return Transient
	}
}

// IsSuccess reports whether code is a 2xx status.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}

// KindOf returns the kind carried by err. Cancellation is Fatal; anything
// that is not a *FetchError is treated as a transport failure.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	return Transient
}
