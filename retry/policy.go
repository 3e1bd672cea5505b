// Package retry decides whether a failed upstream request is retried and
// how long to wait first. Only rate-limited responses are ever retried.
package retry

import (
	"context"
	"time"

	"github.com/pevans/newsharvest"
)

const (
	// DefaultMaxAttempts is the retry budget of one listing page fetch.
	DefaultMaxAttempts = 3
	// DefaultDelay is the wait before re-issuing a rate-limited request.
	DefaultDelay = 2 * time.Second
)

// Action tells the caller what to do after a failure.
type Action int

const (
	// Fail means the error propagates.
	Fail Action = iota
	// Retry means the same request is re-issued after Delay.
	Retry
)

func (a Action) String() string {
	if a == Retry {
		return "retry"
	}
	return "fail"
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Action Action
	Delay  time.Duration
	// Remaining is the attempt budget left after this decision.
	Remaining int
}

// Policy holds the attempt budget and backoff strategy. It has no I/O and no
// mutable state; callers own the remaining-attempts counter.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
}

// DefaultPolicy returns 3 attempts with a fixed 2 second delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     Fixed{Interval: DefaultDelay},
	}
}

// Decide maps an error kind and the remaining attempt budget to an action.
// RateLimited with budget left yields Retry and consumes one attempt; every
// other combination yields Fail without consuming anything.
func (p Policy) Decide(kind newsharvest.ErrorKind, remaining int) Decision {
	if kind != newsharvest.RateLimited || remaining <= 0 {
		return Decision{Action: Fail, Remaining: remaining}
	}

	attempt := p.MaxAttempts - remaining
	if attempt < 0 {
		attempt = 0
	}

	return Decision{
		Action:    Retry,
		Delay:     p.backoff().Delay(attempt),
		Remaining: remaining - 1,
	}
}

func (p Policy) backoff() Backoff {
	if p.Backoff == nil {
		return Fixed{Interval: DefaultDelay}
	}
	return p.Backoff
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
