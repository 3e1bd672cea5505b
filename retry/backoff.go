package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// ErrUnknownBackoff is returned by NewBackoff for an unsupported strategy
// name.
var ErrUnknownBackoff = errors.New("unknown backoff strategy")

// Backoff computes the wait before a retry. attempt is 0 for the first
// retry of a request, 1 for the second, and so on.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Fixed waits the same interval before every retry.
type Fixed struct {
	Interval time.Duration
}

func (f Fixed) Delay(int) time.Duration {
	return f.Interval
}

// Exponential multiplies the initial delay by Multiplier for each attempt,
// capped at Max when Max is positive.
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (e Exponential) Delay(attempt int) time.Duration {
	mult := e.Multiplier
	if mult <= 0 {
		mult = 2
	}

	f := float64(e.Initial) * math.Pow(mult, float64(attempt))
	if e.Max > 0 && f > float64(e.Max) {
		return e.Max
	}
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// Jittered spreads the delay of Base uniformly over
// [d*(1-Fraction), d*(1+Fraction)].
type Jittered struct {
	Base     Backoff
	Fraction float64

	// Float returns a value in [0,1). Defaults to math/rand/v2.
	Float func() float64
}

func (j Jittered) Delay(attempt int) time.Duration {
	d := j.Base.Delay(attempt)

	frac := j.Fraction
	if frac <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}

	float := j.Float
	if float == nil {
		float = rand.Float64
	}

	spread := float64(d) * frac
	return time.Duration(float64(d) - spread + 2*spread*float())
}

// Names accepted by NewBackoff.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
	BackoffJittered    = "jittered"
)

// NewBackoff builds a strategy by name: "fixed", "exponential" or
// "jittered". delay is the base interval; maxDelay caps the exponential
// strategies.
func NewBackoff(name string, delay, maxDelay time.Duration) (Backoff, error) {
	exp := Exponential{Initial: delay, Max: maxDelay, Multiplier: 2}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackoffFixed:
		return Fixed{Interval: delay}, nil
	case BackoffExponential:
		return exp, nil
	case BackoffJittered:
		return Jittered{Base: exp, Fraction: 0.5}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackoff, name)
	}
}
