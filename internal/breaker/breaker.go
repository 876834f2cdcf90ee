// Package breaker isolates a single failing upstream behind a circuit
// breaker. Each upstream binding owns exactly one Breaker instance; the
// breaker serializes its own state transitions, so concurrent callers cannot
// race the failure count past the threshold without the circuit opening.
package breaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrOpen is returned when the circuit is open and the wrapped operation was
// not attempted. It is distinct from upstream errors: callers must not retry
// through an open circuit, and must not treat it as an upstream response.
var ErrOpen = errors.New("circuit breaker open")

// Breaker wraps one upstream's outbound calls.
//
// While closed, failures accumulate until the threshold opens the circuit;
// a success does not reset the count (cumulative-until-threshold, matching
// the recovery-probe reset being the only reset point). While open, calls
// fail fast with ErrOpen until the recovery timeout elapses, after which a
// single trial call is allowed: success closes the circuit and resets the
// counters, failure reopens it.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// New creates a named breaker that opens after failureThreshold cumulative
// failures and probes recovery after recoveryTimeout. All state transitions
// are logged for operational visibility.
func New(name string, failureThreshold uint32, recoveryTimeout time.Duration, log *zap.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // exactly one half-open trial call
		Interval:    0, // never clear counts while closed
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit state change",
				zap.String("breaker", name),
				zap.String("from", stateString(from)),
				zap.String("to", stateString(to)),
			)
		},
	}

	return &Breaker{
		name: name,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// Run executes op through the breaker. When the circuit is open the operation
// is not invoked and the returned error wraps ErrOpen. Upstream errors count
// against the breaker and still propagate to the caller unchanged.
func (b *Breaker) Run(op func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrOpen, b.name)
	}
	return result, err
}

// Name returns the upstream binding this breaker protects.
func (b *Breaker) Name() string {
	return b.name
}

// State reports the current circuit state as CLOSED, OPEN or HALF_OPEN.
func (b *Breaker) State() string {
	return stateString(b.cb.State())
}

// IsOpen reports whether err originated from an open circuit rather than
// from the upstream itself.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}

func stateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "CLOSED"
	case gobreaker.StateOpen:
		return "OPEN"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}
