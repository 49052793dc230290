package acquire

import (
	"context"
	"errors"
	"time"

	"github.com/randytsao24/tournee/internal/ors"
)

// Outcome classifies one request attempt
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeTransient
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransient:
		return "transient"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// State is where a request goes after an attempt
type State int

const (
	// StateRetry means wait Step.Wait then attempt again
	StateRetry State = iota
	StateDone
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateRetry:
		return "retry"
	case StateDone:
		return "done"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Step is the transition taken after an attempt
type Step struct {
	State State
	Wait  time.Duration
}

// RetryPolicy bounds the attempts per request and sets the backoff per
// outcome. Rate limiting backs off linearly with the attempt number.
type RetryPolicy struct {
	MaxAttempts    int
	RateLimitBase  time.Duration
	TransientDelay time.Duration
	ErrorDelay     time.Duration
}

// DefaultRetryPolicy matches the limits of the public routing service
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		RateLimitBase:  60 * time.Second,
		TransientDelay: 30 * time.Second,
		ErrorDelay:     10 * time.Second,
	}
}

// Next returns the transition after attempt (1-based) ended with outcome
func (p RetryPolicy) Next(outcome Outcome, attempt int) Step {
	if outcome == OutcomeSuccess {
		return Step{State: StateDone}
	}
	if attempt >= p.MaxAttempts {
		return Step{State: StateExhausted}
	}
	switch outcome {
	case OutcomeRateLimited:
		return Step{State: StateRetry, Wait: p.RateLimitBase * time.Duration(attempt)}
	case OutcomeTransient:
		return Step{State: StateRetry, Wait: p.TransientDelay}
	default:
		return Step{State: StateRetry, Wait: p.ErrorDelay}
	}
}

// NextFor is Next for the outcome of err. A rate limit answer that asks for
// a longer wait than the policy's backoff gets the longer wait.
func (p RetryPolicy) NextFor(err error, attempt int) Step {
	step := p.Next(Classify(err), attempt)
	var rateLimited *ors.RateLimitError
	if step.State == StateRetry && errors.As(err, &rateLimited) {
		step.Wait = max(step.Wait, rateLimited.RetryAfter)
	}
	return step
}

// Classify maps a request error to an outcome
func Classify(err error) Outcome {
	var (
		rateLimited *ors.RateLimitError
		transient   *ors.TransientError
		shape       *shapeError
	)
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &rateLimited):
		return OutcomeRateLimited
	case errors.As(err, &transient), errors.As(err, &shape), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTransient
	default:
		return OutcomeFailed
	}
}

// Sleeper waits between attempts and batches
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// ClockSleeper sleeps on the wall clock and wakes early on cancellation
var ClockSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
})
