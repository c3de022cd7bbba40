package retry

import (
	"errors"
	"time"

	"github.com/vietddude/anchorgate/internal/resilience/classify"
)

// Outcome describes how a retried call ended.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	// OutcomeFailed means a non-retryable failure stopped the loop.
	OutcomeFailed
	// OutcomeExhausted means every attempt failed with a retryable error.
	OutcomeExhausted
	OutcomeCancelled
	// OutcomeRateLimited means the local gate denied the call; no attempt was made.
	OutcomeRateLimited
	// OutcomeNotAttempted means MaxAttempts was zero.
	OutcomeNotAttempted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeNotAttempted:
		return "not_attempted"
	default:
		return "unknown"
	}
}

// ErrNotAttempted is the error of an OutcomeNotAttempted result.
var ErrNotAttempted = errors.New("no attempts configured")

// Result is the final report of a retried call.
type Result struct {
	Outcome Outcome
	Value   any
	// Err is the last raw error, nil on success.
	Err        error
	Classified classify.ClassifiedError
	Attempts   int
	TotalDelay time.Duration
}

// Succeeded reports whether the operation eventually returned a value.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}
