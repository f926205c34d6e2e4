package agent

import (
	"errors"
	"fmt"
)

// ErrMaxIterations is returned when an agent keeps calling tools past its limit.
var ErrMaxIterations = errors.New("agent exceeded max iterations")

// iterationLimiter enforces a maximum number of model calls per task.
type iterationLimiter struct {
	max   int
	count int
}

// newIterationLimiter creates a limiter; max <= 0 means unlimited.
func newIterationLimiter(max int) *iterationLimiter {
	return &iterationLimiter{max: max}
}

// Increment increases the call counter and returns an error if the limit is exceeded.
func (l *iterationLimiter) Increment() error {
	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("%w: %d", ErrMaxIterations, l.max)
	}
	return nil
}

// Count returns the number of calls made so far.
func (l *iterationLimiter) Count() int { return l.count }
