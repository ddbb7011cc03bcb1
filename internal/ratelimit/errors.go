package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrLimitExceeded matches every ExceededError with errors.Is.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// ExceededError is returned when an attempt is over its action's limit. It is
// the same type whether the shared store or the local fallback decided.
type ExceededError struct {
	Action     Action
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d per %s", e.Action, e.Limit, e.Window)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}
