package subman

import (
	"fmt"
	"time"
)

// SendError is a recoverable delivery failure: the service rejected this
// particular report but the agent should keep running.
type SendError struct {
	Message string
	Err     error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SendError) Unwrap() error { return e.Err }

// FatalError indicates a systemic problem (invalid credentials, broken
// configuration) that the executor cannot recover from. It propagates out
// and terminates the process.
type FatalError struct {
	Message string
	Err     error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *FatalError) Unwrap() error { return e.Err }

// ThrottleError is a flow-control signal, not a failure: the service is
// rate limiting and suggests when to retry.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
