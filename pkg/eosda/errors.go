package eosda

import (
	"errors"
	"fmt"

	"github.com/agrovista/satreport/internal/resilience"
)

const maxBodyExcerpt = 512

// HTTPError is returned when the provider responds with a non-2xx status
// on a synchronous endpoint. The original status is preserved so callers
// can special-case throttling.
type HTTPError struct {
	Status      int
	BodyExcerpt string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("eosda: HTTP %d: %s", e.Status, e.BodyExcerpt)
}

// Throttled reports whether the error is the provider's rate-limit reply.
func (e *HTTPError) Throttled() bool { return e.Status == 429 }

// TaskFailedError is returned when a statistics task reports a failed
// status or non-empty errors with no results.
type TaskFailedError struct {
	TaskID string
	Reason string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("eosda: task %s failed: %s", e.TaskID, e.Reason)
}

// TimeoutError is returned when a polling budget elapses without the task
// producing results.
type TimeoutError struct {
	TaskID   string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("eosda: task %s timed out after %d polls", e.TaskID, e.Attempts)
}

// ShouldTrip classifies provider errors for a circuit breaker. Server
// faults and network errors trip it; 429 throttling is quota pressure, not
// an outage, and must not open the circuit.
func ShouldTrip(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status >= 500
	}
	return resilience.IsTransient(err)
}

func excerpt(body []byte) string {
	if len(body) > maxBodyExcerpt {
		return string(body[:maxBodyExcerpt])
	}
	return string(body)
}
