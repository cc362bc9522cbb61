package eosda

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/agrovista/satreport/internal/model"
)

// PollPolicy bounds how long and how often a task is polled. The overall
// budget is MaxAttempts * Interval; throttling replies extend individual
// waits but never the budget.
type PollPolicy struct {
	MaxAttempts   int
	Interval      time.Duration
	ThrottleSleep time.Duration
}

// ShortPollPolicy fits single-index, short-window statistics tasks.
func ShortPollPolicy() PollPolicy {
	return PollPolicy{MaxAttempts: 20, Interval: 5 * time.Second, ThrottleSleep: 12 * time.Second}
}

// BatchPollPolicy fits multi-index or long-window tasks, which routinely
// take minutes on the provider side.
func BatchPollPolicy() PollPolicy {
	return PollPolicy{MaxAttempts: 15, Interval: 10 * time.Second, ThrottleSleep: 12 * time.Second}
}

func (p PollPolicy) budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}

// WaitForTask polls a statistics task until it produces results, fails, or
// the policy's budget elapses. HTTP 429 from the provider counts as
// throttling and only stretches the next wait.
func (c *httpClient) WaitForTask(ctx context.Context, taskID string, policy PollPolicy) ([]model.Scene, error) {
	if policy.MaxAttempts <= 0 {
		policy = ShortPollPolicy()
	}

	deadline := c.clock().Add(policy.budget())
	attempts := 0

	for {
		attempts++
		st, err := c.GetTask(ctx, taskID)

		var httpErr *HTTPError
		switch {
		case err == nil:
			if st.Done() {
				zap.L().Debug("eosda: task complete",
					zap.String("task_id", taskID),
					zap.Int("scenes", len(st.Scenes)),
					zap.Int("polls", attempts),
				)
				return st.Scenes, nil
			}
			if st.Failed() {
				return nil, &TaskFailedError{TaskID: taskID, Reason: st.failReason()}
			}
		case errors.As(err, &httpErr) && httpErr.Throttled():
			zap.L().Warn("eosda: provider throttling during poll",
				zap.String("task_id", taskID),
				zap.Int("attempt", attempts),
			)
		default:
			return nil, err
		}

		wait := policy.Interval
		if httpErr != nil && httpErr.Throttled() {
			wait = policy.ThrottleSleep
		}
		if !c.clock().Add(wait).Before(deadline) {
			return nil, &TimeoutError{TaskID: taskID, Attempts: attempts}
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (t *TaskStatus) failReason() string {
	if len(t.Errors) > 0 {
		return t.Errors[0]
	}
	if t.Status != "" {
		return t.Status
	}
	return "unknown"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
