package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingCall(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func okCall(context.Context) error { return nil }

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	calls := 0
	err := cb.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), failingCall("provider unavailable"))
	}
	require.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Error("call must not run while the circuit is open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessClearsFailureRun(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})

	_ = cb.Execute(context.Background(), failingCall("provider unavailable"))
	_ = cb.Execute(context.Background(), failingCall("provider unavailable"))
	assert.Equal(t, 2, cb.Failures())
	assert.Equal(t, CircuitClosed, cb.State())

	require.NoError(t, cb.Execute(context.Background(), okCall))
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_ProbeClosesAfterTimeout(t *testing.T) {
	t.Parallel()
	base := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
	})
	cb.now = func() time.Time { return base }

	_ = cb.Execute(context.Background(), failingCall("provider unavailable"))
	_ = cb.Execute(context.Background(), failingCall("provider unavailable"))
	require.Equal(t, CircuitOpen, cb.State())

	cb.now = func() time.Time { return base.Add(200 * time.Millisecond) }
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), okCall))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()
	base := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
	})
	cb.now = func() time.Time { return base }

	_ = cb.Execute(context.Background(), failingCall("provider unavailable"))
	_ = cb.Execute(context.Background(), failingCall("provider unavailable"))

	cb.now = func() time.Time { return base.Add(200 * time.Millisecond) }
	_ = cb.Execute(context.Background(), failingCall("provider still down"))

	// The probe failure restarted the open window, so the next call is
	// rejected without running.
	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Error("call must not run after a failed probe")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, cb.Failures())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	type hop struct{ from, to CircuitState }
	var seen []hop
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			seen = append(seen, hop{from, to})
		},
	})

	_ = cb.Execute(context.Background(), failingCall("provider unavailable"))
	_ = cb.Execute(context.Background(), failingCall("provider unavailable"))

	require.Len(t, seen, 1)
	assert.Equal(t, hop{CircuitClosed, CircuitOpen}, seen[0])
}

func TestCircuitBreaker_ShouldTripPredicate(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		ShouldTrip: func(err error) bool {
			return err.Error() != "quota exhausted"
		},
	})

	// Quota rejections are expected during polling and must not open
	// the circuit no matter how many arrive.
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), failingCall("quota exhausted"))
	}
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(context.Background(), failingCall("bad gateway"))
	_ = cb.Execute(context.Background(), failingCall("bad gateway"))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})

	_ = cb.Execute(context.Background(), failingCall("provider unavailable"))
	_ = cb.Execute(context.Background(), failingCall("provider unavailable"))
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), okCall))
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 100,
		ResetTimeout:     time.Minute,
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(context.Context) error {
				if i%2 == 0 {
					return errors.New("provider unavailable")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
}

func TestCircuitState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}
