package resilience

import (
	"time"
)

// RetryOverrides carries the operator-tuned retry knobs from the
// environment. Zero fields fall back to DefaultRetryConfig.
type RetryOverrides struct {
	MaxAttempts      int
	InitialBackoffMs int
	MaxBackoffMs     int
	Multiplier       float64
	JitterFraction   float64
}

func (o RetryOverrides) Build() RetryConfig {
	cfg := DefaultRetryConfig()
	if o.MaxAttempts > 0 {
		cfg.MaxAttempts = o.MaxAttempts
	}
	if o.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(o.InitialBackoffMs) * time.Millisecond
	}
	if o.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(o.MaxBackoffMs) * time.Millisecond
	}
	if o.Multiplier > 0 {
		cfg.Multiplier = o.Multiplier
	}
	if o.JitterFraction >= 0 {
		cfg.JitterFraction = o.JitterFraction
	}
	return cfg
}

// CircuitOverrides carries the operator-tuned breaker knobs. Zero
// fields fall back to DefaultCircuitBreakerConfig.
type CircuitOverrides struct {
	FailureThreshold int
	ResetTimeoutSecs int
}

func (o CircuitOverrides) Build() CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if o.FailureThreshold > 0 {
		cfg.FailureThreshold = o.FailureThreshold
	}
	if o.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(o.ResetTimeoutSecs) * time.Second
	}
	return cfg
}
