package scm

import (
	"math"
	"time"
)

const maxBackoff = 30 * time.Second

// RetryPolicy configures retries of transient GitHub API failures.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2.0,
	}
}

// CalculateBackoff returns the wait before the given attempt number.
// Uses exponential backoff: initial * multiplier^(attempt-1).
func CalculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	if attempt <= 1 {
		return policy.InitialBackoff
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	backoff := float64(policy.InitialBackoff) * math.Pow(multiplier, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(backoff)
}
