package retry

import (
	"errors"
	"math"
	"time"

	"github.com/AltairaLabs/segfetch/internal/coordinator/config"
)

// Policy defines how long a failed fetch session waits before it is restarted
// and how many consecutive failures it survives
type Policy struct {
	MaxRetries        int           // Maximum consecutive failures before the session is abandoned (0 = never restart)
	InitialDelay      time.Duration // Pause after the first failure
	MaxDelay          time.Duration // Maximum pause between restarts
	BackoffMultiplier float64       // Multiplier for exponential backoff (e.g., 2.0)
}

// DefaultPolicy returns the default retry policy for fetch sessions
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        config.DefaultMaxRetries,
		InitialDelay:      config.DefaultRetryInitialDelay,
		MaxDelay:          config.DefaultRetryMaxDelay,
		BackoffMultiplier: config.DefaultRetryBackoffMultiplier,
	}
}

// UnreliableNetworkPolicy returns a policy for producers behind lossy links:
// many restarts, short initial pause
func UnreliableNetworkPolicy() Policy {
	return Policy{
		MaxRetries:        50,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 1.5,
	}
}

// CalculateDelay calculates the next retry delay based on the current attempt number
// Uses exponential backoff
func (p *Policy) CalculateDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialDelay
	}

	// Calculate exponential backoff: initialDelay * (multiplier ^ retryCount)
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(retryCount))

	// Cap at maximum delay
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}

	return time.Duration(delay)
}

// ShouldRetry determines if a session should be restarted after failureCount
// consecutive failures
func (p *Policy) ShouldRetry(failureCount int) bool {
	return failureCount <= p.MaxRetries
}

// Validate checks if the retry policy configuration is valid
func (p *Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("MaxRetries must be non-negative")
	}
	if p.InitialDelay <= 0 {
		return errors.New("InitialDelay must be positive")
	}
	if p.MaxDelay <= 0 {
		return errors.New("MaxDelay must be positive")
	}
	if p.BackoffMultiplier <= 0 {
		return errors.New("BackoffMultiplier must be positive")
	}
	if p.InitialDelay > p.MaxDelay {
		return errors.New("InitialDelay cannot be greater than MaxDelay")
	}
	return nil
}
