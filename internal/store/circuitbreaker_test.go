package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := newCircuitBreaker(3, 50*time.Millisecond)
	assert.True(t, cb.canProceed())

	cb.recordFailure()
	cb.recordFailure()
	assert.True(t, cb.canProceed(), "still below threshold")

	cb.recordFailure()
	assert.False(t, cb.canProceed())
	assert.Equal(t, "open", cb.String())
}

func TestCircuitBreaker_HalfOpensAfterTimeout(t *testing.T) {
	cb := newCircuitBreaker(1, 10*time.Millisecond)
	cb.recordFailure()
	assert.False(t, cb.canProceed())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.canProceed())
	assert.Equal(t, "half_open", cb.String())
}

func TestCircuitBreaker_ClosesAfterSuccessfulHalfOpenAttempts(t *testing.T) {
	cb := newCircuitBreaker(1, 5*time.Millisecond)
	cb.recordFailure()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, cb.canProceed())

	cb.recordSuccess()
	cb.recordSuccess()
	cb.recordSuccess()
	assert.Equal(t, "closed", cb.String())
}

func TestCircuitBreaker_DefaultsAppliedForZeroValues(t *testing.T) {
	cb := newCircuitBreaker(0, 0)
	assert.Equal(t, 5, cb.threshold)
	assert.Equal(t, 30*time.Second, cb.timeout)
}
