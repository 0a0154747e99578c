package bridgeerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableKinds(t *testing.T) {
	assert.True(t, Transport("boom", nil).Retryable())
	assert.True(t, StoreUnavailable("boom", nil).Retryable())
	assert.False(t, Configuration("boom", nil).Retryable())
	assert.False(t, Integrity("boom", nil).Retryable())
	assert.False(t, TypeCoercion("boom", nil).Retryable())
	assert.False(t, BufferFull("boom").Retryable())
	assert.False(t, Cancelled("boom").Retryable())
}

func TestFatalKinds(t *testing.T) {
	assert.True(t, Configuration("boom", nil).Fatal())
	assert.False(t, Transport("boom", nil).Fatal())
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := StoreUnavailable("write failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestAsWalksWrappedChain(t *testing.T) {
	inner := TypeCoercion("bad value", nil)
	wrapped := fmt.Errorf("validating message: %w", inner)

	found, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindTypeCoercion, found.Kind)
}

func TestAsReturnsFalseForPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	assert.False(t, ok)
}
