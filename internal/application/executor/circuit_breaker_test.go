package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	})

	failing := func() error { return errors.New("boom") }

	assert.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateClosed, cb.State())

	assert.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func() error { return nil })
	var openErr *CircuitBreakerOpenError
	require.ErrorAs(t, err, &openErr)
}

func TestCircuitBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:      1,
		SuccessThreshold:      1,
		Timeout:               10 * time.Millisecond,
		MaxConcurrentRequests: 1,
	})

	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:      1,
		SuccessThreshold:      1,
		Timeout:               10 * time.Millisecond,
		MaxConcurrentRequests: 1,
	})

	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("still broken") }))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenRejectsBeyondMaxConcurrent(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:      1,
		SuccessThreshold:      2,
		Timeout:               10 * time.Millisecond,
		MaxConcurrentRequests: 1,
	})

	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("boom") }))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.beforeRequest())
	err := cb.beforeRequest()
	var openErr *CircuitBreakerOpenError
	require.ErrorAs(t, err, &openErr)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerRegistry_GetIsPerKeyAndCached(t *testing.T) {
	reg := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())

	cbA1 := reg.Get("node-a")
	cbA2 := reg.Get("node-a")
	cbB := reg.Get("node-b")

	assert.Same(t, cbA1, cbA2)
	assert.NotSame(t, cbA1, cbB)
}

func TestCircuitBreakerRegistry_ResetAll(t *testing.T) {
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	cb := reg.Get("node-a")
	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	reg.ResetAll()
	assert.Equal(t, StateClosed, cb.State())
}
