package dicekv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCircuitBreakerConfig(t *testing.T) {
	newBreaker := NewCircuitBreakerConfig(1, time.Second, time.Second)

	cb := newBreaker("localhost:7379")
	require.NotNil(t, cb)
	assert.Equal(t, "localhost:7379", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_TripsOnEvictingErrors(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("test")

	fail := func() (*Response, error) {
		return nil, &ConnectionError{Op: "write", Err: errors.New("broken pipe")}
	}

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(fail)
		require.Error(t, err)
		assert.Equal(t, gobreaker.StateClosed, cb.State(), "needs at least 3 requests")
	}

	_, err := cb.Execute(fail)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err = cb.Execute(func() (*Response, error) {
		t.Fatal("an open breaker must not run the request")
		return nil, nil
	})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreaker_TimeoutsCount(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("test")

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(func() (*Response, error) {
			return nil, &TimeoutError{Op: "query", Timeout: time.Second}
		})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestCircuitBreaker_IgnoresNonEvictingErrors(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("test")

	errs := []error{
		&CommandError{Command: CmdSet, Message: "NX and XX are mutually exclusive"},
		&ServerError{Command: CmdHSet, Message: "WRONGTYPE"},
		&CommandError{Command: CmdGet, Message: "no connection bound"},
		&ServerError{Command: CmdIncr, Message: "value is not an integer"},
	}
	for _, want := range errs {
		_, err := cb.Execute(func() (*Response, error) { return nil, want })
		require.ErrorIs(t, err, want, "the error is returned unchanged")
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Zero(t, cb.Counts().TotalFailures)
}

func TestCircuitBreaker_RatioBelowThreshold(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("test")

	ok := func() (*Response, error) { return &Response{}, nil }
	fail := func() (*Response, error) { return nil, context.DeadlineExceeded }

	_, _ = cb.Execute(ok)
	_, _ = cb.Execute(ok)
	_, _ = cb.Execute(fail)
	_, _ = cb.Execute(ok)
	_, _ = cb.Execute(fail)

	assert.Equal(t, gobreaker.StateClosed, cb.State(), "2 failures out of 5 stay under the ratio")
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, 50*time.Millisecond)("test")

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(func() (*Response, error) { return nil, &ConnectionError{Op: "dial"} })
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	require.Eventually(t, func() bool { return cb.State() == gobreaker.StateHalfOpen }, time.Second, 5*time.Millisecond)

	_, err := cb.Execute(func() (*Response, error) { return &Response{}, nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
