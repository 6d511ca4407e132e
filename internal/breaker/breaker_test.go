package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 5, OpenTimeout: 50 * time.Millisecond})

	failing := errors.New("boom")
	for i := 0; i < 5; i++ {
		err := r.Execute("e1", func() error { return failing })
		require.ErrorIs(t, err, failing)
	}

	// the sixth call should be short-circuited without invoking attempt
	called := false
	err := r.Execute("e1", func() error { called = true; return nil })

	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "attempt must not run while the circuit is open")
}

func TestHalfOpenTrialClosesOnSuccess(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, OpenTimeout: 10 * time.Millisecond})

	failing := errors.New("boom")
	for i := 0; i < 2; i++ {
		_ = r.Execute("e1", func() error { return failing })
	}
	require.ErrorIs(t, r.Execute("e1", func() error { return nil }), ErrOpen)

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.Execute("e1", func() error { return nil }))
	// circuit should be closed now: consecutive failures below threshold
	require.NoError(t, r.Execute("e1", func() error { return nil }))
}

func TestHalfOpenTrialReopensOnFailure(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, OpenTimeout: 10 * time.Millisecond})

	failing := errors.New("boom")
	require.ErrorIs(t, r.Execute("e1", func() error { return failing }), failing)
	require.ErrorIs(t, r.Execute("e1", func() error { return nil }), ErrOpen)

	time.Sleep(20 * time.Millisecond)

	require.ErrorIs(t, r.Execute("e1", func() error { return failing }), failing)
	require.ErrorIs(t, r.Execute("e1", func() error { return nil }), ErrOpen)
}

func TestEndpointsAreIndependent(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, OpenTimeout: time.Minute})

	failing := errors.New("boom")
	_ = r.Execute("e1", func() error { return failing })
	require.ErrorIs(t, r.Execute("e1", func() error { return nil }), ErrOpen)

	require.NoError(t, r.Execute("e2", func() error { return nil }))
}
