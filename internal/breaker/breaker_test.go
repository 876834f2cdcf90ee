package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errUpstream = errors.New("upstream boom")

func failingOp() (interface{}, error) {
	return nil, errUpstream
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	b := New("test", 3, time.Minute, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := b.Run(failingOp)
		require.ErrorIs(t, err, errUpstream)
		assert.Equal(t, "CLOSED", b.State())
	}

	// Third consecutive failure trips the circuit.
	_, err := b.Run(failingOp)
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "OPEN", b.State())
}

func TestOpenCircuitFailsFastWithoutInvoking(t *testing.T) {
	b := New("test", 3, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		b.Run(failingOp)
	}
	require.Equal(t, "OPEN", b.State())

	invoked := false
	_, err := b.Run(func() (interface{}, error) {
		invoked = true
		return nil, nil
	})

	require.ErrorIs(t, err, ErrOpen)
	assert.True(t, IsOpen(err))
	assert.False(t, invoked, "wrapped operation must not run while the circuit is open")
}

func TestUpstreamErrorIsNotErrOpen(t *testing.T) {
	b := New("test", 5, time.Minute, zap.NewNop())

	_, err := b.Run(failingOp)
	require.Error(t, err)
	assert.False(t, IsOpen(err))
}

func TestCumulativeFailuresNotResetBySuccess(t *testing.T) {
	b := New("test", 3, time.Minute, zap.NewNop())

	b.Run(failingOp)
	b.Run(failingOp)

	// An interleaved success does not reset the accumulated failure count.
	_, err := b.Run(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)

	b.Run(failingOp)
	assert.Equal(t, "OPEN", b.State())
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	b := New("test", 2, 40*time.Millisecond, zap.NewNop())

	b.Run(failingOp)
	b.Run(failingOp)
	require.Equal(t, "OPEN", b.State())

	time.Sleep(60 * time.Millisecond)

	result, err := b.Run(func() (interface{}, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, "CLOSED", b.State())

	// Counters were reset: the next single failure must not reopen the circuit.
	b.Run(failingOp)
	assert.Equal(t, "CLOSED", b.State())
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	b := New("test", 2, 40*time.Millisecond, zap.NewNop())

	b.Run(failingOp)
	b.Run(failingOp)
	require.Equal(t, "OPEN", b.State())

	time.Sleep(60 * time.Millisecond)

	_, err := b.Run(failingOp)
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "OPEN", b.State())

	// And it fails fast again until the next recovery window.
	_, err = b.Run(failingOp)
	assert.ErrorIs(t, err, ErrOpen)
}
