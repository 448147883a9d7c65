package dicekv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireBackoff_Doubles(t *testing.T) {
	b := newAcquireBackoff(5*time.Millisecond, time.Second)

	require.Equal(t, 5*time.Millisecond, b.NextBackOff())
	require.Equal(t, 10*time.Millisecond, b.NextBackOff())
	require.Equal(t, 20*time.Millisecond, b.NextBackOff())
	require.Equal(t, 40*time.Millisecond, b.NextBackOff())
}

func TestAcquireBackoff_CappedAtMax(t *testing.T) {
	b := newAcquireBackoff(10*time.Millisecond, 25*time.Millisecond)

	require.Equal(t, 10*time.Millisecond, b.NextBackOff())
	require.Equal(t, 20*time.Millisecond, b.NextBackOff())
	require.Equal(t, 25*time.Millisecond, b.NextBackOff())
	require.Equal(t, 25*time.Millisecond, b.NextBackOff())
}

func TestAcquireBackoff_NeverStops(t *testing.T) {
	b := newAcquireBackoff(time.Millisecond, 2*time.Millisecond)

	for i := 0; i < 100; i++ {
		require.Positive(t, b.NextBackOff())
	}
}
