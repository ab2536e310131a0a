package schedule

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateCadence(t *testing.T) {
	cases := []struct {
		name    string
		base    time.Duration
		jitter  time.Duration
		wantErr error
	}{
		{"daily no jitter", 24 * time.Hour, 0, nil},
		{"daily with jitter", 24 * time.Hour, 2 * time.Hour, nil},
		{"jitter exceeds base", time.Hour, 3 * time.Hour, nil},
		{"zero base", 0, time.Hour, ErrInvalidInterval},
		{"negative base", -time.Hour, 0, ErrInvalidInterval},
		{"negative jitter", time.Hour, -time.Minute, ErrInvalidJitter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCadence(tc.base, tc.jitter)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestNextDelayBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := 7 * time.Hour
	jitter := 90 * time.Minute
	min := time.Minute

	for i := 0; i < 10_000; i++ {
		d := nextDelay(base, jitter, min, rng)
		require.GreaterOrEqual(t, d, base-jitter, "sample %d below lower bound", i)
		require.LessOrEqual(t, d, base+jitter, "sample %d above upper bound", i)
	}
}

func TestNextDelayNoJitterIsExact(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	require.Equal(t, 24*time.Hour, nextDelay(24*time.Hour, 0, time.Minute, rng))
}

func TestNextDelayFlooredAtMin(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	// Jitter wider than the base can sample negative delays; every sample
	// must still come out at or above the floor.
	base := 2 * time.Minute
	jitter := 3 * time.Hour
	min := time.Minute

	sawFloor := false
	for i := 0; i < 10_000; i++ {
		d := nextDelay(base, jitter, min, rng)
		require.GreaterOrEqual(t, d, min)
		if d == min {
			sawFloor = true
		}
	}
	require.True(t, sawFloor, "expected at least one sample clamped to the floor")
}

func TestKey(t *testing.T) {
	require.Equal(t, "42/@news", Key(42, "@news"))
	require.Equal(t, "-100123/@news", Key(-100123, "@news"))
	require.NotEqual(t, Key(1, "@a"), Key(1, "@b"))
	require.NotEqual(t, Key(1, "@a"), Key(2, "@a"))
}
