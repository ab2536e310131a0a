package schedule

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var (
	ErrInvalidInterval = errors.New("base interval must be positive")
	ErrInvalidJitter   = errors.New("jitter must not be negative")
)

// Key derives the job key for a (tenant, channel) pair. The same key
// addresses the timer registry and the channel's slot in the tenant document.
func Key(tenantID int64, channelID string) string {
	return fmt.Sprintf("%d/%s", tenantID, channelID)
}

// ValidateCadence checks a posting cadence. Jitter larger than the base
// interval is deliberately legal: the minimum-delay floor protects against
// a negative sampled delay, and highly variable cadences are a feature.
func ValidateCadence(base, jitter time.Duration) error {
	if base <= 0 {
		return ErrInvalidInterval
	}
	if jitter < 0 {
		return ErrInvalidJitter
	}
	return nil
}

// nextDelay samples the next posting delay uniformly from
// [base-jitter, base+jitter] and floors it at min.
func nextDelay(base, jitter, min time.Duration, rng *rand.Rand) time.Duration {
	d := base
	if jitter > 0 {
		d += time.Duration((rng.Float64()*2 - 1) * float64(jitter))
	}
	if d < min {
		d = min
	}
	return d
}
