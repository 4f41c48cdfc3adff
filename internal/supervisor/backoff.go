package supervisor

import "time"

// backoff computes the restart delay for consecutive failures of one
// output. Delays grow exponentially up to a cap and never decrease
// until Reset, which the monitor calls after the process has run
// continuously past the stability threshold. There is no attempt
// ceiling: flaky cameras are expected to come back eventually.
type backoff struct {
	base     time.Duration
	max      time.Duration
	current  time.Duration
	failures int
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max, current: base}
}

// Next returns the delay before the next restart attempt along with the
// consecutive failure count, then advances the schedule.
func (b *backoff) Next() (time.Duration, int) {
	delay := b.current
	b.failures++

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return delay, b.failures
}

// Reset returns the schedule to the base delay after a recovery.
func (b *backoff) Reset() {
	b.current = b.base
	b.failures = 0
}
