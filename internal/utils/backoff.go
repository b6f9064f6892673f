package utils

import "time"

// Backoff produces an exponentially increasing delay sequence, capped
// at max, starting from start. Mirrors the reconnect backoff loop in
// the teacher's toytlv TCP transport (double on each failure, clamp at
// a ceiling), generalized for any retry loop (task retries,
// replication peer cool-down).
type Backoff struct {
	Start time.Duration
	Max   time.Duration

	current time.Duration
}

// Next returns the next delay and advances internal state.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Start
	}
	d := b.current
	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset returns the backoff to its initial state.
func (b *Backoff) Reset() {
	b.current = 0
}
