package push

import "time"

const (
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Backoff produces reconnect delays: the base delay doubled on each
// consecutive failure up to the cap, reset to the base on any successful
// connection. Not safe for concurrent use; the push client owns one.
type Backoff struct {
	base time.Duration
	max  time.Duration
	next time.Duration
}

func NewBackoff(base time.Duration, max time.Duration) *Backoff {
	return &Backoff{base: base, max: max, next: base}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the sequence.
func (b *Backoff) Next() time.Duration {
	delay := b.next
	doubled := b.next * 2
	if doubled > b.max {
		doubled = b.max
	}
	b.next = doubled
	return delay
}

// Reset restarts the sequence from the base delay.
func (b *Backoff) Reset() {
	b.next = b.base
}
