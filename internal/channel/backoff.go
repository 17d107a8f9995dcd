package channel

import "time"

// backoff tracks the reconnect delay schedule. The delay starts at the
// floor, doubles after each consecutive failure, and is capped at the
// ceiling; a successful open resets it. Deliberately deterministic so
// the schedule is predictable: floor 1s, ceiling 30s yields
// 1, 2, 4, 8, 16, 30, 30, ...
type backoff struct {
	floor   time.Duration
	ceiling time.Duration

	attempt int
	delay   time.Duration
}

func newBackoff(floor, ceiling time.Duration) *backoff {
	return &backoff{
		floor:   floor,
		ceiling: ceiling,
		delay:   floor,
	}
}

// current returns the wait before the next reconnect attempt.
func (b *backoff) current() time.Duration {
	return b.delay
}

// advance doubles the delay (capped at the ceiling) and increments the
// attempt counter. Called when a scheduled reconnect fires, before the
// attempt itself, so repeated failures escalate the wait.
func (b *backoff) advance() {
	b.attempt++
	next := b.delay * 2
	if next > b.ceiling {
		next = b.ceiling
	}
	b.delay = next
}

// reset restores the floor delay. Called on a successful open.
func (b *backoff) reset() {
	b.attempt = 0
	b.delay = b.floor
}
