package channels

import "time"

const (
	backoffBase = 2 * time.Second
	backoffMax  = 5 * time.Minute
)

// Backoff computes exponential reconnect delays for adapters. Reset on
// successful (re)connect, advanced on each failure. Not safe for concurrent
// use; each adapter owns one.
type Backoff struct {
	attempt int
}

// Next returns the delay before the next reconnect attempt and advances the
// attempt counter.
func (b *Backoff) Next() time.Duration {
	d := backoffBase << b.attempt
	if d > backoffMax || d <= 0 {
		d = backoffMax
	}
	b.attempt++
	return d
}

// Attempt returns the number of consecutive failures so far.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset clears the failure counter after a successful connect.
func (b *Backoff) Reset() { b.attempt = 0 }
