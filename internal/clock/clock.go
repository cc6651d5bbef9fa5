// Package clock abstracts the timers used by the ingestion loops so that
// backoff sleeps, inter-channel cooldowns and the refresh ticker can be
// driven deterministically in tests.
//
// Production code uses Real(). Tests use Fake(), call WaitForTimers to
// block until the code under test has registered its timer, then Advance
// to fire it.
package clock

import "time"

type Clock interface {
	Now() time.Time

	// After returns a channel that receives the current time after d.
	// If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C. The channel has capacity 1; ticks are
// dropped when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stopFunc: ticker.Stop}
}
