// Package clock provides an injectable time source.
//
// Production code uses Real(). Tests use Fake(), which only moves when
// Advance or Set is called, so expiry deadlines can be driven
// deterministically instead of by sleeping.
package clock

import "time"

// Clock abstracts the two time operations the session loop needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	// If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time {
	if d <= 0 {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return time.After(d)
}
