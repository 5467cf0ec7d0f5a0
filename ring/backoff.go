package ring

import (
	"runtime"
	"time"
)

// Backoff is called between failed attempts of a blocking operation. attempt counts the consecutive failures so far,
// starting at 0.
type Backoff func(attempt int)

// DefaultBackoff yields the processor for a short while and then sleeps, doubling up to a millisecond.
var DefaultBackoff = ExponentialBackoff(64, time.Microsecond, time.Millisecond)

// SpinBackoff only yields the processor. It has the lowest latency and burns a core while waiting.
func SpinBackoff(int) {
	runtime.Gosched()
}

// SleepBackoff sleeps for d between every attempt.
func SleepBackoff(d time.Duration) Backoff {
	return func(int) {
		time.Sleep(d)
	}
}

// ExponentialBackoff yields for the first spins attempts, then sleeps starting at min and doubling until max.
func ExponentialBackoff(spins int, min, max time.Duration) Backoff {
	if min <= 0 {
		min = time.Microsecond
	}
	if max < min {
		max = min
	}

	return func(attempt int) {
		if attempt < spins {
			runtime.Gosched()
			return
		}

		d := min
		for i := spins; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		time.Sleep(d)
	}
}
