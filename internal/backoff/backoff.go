package backoff

import "time"

const (
	base    = 1000 * time.Millisecond
	ceiling = 30000 * time.Millisecond
)

// Delay returns the wait before attempt n+1: doubling from 1s, capped
// at 30s. Used by both the retry worker and the stream client so a
// struggling downstream sees the same pressure curve from both sides.
func Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}
