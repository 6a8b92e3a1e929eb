// Package backoff provides jittered exponential backoff for retry loops,
// the way lib.JitterMs does in the teacher's retry paths (kafka publish,
// binlog reconnects).
package backoff

import "math/rand"

// JitterMs returns a random delay in milliseconds, exponentially backing
// off with attempts and capped at maxMs.
// https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
// sleep = random_between(0, min(cap, base * 2 ** attempt))
func JitterMs(baseMs, maxMs, attempts int) int {
	if attempts < 0 {
		attempts = 0
	}
	cap := min(maxMs, baseMs*(1<<attempts))
	if cap <= 0 {
		cap = 1
	}
	return rand.Intn(cap)
}
