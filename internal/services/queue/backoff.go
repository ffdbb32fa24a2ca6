package queue

import (
	"math/rand"
	"time"
)

// backoff computes the delay before the next retry attempt: exponential in
// the attempt number, capped, with full jitter so reconnecting devices do
// not hammer the API in lockstep.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	if delay <= 0 {
		return 0
	}

	// Jitter within [delay/2, delay].
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
