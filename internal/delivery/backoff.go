package delivery

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: base × 2^attempt, capped at Max, plus a
// random jitter of up to one base unit. The first retry therefore waits
// twice the base delay.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// Jitter returns a duration in [0, n). Nil uses math/rand.
	Jitter func(n time.Duration) time.Duration
}

// Delay returns the wait before the attempt following the given number of
// failed attempts.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			delay = b.Max
			break
		}
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}

	return delay + b.jitter()
}

func (b Backoff) jitter() time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if b.Jitter != nil {
		return b.Jitter(b.Base)
	}
	return rand.N(b.Base)
}
