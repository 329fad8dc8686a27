package pool

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed, counting
// executions so far). Strategies are stateless and safe for concurrent use.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay. Used mostly in tests.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(_ int) time.Duration { return c.Interval }

// ExponentialWithJitter doubles a base delay per attempt, caps it, and then
// draws a random value in [0, capped]. Full jitter prevents a thundering herd
// when many tasks of one job fail together.
type ExponentialWithJitter struct {
	Base time.Duration
	Cap  time.Duration
}

func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Cap > 0 && d > float64(e.Cap) {
		d = float64(e.Cap)
	}
	return time.Duration(rand.Float64() * d)
}
