// Package backoff computes delays between attempts. Strategies are stateless
// and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy returns the delay before attempt n (1-indexed)
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same interval every time
type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(int) time.Duration { return c.Interval }

// Linear grows by Initial per attempt, capped at Max when Max > 0
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

func (l *Linear) Delay(attempt int) time.Duration {
	return capped(l.Initial*time.Duration(max(attempt, 1)), l.Max)
}

// Exponential doubles per attempt: Initial * 2^(attempt-1), capped at Max when Max > 0
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(exponential(e.Initial, attempt), e.Max)
}

// Jitter picks a random delay in [0, exponential delay]
type Jitter struct {
	Initial time.Duration
	Max     time.Duration
}

func NewJitter(initial, maxDelay time.Duration) *Jitter {
	return &Jitter{Initial: initial, Max: maxDelay}
}

func (j *Jitter) Delay(attempt int) time.Duration {
	ceiling := capped(exponential(j.Initial, attempt), j.Max)
	return time.Duration(rand.Float64() * float64(ceiling)) //nolint:gosec // jitter does not need crypto rand
}

// Poll is the re-poll schedule for empty queues: 2s, 4s, 8s ... up to a minute.
func Poll() Strategy {
	return NewExponential(2*time.Second, time.Minute)
}

// Default is used for queue I/O retries
func Default() Strategy {
	return NewJitter(100*time.Millisecond, 5*time.Second)
}

func exponential(initial time.Duration, attempt int) time.Duration {
	f := float64(initial) * math.Pow(2, float64(max(attempt, 1)-1))
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func capped(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
