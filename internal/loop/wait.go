package loop

import (
	"math"
	"math/rand/v2"
	"time"
)

// WaitPolicy yields the pause before each cycle.
type WaitPolicy interface {
	Next() time.Duration
}

// FixedWait always waits the same duration ("fast" speed).
type FixedWait time.Duration

func (f FixedWait) Next() time.Duration { return time.Duration(f) }

// RandomWait draws ceil(|N(mu, sigma)|) seconds ("random" speed).
type RandomWait struct {
	mu, sigma float64
	rng       *rand.Rand
}

// NewRandomWait creates a normal-jitter policy with mean mu and standard
// deviation sigma, both in seconds. A nil src uses a time-seeded PCG.
func NewRandomWait(mu, sigma float64, src rand.Source) *RandomWait {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1|1)
	}
	return &RandomWait{mu: mu, sigma: sigma, rng: rand.New(src)}
}

// maxWaitSeconds is the largest whole-second wait a time.Duration can hold.
const maxWaitSeconds = float64(math.MaxInt64 / int64(time.Second))

// Next never returns a negative duration. Draws that are not finite or do
// not fit in a time.Duration are clamped to the longest representable wait.
func (r *RandomWait) Next() time.Duration {
	sample := r.rng.NormFloat64()*r.sigma + r.mu
	secs := math.Ceil(math.Abs(sample))
	if math.IsNaN(secs) || secs > maxWaitSeconds {
		secs = maxWaitSeconds
	}
	return time.Duration(secs) * time.Second
}
