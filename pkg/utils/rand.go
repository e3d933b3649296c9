package utils

import (
	"math"
	"math/rand"
	"time"
)

// RandSource is a seeded random number generator. It is not safe for
// concurrent use; give each goroutine (or each trial) its own source.
type RandSource struct {
	rng *rand.Rand
}

// NewRandSource creates a new random source with the given seed.
// A zero seed uses the current time.
func NewRandSource(seed int64) *RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandSource{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// DeriveSeed mixes a base seed with a stream index (splitmix64) so that every
// trial index gets an independent, reproducible stream.
func DeriveSeed(seed int64, stream int) int64 {
	z := uint64(seed) + uint64(stream+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	out := int64(z & math.MaxInt64)
	if out == 0 {
		out = 1
	}
	return out
}

// Float64 returns a random float64 in [0.0, 1.0)
func (r *RandSource) Float64() float64 {
	return r.rng.Float64()
}

// Intn returns a random int in [0, n)
func (r *RandSource) Intn(n int) int {
	return r.rng.Intn(n)
}

// UniformFloat64 returns a uniformly distributed random number in [min, max)
func (r *RandSource) UniformFloat64(min, max float64) float64 {
	return min + r.rng.Float64()*(max-min)
}

// LogUniformFloat64 returns a log-uniformly distributed number in [min, max).
// Both bounds must be positive.
func (r *RandSource) LogUniformFloat64(min, max float64) float64 {
	lo, hi := math.Log(min), math.Log(max)
	return math.Exp(lo + r.rng.Float64()*(hi-lo))
}

// Global default random source, used for backoff jitter
var defaultRand = NewRandSource(0)

// Float64 returns a random float64 from the default source
func Float64() float64 {
	return defaultRand.Float64()
}
