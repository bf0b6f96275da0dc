package utils

import (
	"math/rand"
	"sync"
)

// Rand is the subset of *rand.Rand used by anything that makes stochastic decisions, so tests can
// substitute a seeded or scripted source.
type Rand interface {
	Float64() float64
	NormFloat64() float64
}

// lockedRand makes a *rand.Rand safe for concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand returns a goroutine-safe Rand seeded with seed.
func NewLockedRand(seed int64) Rand {
	//nolint:gosec
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (lr *lockedRand) Float64() float64 {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.r.Float64()
}

func (lr *lockedRand) NormFloat64() float64 {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.r.NormFloat64()
}
