// Package fault provides a probabilistic error source used to exercise the
// error paths of simulated hardware.
package fault

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ErrRateOutOfRange is generated when a rate outside [0,1] is set
type ErrRateOutOfRange struct {
	Rate float64
}

func (e ErrRateOutOfRange) Error() string {
	return fmt.Sprintf("fault rate %g outside [0, 1]", e.Rate)
}

// Injector decides whether an operation should fail.  It is safe for
// concurrent use.
type Injector struct {
	mu   sync.Mutex
	rate float64
	rng  *rand.Rand
}

// NewInjector returns an injector with rate zero, which never fails
func NewInjector() *Injector {
	return NewInjectorWithSeed(time.Now().UnixNano())
}

// NewInjectorWithSeed returns an injector whose decisions are reproducible
func NewInjectorWithSeed(seed int64) *Injector {
	return &Injector{rng: rand.New(rand.NewSource(seed))}
}

// SetRate sets the failure probability
func (i *Injector) SetRate(r float64) error {
	if r < 0 || r > 1 || r != r {
		return ErrRateOutOfRange{Rate: r}
	}
	i.mu.Lock()
	i.rate = r
	i.mu.Unlock()
	return nil
}

// Rate returns the failure probability
func (i *Injector) Rate() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rate
}

// ShouldFail returns true with probability Rate.  A rate of zero never fails
// and a rate of one always fails.
func (i *Injector) ShouldFail() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.rate <= 0 {
		return false
	}
	return i.rng.Float64() < i.rate
}
