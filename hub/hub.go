// Package hub holds state shared by every simulated device on one host,
// replacing process-wide globals with an object passed at construction.
package hub

import (
	"math"
	"sync/atomic"

	"github.jpl.nasa.gov/bdube/camacq/fault"
)

// Hub is the shared context for a group of simulated devices
type Hub struct {
	// Faults is consulted by devices before each public operation
	Faults *fault.Injector

	intensity uint64 // float64 bits
}

// New returns a hub with no faults and unit intensity
func New() *Hub {
	h := &Hub{Faults: fault.NewInjector()}
	h.SetIntensity(1)
	return h
}

// Intensity is the illumination scale applied by synthetic image generators
func (h *Hub) Intensity() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.intensity))
}

// SetIntensity sets the illumination scale.  Negative values are stored as 0.
func (h *Hub) SetIntensity(f float64) {
	if f < 0 || f != f {
		f = 0
	}
	atomic.StoreUint64(&h.intensity, math.Float64bits(f))
}
