// Package trigger contains devices which can be pulsed to start an exposure,
// and a registry through which cameras look them up by name.
package trigger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/camacq/comm"
)

const (
	// PropTrigger is the property set to pulse a trigger device
	PropTrigger = "Trigger"

	// Pulse is the value written to PropTrigger to fire once
	Pulse = "+"
)

var (
	// ErrNotAcknowledged is generated when a remote does not reply OK
	ErrNotAcknowledged = errors.New("trigger not acknowledged by remote")

	// ErrUnknownDevice is generated when a name is not in a Registry
	ErrUnknownDevice = errors.New("no trigger device by that name")
)

// Device is anything with string properties that can be set.  A camera
// pulses a trigger with SetProperty(PropTrigger, Pulse).
type Device interface {
	SetProperty(name, value string) error
}

// Registry maps device names to devices.  It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	devs map[string]Device
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{devs: map[string]Device{}}
}

// Register adds or replaces a device
func (r *Registry) Register(name string, d Device) {
	r.mu.Lock()
	r.devs[name] = d
	r.mu.Unlock()
}

// Lookup returns the device registered as name
func (r *Registry) Lookup(name string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devs[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownDevice)
	}
	return d, nil
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.devs))
	for k := range r.devs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Counter is an in-process device which counts trigger pulses and remembers
// every other property it is given
type Counter struct {
	sync.Mutex

	pulses int
	props  map[string]string
}

// NewCounter returns a Counter with no pulses
func NewCounter() *Counter {
	return &Counter{props: map[string]string{}}
}

// SetProperty implements Device
func (c *Counter) SetProperty(name, value string) error {
	c.Lock()
	defer c.Unlock()
	if name == PropTrigger && value == Pulse {
		c.pulses++
		return nil
	}
	c.props[name] = value
	return nil
}

// Pulses returns the number of trigger pulses received
func (c *Counter) Pulses() int {
	c.Lock()
	defer c.Unlock()
	return c.pulses
}

// Property returns the last value set for name
func (c *Counter) Property(name string) (string, bool) {
	c.Lock()
	defer c.Unlock()
	v, ok := c.props[name]
	return v, ok
}

// Remote is a trigger box reached over TCP or RS232 which accepts
// "<name> <value>\r" and replies "OK\r"
type Remote struct {
	// Addr is the network or serial location of the device
	Addr string

	pool *comm.Pool
}

// NewRemote returns a Remote at addr.  baud is only used when isSerial.
func NewRemote(addr string, isSerial bool, baud int) *Remote {
	maker := comm.Maker(addr, isSerial, baud)
	return &Remote{Addr: addr, pool: comm.NewPool(1, 30*time.Second, maker)}
}

// SetProperty implements Device
func (r *Remote) SetProperty(name, value string) error {
	conn, err := r.pool.Get()
	if err != nil {
		return err
	}
	resp, err := comm.SendRecv(conn, []byte(name+" "+value), comm.CR)
	if err != nil {
		r.pool.Destroy(conn)
		return err
	}
	r.pool.Put(conn)
	if string(resp) != "OK" {
		return fmt.Errorf("%s replied %q: %w", r.Addr, resp, ErrNotAcknowledged)
	}
	return nil
}
