package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                  // maximum number of connections
	onLease int                  // number of connections given out, <= maxSize
	timeout time.Duration        // time after all are returned to free idle connections
	idle    []io.ReadWriteCloser // connections ready for reuse
	leases  chan struct{}        // semaphore, one token per connection given out
	timer   *time.Timer          // reclaims idle connections; nil when not armed
	maker   CreationFunc

	mu sync.Mutex
}

// NewPool creates a pool of at most maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{
		maxSize: maxSize,
		timeout: timeout,
		leases:  make(chan struct{}, maxSize),
		maker:   maker,
	}
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).
//
// If the error from Get is not nil, you must not return it
// to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.leases <- struct{}{}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.onLease++
		return c, nil
	}
	c, err := p.maker()
	if err != nil {
		<-p.leases
		return nil, err
	}
	p.onLease++
	return c, nil
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	p.idle = append(p.idle, rwc)
	p.onLease--
	if p.onLease == 0 {
		p.startReclaim()
	}
	p.mu.Unlock()
	<-p.leases
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	if rwc, ok := rw.(io.Closer); ok {
		rwc.Close()
	}
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
	<-p.leases
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// startReclaim arms the timer that closes idle connections.  p.mu is held.
func (p *Pool) startReclaim() {
	if p.timer != nil {
		p.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.timer != t {
			return // a Get re-armed or cancelled us
		}
		for _, c := range p.idle {
			c.Close()
		}
		p.idle = nil
		p.timer = nil
	})
	p.timer = t
}
