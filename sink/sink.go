// Package sink contains host-side frame queues that receive frames from an
// acquiring camera.
package sink

import (
	"errors"
	"sync"

	"github.jpl.nasa.gov/bdube/camacq/camera"
)

// ErrEmpty is generated when a frame is requested from an empty sink
var ErrEmpty = errors.New("no frames in sink")

// Frame is one image held by a sink
type Frame struct {
	Pix                []byte
	Width, Height, Bpp int
	Metadata           camera.Metadata
}

// Stats counts what a sink has seen
type Stats struct {
	// Inserted is the number of counted frames accepted
	Inserted int64 `json:"inserted"`

	// Pushed is the number of accepted frames, counted or not
	Pushed int64 `json:"pushed"`

	// Overflows is the number of inserts refused because the sink was full
	Overflows int64 `json:"overflows"`

	// Cleared is the number of calls to Clear
	Cleared int64 `json:"cleared"`

	// Finished is the number of acquisitions that have ended
	Finished int64 `json:"finished"`

	// LastError is the error the last acquisition ended with, if any
	LastError string `json:"lastError"`
}

// Circular is a bounded FIFO of frames.  Insert copies the pixels, so the
// caller's buffer may be reused immediately.  It is safe for concurrent use.
type Circular struct {
	mu     sync.Mutex
	frames []Frame
	head   int // index of the oldest frame
	n      int // frames held
	latest *Frame
	stats  Stats

	// finished is signaled each time an acquisition ends
	finished *sync.Cond
}

// NewCircular returns a sink holding up to capacity frames
func NewCircular(capacity int) *Circular {
	if capacity < 1 {
		capacity = 1
	}
	c := &Circular{frames: make([]Frame, capacity)}
	c.finished = sync.NewCond(&c.mu)
	return c
}

// Insert implements camera.FrameSink
func (c *Circular) Insert(pix []byte, width, height, bpp int, md []byte, count bool) error {
	meta, err := camera.UnmarshalMetadata(md)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == len(c.frames) {
		c.stats.Overflows++
		return camera.ErrOverflow
	}
	idx := (c.head + c.n) % len(c.frames)
	f := &c.frames[idx]
	if cap(f.Pix) >= len(pix) {
		f.Pix = f.Pix[:len(pix)]
	} else {
		f.Pix = make([]byte, len(pix))
	}
	copy(f.Pix, pix)
	f.Width, f.Height, f.Bpp = width, height, bpp
	f.Metadata = meta
	c.n++
	c.latest = f
	c.stats.Pushed++
	if count {
		c.stats.Inserted++
	}
	return nil
}

// Clear implements camera.FrameSink
func (c *Circular) Clear() {
	c.mu.Lock()
	c.head, c.n = 0, 0
	c.stats.Cleared++
	c.mu.Unlock()
}

// AcqFinished implements camera.AcqFinisher
func (c *Circular) AcqFinished(label string, err error) {
	c.mu.Lock()
	c.stats.Finished++
	c.stats.LastError = ""
	if err != nil {
		c.stats.LastError = err.Error()
	}
	c.mu.Unlock()
	c.finished.Broadcast()
}

// WaitFinished blocks until at least n acquisitions have finished
func (c *Circular) WaitFinished(n int64) {
	c.mu.Lock()
	for c.stats.Finished < n {
		c.finished.Wait()
	}
	c.mu.Unlock()
}

// Pop removes and returns the oldest frame.  The frame's pixels are a copy.
func (c *Circular) Pop() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		return Frame{}, ErrEmpty
	}
	f := cloneFrame(c.frames[c.head])
	c.head = (c.head + 1) % len(c.frames)
	c.n--
	return f, nil
}

// Latest returns a copy of the most recently inserted frame, which remains
// available after it is popped or cleared
func (c *Circular) Latest() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return Frame{}, ErrEmpty
	}
	return cloneFrame(*c.latest), nil
}

// Len is the number of frames held
func (c *Circular) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Cap is the capacity of the sink
func (c *Circular) Cap() int {
	return len(c.frames)
}

// Stats returns a copy of the counters
func (c *Circular) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func cloneFrame(f Frame) Frame {
	out := f
	out.Pix = make([]byte, len(f.Pix))
	copy(out.Pix, f.Pix)
	md := make(camera.Metadata, len(f.Metadata))
	for k, v := range f.Metadata {
		md[k] = v
	}
	out.Metadata = md
	return out
}
