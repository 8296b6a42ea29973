package democam

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.jpl.nasa.gov/bdube/camacq/camera"
	"github.jpl.nasa.gov/bdube/camacq/trigger"
)

// acquisition states.  Idle to Running happens under mu; every other
// transition is a CAS or a store by the goroutine that owns the state.
const (
	stateIdle int32 = iota
	stateSnapping
	stateRunning
	stateStopping
)

// run is the immutable description of one sequence
type run struct {
	id             string
	frames         int64
	interval       time.Duration
	start          time.Time
	stopOnOverflow bool
	sink           camera.FrameSink
}

// RunSummary describes a finished sequence
type RunSummary struct {
	// ID is the run identifier stamped on each frame
	ID string

	// Frames is the number of frames produced.  A frame refused by an
	// overflowing sink that ended the run is included.
	Frames int64

	// Duration is the actual wall time of the run
	Duration time.Duration

	// Err is the error that ended the run, nil if it completed or was stopped
	Err error

	// Stopped is true if the run was ended by StopSequence
	Stopped bool
}

// capturing is true while a sequence holds the camera
func (c *Camera) capturing() bool {
	s := atomic.LoadInt32(&c.state)
	return s == stateRunning || s == stateStopping
}

// busy is true while a sequence holds the camera or an abandoned snap fetch
// holds the frame buffer.  mu is held or the result is advisory.
func (c *Camera) busy() bool {
	return c.capturing() || atomic.LoadInt32(&c.stranded) != 0
}

// Capturing is true while a sequence is running or stopping.  Like the other
// run observers it does not consult the fault injector.
func (c *Camera) Capturing() bool {
	return c.capturing()
}

// StartContinuous acquires until StopSequence is called.  Overflow of the
// sink never ends a continuous run.
func (c *Camera) StartContinuous(interval time.Duration) error {
	return c.startSequence(math.MaxInt64, interval, false)
}

// StartSequence acquires n frames on a background goroutine.  Frames are
// paced so the average period over the run is no shorter than the larger of
// the frame's exposure and interval.  An interval of 0 paces on exposure
// alone, as the hardware does; a nonzero interval only ever raises the
// target.
//
// If a sequence is already running, ErrDeviceBusy is returned and nothing
// about the running sequence changes.
func (c *Camera) StartSequence(n int64, interval time.Duration) error {
	c.mu.Lock()
	stop := c.stopOnOverflow
	c.mu.Unlock()
	return c.startSequence(n, interval, stop)
}

func (c *Camera) startSequence(n int64, interval time.Duration, stopOnOverflow bool) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%d: %w", n, ErrFrameCount)
	}
	if interval < 0 {
		interval = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == nil {
		return ErrNoSink
	}
	if !atomic.CompareAndSwapInt32(&c.state, stateIdle, stateRunning) {
		return ErrDeviceBusy
	}
	r := &run{
		id:             uuid.New().String(),
		frames:         n,
		interval:       interval,
		start:          time.Now(),
		stopOnOverflow: stopOnOverflow,
		sink:           c.sink,
	}
	atomic.StoreInt64(&c.imageCounter, 0)
	atomic.StoreInt64(&c.runStart, r.start.UnixNano())
	c.seq.Rewind()
	done := make(chan struct{})
	c.done = done
	c.log.Debugf("starting sequence %s of %d frames", r.id, n)
	go c.acquire(r, done)
	return nil
}

// StopSequence asks a running sequence to stop and waits for its goroutine
// to exit.  It returns immediately if nothing is running.  It must not be
// called from a FrameSink, which runs on the acquisition goroutine.
func (c *Camera) StopSequence() error {
	if err := c.checkFault(); err != nil {
		return err
	}
	c.stopSequence()
	return nil
}

func (c *Camera) stopSequence() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	atomic.CompareAndSwapInt32(&c.state, stateRunning, stateStopping)
	if done != nil {
		<-done
	}
}

// Wait blocks until the current sequence, if any, ends on its own.  It does
// not consult the fault injector.
func (c *Camera) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// FramesAcquired is the number of frames inserted by the current or last run
func (c *Camera) FramesAcquired() int64 {
	return atomic.LoadInt64(&c.imageCounter)
}

// RunStart is the start time of the current or last run
func (c *Camera) RunStart() time.Time {
	ns := atomic.LoadInt64(&c.runStart)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastRun returns a summary of the last finished sequence
func (c *Camera) LastRun() RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

// acquire is the body of the acquisition goroutine
func (c *Camera) acquire(r *run, done chan struct{}) {
	var (
		err   error
		frame int64
	)
	for atomic.LoadInt32(&c.state) == stateRunning {
		err = c.acquireOne(r, frame)
		if err != nil {
			break
		}
		frame++
		if frame >= r.frames {
			break
		}
	}
	c.finish(r, err, done)
}

// acquireOne produces, delivers, and paces one frame
func (c *Camera) acquireOne(r *run, frame int64) error {
	c.mu.Lock()
	static := c.exposure
	fast := c.fastImage
	trig := c.triggerDevice
	c.mu.Unlock()
	exposure := c.seq.Next(static)

	if trig != "" {
		c.pulse(trig)
	}

	c.mu.Lock()
	f := c.format
	c.pixMu.Lock()
	c.mu.Unlock()
	if !fast {
		if err := c.fetch(f, exposure, frame); err != nil {
			c.pixMu.Unlock()
			return err
		}
	}
	c.readoutStart = time.Now()
	err := c.insertImage(r, f, exposure)
	c.pixMu.Unlock()
	if err != nil {
		return err
	}

	// average pacing: the mean period over the run, not each frame, is held
	// to the exposure, so a late frame is followed by a short one
	period := exposure
	if r.interval > period {
		period = r.interval
	}
	for {
		n := atomic.LoadInt64(&c.imageCounter)
		if n == 0 || time.Since(r.start)/time.Duration(n) >= period {
			break
		}
		if atomic.LoadInt32(&c.state) != stateRunning {
			break
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// pulse fires the named trigger device.  Failures are logged and do not end
// the sequence.
func (c *Camera) pulse(name string) {
	if c.triggers == nil {
		c.log.Warnf("trigger device %q requested but no registry is attached", name)
		return
	}
	dev, err := c.triggers.Lookup(name)
	if err != nil {
		c.log.Warn(err)
		return
	}
	if err = dev.SetProperty(trigger.PropTrigger, trigger.Pulse); err != nil {
		c.log.Warnf("trigger %q: %v", name, err)
	}
}

// finish runs exactly once per sequence, on the acquisition goroutine
func (c *Camera) finish(r *run, err error, done chan struct{}) {
	stopped := atomic.LoadInt32(&c.state) == stateStopping
	res := RunSummary{
		ID:       r.id,
		Frames:   atomic.LoadInt64(&c.imageCounter),
		Duration: time.Since(r.start),
		Err:      err,
		Stopped:  stopped,
	}
	c.mu.Lock()
	c.lastRun = res
	c.mu.Unlock()

	switch {
	case err != nil && errors.Is(err, camera.ErrOverflow):
		c.log.Errorf("sequence %s ended by sink overflow after %d frames", r.id, res.Frames)
	case err != nil:
		c.log.Errorf("sequence %s failed after %d frames: %v", r.id, res.Frames, err)
	case stopped:
		c.log.Infof("sequence %s interrupted by the user", r.id)
	}
	c.log.Infof("sequence thread exiting, %d frames in %v", res.Frames, res.Duration)

	if fin, ok := r.sink.(camera.AcqFinisher); ok {
		fin.AcqFinished(c.label, err)
	}
	atomic.StoreInt32(&c.state, stateIdle)
	close(done)
}
