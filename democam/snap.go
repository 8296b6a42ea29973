package democam

import (
	"fmt"
	"sync/atomic"
	"time"
)

// pollInterval is the sleep between checks while waiting on the sensor
const pollInterval = time.Millisecond

// fetch fills the frame buffer.  pixMu is held.
func (c *Camera) fetch(f Format, exposure time.Duration, index int64) error {
	info := FrameInfo{
		Width:         c.buf.Width(),
		Height:        c.buf.Height(),
		BytesPerPixel: c.buf.BytesPerPixel(),
		Pixel:         f.Pixel,
		BitDepth:      f.BitDepth,
		Exposure:      exposure,
		Index:         index,
	}
	if err := c.fetcher.FetchInto(c.buf.PixelsMutable(), info); err != nil {
		return fmt.Errorf("%w: %v", ErrHardwareFetch, err)
	}
	return nil
}

// snapFetch fills the buffer for Snap.  The format is copied under mu and
// released before pixMu is taken, so a fetch that never returns holds only
// pixMu.  A format change between the two is caught by the geometry check.
func (c *Camera) snapFetch(exposure time.Duration) error {
	for {
		c.mu.Lock()
		f := c.format
		c.mu.Unlock()
		w, h := f.Size()
		c.pixMu.Lock()
		if c.buf.Width() == w && c.buf.Height() == h && c.buf.BytesPerPixel() == f.Pixel.BytesPerPixel() {
			err := c.fetch(f, exposure, 0)
			c.pixMu.Unlock()
			return err
		}
		c.pixMu.Unlock()
	}
}

// Snap exposes and reads out one frame.  It returns no sooner than one
// exposure time after it is called, and not before the fetch completes
// unless FetchTimeout is set and expires.  The frame is then available from
// Frame once the readout time has passed.
//
// After a timeout the fetch keeps the frame buffer until it returns.  Until
// then Snap, Frame, sequences and format changes return ErrDeviceBusy.
//
// Snap is rejected with ErrDeviceBusy while a sequence runs.
func (c *Camera) Snap() error {
	if err := c.checkFault(); err != nil {
		return err
	}
	if !atomic.CompareAndSwapInt32(&c.state, stateIdle, stateSnapping) {
		return ErrDeviceBusy
	}

	c.mu.Lock()
	exposure := c.exposure
	timeout := c.fetchTimeout
	c.mu.Unlock()

	start := time.Now()
	fetched := make(chan error, 1)
	go func() {
		fetched <- c.snapFetch(exposure)
	}()

	var (
		fetchErr error
		done     bool
	)
	for {
		if !done {
			select {
			case fetchErr = <-fetched:
				done = true
			default:
			}
		}
		elapsed := time.Since(start)
		if done && elapsed >= exposure {
			break
		}
		if !done && timeout > 0 && elapsed >= exposure+timeout {
			c.log.Errorf("snap fetch exceeded %v", exposure+timeout)
			atomic.StoreInt32(&c.stranded, 1)
			go c.reclaim(fetched)
			return ErrFetchTimeout
		}
		time.Sleep(pollInterval)
	}
	defer atomic.StoreInt32(&c.state, stateIdle)
	if fetchErr != nil {
		return fetchErr
	}
	c.pixMu.Lock()
	c.readoutStart = time.Now()
	c.pixMu.Unlock()
	return nil
}

// reclaim waits out a fetch abandoned by Snap and returns the camera to idle
func (c *Camera) reclaim(fetched <-chan error) {
	err := <-fetched
	if err != nil {
		c.log.Warnf("abandoned snap fetch returned %v", err)
	} else {
		c.log.Info("abandoned snap fetch returned")
	}
	atomic.StoreInt32(&c.stranded, 0)
	atomic.StoreInt32(&c.state, stateIdle)
}

// Frame returns a copy of the last frame and its geometry.  It waits until
// the readout time has elapsed since the frame was captured.
func (c *Camera) Frame() (pix []byte, width, height, bpp int, err error) {
	if err = c.checkFault(); err != nil {
		return nil, 0, 0, 0, err
	}
	if atomic.LoadInt32(&c.stranded) != 0 {
		return nil, 0, 0, 0, ErrDeviceBusy
	}
	c.mu.Lock()
	readout := c.readout
	c.mu.Unlock()

	c.pixMu.Lock()
	defer c.pixMu.Unlock()
	for time.Since(c.readoutStart) < readout {
		time.Sleep(pollInterval)
	}
	return c.buf.Copy(), c.buf.Width(), c.buf.Height(), c.buf.BytesPerPixel(), nil
}

// SnapFrame is Snap followed by Frame
func (c *Camera) SnapFrame() (pix []byte, width, height, bpp int, err error) {
	if err = c.Snap(); err != nil {
		return nil, 0, 0, 0, err
	}
	return c.Frame()
}
