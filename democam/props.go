package democam

import (
	"fmt"
	"time"
)

// thermal limits of the simulated sensor, Celsius
const (
	MinTemperature     = -100.
	MaxTemperature     = 10.
	DefaultTemperature = 0.
)

// SetExposureTime sets the static exposure, in [0, MaxExposure].  It may be
// changed while a sequence runs and applies from the next frame.
func (c *Camera) SetExposureTime(d time.Duration) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	if d < 0 || d > MaxExposure {
		return fmt.Errorf("%v: %w", d, ErrExposureRange)
	}
	c.mu.Lock()
	c.exposure = d
	c.mu.Unlock()
	return nil
}

// GetExposureTime returns the static exposure
func (c *Camera) GetExposureTime() (time.Duration, error) {
	if err := c.checkFault(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposure, nil
}

// SetReadoutTime sets the delay between the end of an exposure and the
// frame becoming readable through Frame
func (c *Camera) SetReadoutTime(d time.Duration) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("readout time %v is negative: %w", d, ErrExposureRange)
	}
	c.mu.Lock()
	c.readout = d
	c.mu.Unlock()
	return nil
}

// GetReadoutTime returns the readout delay
func (c *Camera) GetReadoutTime() (time.Duration, error) {
	if err := c.checkFault(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readout, nil
}

// SetFetchTimeout bounds how long Snap waits for the fetch past the
// exposure.  Zero waits indefinitely.
func (c *Camera) SetFetchTimeout(d time.Duration) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.fetchTimeout = d
	c.mu.Unlock()
	return nil
}

// GetFetchTimeout returns the snap fetch timeout
func (c *Camera) GetFetchTimeout() (time.Duration, error) {
	if err := c.checkFault(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchTimeout, nil
}

// SetFastImage makes sequences skip the fetch and re-send the last frame
func (c *Camera) SetFastImage(b bool) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	c.mu.Lock()
	c.fastImage = b
	c.mu.Unlock()
	return nil
}

// GetFastImage returns true if fast image mode is on
func (c *Camera) GetFastImage() (bool, error) {
	if err := c.checkFault(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fastImage, nil
}

// SetStopOnOverflow selects whether a sequence ends when the sink overflows.
// It takes effect at the next StartSequence.
func (c *Camera) SetStopOnOverflow(b bool) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	c.mu.Lock()
	c.stopOnOverflow = b
	c.mu.Unlock()
	return nil
}

// GetStopOnOverflow returns the overflow policy for the next sequence
func (c *Camera) GetStopOnOverflow() (bool, error) {
	if err := c.checkFault(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopOnOverflow, nil
}

// SetTriggerDevice names the device pulsed before each sequence frame.  The
// empty string disables the pulse.  The name is resolved when pulsing, so
// devices may be registered later.
func (c *Camera) SetTriggerDevice(name string) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	c.mu.Lock()
	c.triggerDevice = name
	c.mu.Unlock()
	return nil
}

// GetTriggerDevice returns the trigger device name
func (c *Camera) GetTriggerDevice() (string, error) {
	if err := c.checkFault(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggerDevice, nil
}

// SetTemperature sets the sensor temperature setpoint in Celsius.  The
// simulated sensor reaches it immediately.
func (c *Camera) SetTemperature(t float64) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	if t < MinTemperature || t > MaxTemperature {
		return fmt.Errorf("%g C: %w", t, ErrTemperatureRange)
	}
	c.mu.Lock()
	c.tempSetpoint = t
	c.mu.Unlock()
	return nil
}

// GetTemperature returns the sensor temperature in Celsius
func (c *Camera) GetTemperature() (float64, error) {
	if err := c.checkFault(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempSetpoint, nil
}

// AddToExposureSequence appends an exposure to the per-frame sequence
func (c *Camera) AddToExposureSequence(d time.Duration) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	if d < 0 || d > MaxExposure {
		return fmt.Errorf("%v: %w", d, ErrExposureRange)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrDeviceBusy
	}
	return c.seq.Add(d)
}

// ClearExposureSequence empties the per-frame sequence, so sequences use the
// static exposure
func (c *Camera) ClearExposureSequence() error {
	if err := c.checkFault(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrDeviceBusy
	}
	c.seq.Clear()
	return nil
}

// LoadExposureSequence replaces the per-frame sequence with the contents of
// a YAML file
func (c *Camera) LoadExposureSequence(path string) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrDeviceBusy
	}
	return c.seq.LoadYaml(path)
}

// GetExposureSequence returns the per-frame sequence
func (c *Camera) GetExposureSequence() ([]time.Duration, error) {
	if err := c.checkFault(); err != nil {
		return nil, err
	}
	return c.seq.Values(), nil
}

// GetExposureSequenceMaxLength returns the capacity of the per-frame sequence
func (c *Camera) GetExposureSequenceMaxLength() (int, error) {
	if err := c.checkFault(); err != nil {
		return 0, err
	}
	return c.seq.MaxLength(), nil
}
