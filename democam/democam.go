/*Package democam implements a simulated scientific camera with the
acquisition behavior of real frame-grabber hardware: single-shot capture with
a readout gate, continuous acquisition on a worker goroutine with averaged
frame pacing, hand-off to a bounded host queue with an overflow policy, and
per-frame exposure sequencing.

Pixels come from a Fetcher.  Synthetic renders a test pattern; a frame
grabber driver would implement the same interface.

Every public method first consults the fault injector of the camera's Hub;
a simulated fault returns ErrSimulatedFault with no side effect.  Format
setters are all-or-nothing and are rejected with ErrDeviceBusy while a
sequence runs.
*/
package democam

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kataras/golog"
	"golang.org/x/time/rate"

	"github.jpl.nasa.gov/bdube/camacq/camera"
	"github.jpl.nasa.gov/bdube/camacq/expseq"
	"github.jpl.nasa.gov/bdube/camacq/hub"
	"github.jpl.nasa.gov/bdube/camacq/imgbuf"
	"github.jpl.nasa.gov/bdube/camacq/trigger"
)

const (
	// DefaultLabel is the device label used when Options.Label is empty
	DefaultLabel = "DCam"

	// CameraName is reported in headers and metadata
	CameraName = "DemoCamera-MultiMode"

	// CameraID is the firmware-ish version string of the simulated device
	CameraID = "V1.0"

	// MaxExposure is the longest exposure accepted
	MaxExposure = 2500 * time.Millisecond

	// DefaultExposure is the exposure at construction
	DefaultExposure = 2500 * time.Microsecond
)

var (
	// ErrDeviceBusy is generated when an operation conflicts with an acquisition in progress
	ErrDeviceBusy = errors.New("camera is busy acquiring")

	// ErrSimulatedFault is generated by the fault injector
	ErrSimulatedFault = errors.New("simulated device fault")

	// ErrInvalidGeometry is generated when a sensor size or AOI is out of bounds
	ErrInvalidGeometry = errors.New("invalid image geometry")

	// ErrHardwareFetch wraps errors from the Fetcher
	ErrHardwareFetch = errors.New("frame fetch failed")

	// ErrFetchTimeout is generated when a snap's fetch exceeds FetchTimeout
	ErrFetchTimeout = errors.New("frame fetch timed out")

	// ErrUnknownMode is generated for an enumerated value outside its set
	ErrUnknownMode = errors.New("unknown mode")

	// ErrExposureRange is generated for an exposure outside [0, MaxExposure]
	ErrExposureRange = errors.New("exposure time out of range")

	// ErrFrameCount is generated when a sequence is asked for fewer than one frame
	ErrFrameCount = errors.New("frame count must be at least one")

	// ErrNoSink is generated when a sequence is started without a FrameSink
	ErrNoSink = errors.New("no frame sink attached")

	// ErrTemperatureRange is generated for a setpoint outside [MinTemperature, MaxTemperature]
	ErrTemperatureRange = errors.New("temperature setpoint out of range")
)

// ErrUnknownProperty is generated when Configure is given a name it does not
// understand
type ErrUnknownProperty struct {
	// Name is the property that was not found
	Name string
}

// Error satisfies the error interface
func (e ErrUnknownProperty) Error() string {
	return fmt.Sprintf("property %s not understood or unavailable", e.Name)
}

// Options configures a new Camera.  The zero value is usable.
type Options struct {
	// Label names the device in logs and frame metadata
	Label string

	// Hub is the shared context.  A private hub is made if nil.
	Hub *hub.Hub

	// Logger receives device logs.  Defaults to a child of the golog default.
	Logger *golog.Logger

	// Fetcher supplies pixels.  Defaults to Synthetic on the camera's hub.
	Fetcher Fetcher

	// Sink receives frames from sequences
	Sink camera.FrameSink

	// Triggers resolves the trigger device named by SetTriggerDevice
	Triggers *trigger.Registry

	// SequenceMaxLength caps the exposure sequence.  Defaults to 100.
	SequenceMaxLength int
}

// Camera is a simulated camera.  It is safe for concurrent use, though a
// single controlling caller is expected.
type Camera struct {
	label    string
	hub      *hub.Hub
	log      *golog.Logger
	fetcher  Fetcher
	sink     camera.FrameSink
	triggers *trigger.Registry
	seq      *expseq.Sequencer

	// mu guards the settings below and the Idle to Running transition.
	// it is always taken before pixMu, never after.
	mu             sync.Mutex
	format         Format
	exposure       time.Duration
	readout        time.Duration
	fetchTimeout   time.Duration
	fastImage      bool
	stopOnOverflow bool
	triggerDevice  string
	tempSetpoint   float64
	done           chan struct{}
	lastRun        RunSummary

	// pixMu guards buf and readoutStart
	pixMu        sync.Mutex
	buf          *imgbuf.Buffer
	readoutStart time.Time

	state        int32 // atomic, one of the state* constants
	stranded     int32 // atomic, 1 while a timed out snap fetch holds pixMu
	imageCounter int64 // atomic, frames inserted in the current run
	runStart     int64 // atomic, unix ns of the current run's start

	overflowLog *rate.Limiter
}

// New creates a camera with the default format: a 2040x1088 8-bit sensor,
// unbinned, full frame, 2.5 ms exposure, and no readout delay.
func New(opts Options) *Camera {
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.Hub == nil {
		opts.Hub = hub.New()
	}
	if opts.Logger == nil {
		opts.Logger = golog.Child("[" + opts.Label + "]")
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewSynthetic(opts.Hub)
	}
	c := &Camera{
		label:        opts.Label,
		hub:          opts.Hub,
		log:          opts.Logger,
		fetcher:      opts.Fetcher,
		sink:         opts.Sink,
		triggers:     opts.Triggers,
		seq:          expseq.New(opts.SequenceMaxLength),
		format:       DefaultFormat(),
		exposure:     DefaultExposure,
		tempSetpoint: DefaultTemperature,
		overflowLog:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
	w, h := c.format.Size()
	c.buf = imgbuf.New(w, h, c.format.Pixel.BytesPerPixel())
	return c
}

// Label returns the device label
func (c *Camera) Label() string {
	return c.label
}

// Hub returns the shared context the camera was built with
func (c *Camera) Hub() *hub.Hub {
	return c.hub
}

// SetSink replaces the frame sink.  It is rejected while capturing.
func (c *Camera) SetSink(s camera.FrameSink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrDeviceBusy
	}
	c.sink = s
	return nil
}

// Shutdown stops any sequence in progress.  It does not consult the fault
// injector.
func (c *Camera) Shutdown() error {
	c.stopSequence()
	return nil
}

// checkFault returns ErrSimulatedFault when the hub's injector fires
func (c *Camera) checkFault() error {
	if c.hub.Faults.ShouldFail() {
		return ErrSimulatedFault
	}
	return nil
}

// GetFaultRate returns the fault probability of the camera's hub
func (c *Camera) GetFaultRate() (float64, error) {
	return c.hub.Faults.Rate(), nil
}

// SetFaultRate sets the fault probability of the camera's hub.  It does not
// itself consult the injector, so a rate of 1 can always be undone.
func (c *Camera) SetFaultRate(r float64) error {
	return c.hub.Faults.SetRate(r)
}
