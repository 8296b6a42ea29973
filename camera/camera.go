/*Package camera describes the interfaces between a camera device, the host
that consumes its frames, and the devices it coordinates with.

Capturable contains single-shot capture, Configurable the image format, and
Sequenceable continuous acquisition.  A device will usually implement all
three, but consumers should ask for only what they use.

FrameSink is the host side of the hand-off; it is a bounded queue which
signals overflow with ErrOverflow.
*/
package camera

import (
	"errors"
	"time"

	"github.com/astrogo/fitsio"
)

// ErrOverflow is returned by a FrameSink whose backlog is full
var ErrOverflow = errors.New("frame sink overflow")

// AOI describes an area of interest on the camera, in binned pixels
type AOI struct {
	// Left is the left pixel index.  0-based
	Left int `json:"left"`

	// Top is the top pixel index.  0-based
	Top int `json:"top"`

	// Width is the width in pixels
	Width int `json:"width"`

	// Height is the height in pixels
	Height int `json:"height"`
}

// Empty is true for the zero-size AOI, which means "full frame"
func (a AOI) Empty() bool {
	return a.Width == 0 && a.Height == 0
}

// FrameSink receives frames from a running camera
type FrameSink interface {
	// Insert copies pix into the sink.  count reports whether the frame
	// counts toward the sink's statistics; a frame re-pushed after an
	// overflow is not counted twice.  md is the serialized Metadata.
	Insert(pix []byte, width, height, bpp int, md []byte, count bool) error

	// Clear drops every frame the sink holds
	Clear()
}

// AcqFinisher is optionally implemented by a FrameSink that wants to know
// when a sequence ends.  err is nil for a run that completed or was stopped.
type AcqFinisher interface {
	AcqFinished(label string, err error)
}

// Capturable describes a camera which can take a single picture
type Capturable interface {
	// Snap exposes and reads out one frame
	Snap() error

	// Frame returns a copy of the pixels of the last frame and their
	// geometry.  The caller owns the slice.
	Frame() (pix []byte, width, height, bpp int, err error)

	// SetExposureTime sets the exposure time
	SetExposureTime(time.Duration) error

	// GetExposureTime gets the exposure time
	GetExposureTime() (time.Duration, error)
}

// Configurable describes a camera with a configurable image format
type Configurable interface {
	SetBinning(int) error
	GetBinning() (int, error)
	SetPixelType(string) error
	GetPixelType() (string, error)
	SetBitDepth(int) error
	GetBitDepth() (int, error)
	SetAOI(AOI) error
	GetAOI() (AOI, error)
	ClearAOI() error
}

// Sequenceable describes a camera which can acquire continuously
type Sequenceable interface {
	// StartSequence acquires n frames no faster than one per interval
	StartSequence(n int64, interval time.Duration) error

	// StartContinuous acquires until stopped
	StartContinuous(interval time.Duration) error

	// StopSequence requests a stop and waits for acquisition to end
	StopSequence() error

	// Capturing is true while a sequence runs
	Capturing() bool
}

// MetadataMaker can produce an array of FITS cards
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}
