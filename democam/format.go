package democam

import (
	"fmt"

	"github.jpl.nasa.gov/bdube/camacq/camera"
)

// sensor limits, unbinned pixels
const (
	MinSensorSize = 16
	MaxSensorSize = 33000

	defaultSensorWidth  = 2040
	defaultSensorHeight = 1088
)

// PixelType is the encoding of one pixel in the frame buffer
type PixelType int

const (
	// Mono8 is one unsigned byte per pixel
	Mono8 PixelType = iota

	// Mono16 is one little endian uint16 per pixel
	Mono16

	// RGB32 is BGRA, one byte per component
	RGB32

	// RGB64 is BGRA, one little endian uint16 per component
	RGB64

	// Float32 is one little endian IEEE-754 float per pixel
	Float32
)

var pixelTypeNames = map[PixelType]string{
	Mono8:   "8bit",
	Mono16:  "16bit",
	RGB32:   "32bitRGB",
	RGB64:   "64bitRGB",
	Float32: "32bit",
}

// PixelTypes lists the names accepted by SetPixelType, in order
var PixelTypes = []string{"8bit", "16bit", "32bitRGB", "64bitRGB", "32bit"}

// BitDepths lists the values accepted by SetBitDepth
var BitDepths = []int{8, 10, 12, 14, 16, 32}

func (p PixelType) String() string {
	if s, ok := pixelTypeNames[p]; ok {
		return s
	}
	return fmt.Sprintf("PixelType(%d)", int(p))
}

// ParsePixelType converts a name such as "16bit" to a PixelType
func ParsePixelType(s string) (PixelType, error) {
	for k, v := range pixelTypeNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("pixel type %q: %w", s, ErrUnknownMode)
}

// BytesPerPixel is the storage size of one pixel
func (p PixelType) BytesPerPixel() int {
	switch p {
	case Mono16:
		return 2
	case RGB32, Float32:
		return 4
	case RGB64:
		return 8
	}
	return 1
}

// Components is the number of color components per pixel
func (p PixelType) Components() int {
	if p == RGB32 || p == RGB64 {
		return 4
	}
	return 1
}

// MaxBitDepth is the widest bit depth the encoding can hold, per component
func (p PixelType) MaxBitDepth() int {
	switch p {
	case Mono16, RGB64:
		return 16
	case Float32:
		return 32
	}
	return 8
}

// bytesPerComponent maps a bit depth to the storage it needs
func bytesPerComponent(bitDepth int) int {
	switch {
	case bitDepth <= 8:
		return 1
	case bitDepth <= 16:
		return 2
	}
	return 4
}

// allowedBinning lists the binning factors valid in each scan mode
var allowedBinning = map[int][]int{
	1: {1, 2, 4, 8},
	2: {1, 2, 4},
	3: {1, 2},
}

// AllowedBinning returns the binning factors valid in a scan mode
func AllowedBinning(scanMode int) ([]int, error) {
	b, ok := allowedBinning[scanMode]
	if !ok {
		return nil, fmt.Errorf("scan mode %d: %w", scanMode, ErrUnknownMode)
	}
	out := make([]int, len(b))
	copy(out, b)
	return out, nil
}

// ClampBinning returns the allowed factor nearest to b, preferring the
// smaller factor on a tie
func ClampBinning(b, scanMode int) int {
	allowed, ok := allowedBinning[scanMode]
	if !ok {
		allowed = allowedBinning[1]
	}
	best := allowed[0]
	for _, a := range allowed[1:] {
		if abs(a-b) < abs(best-b) {
			best = a
		}
	}
	return best
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// Format holds every setting that determines frame geometry and encoding
type Format struct {
	SensorWidth  int
	SensorHeight int
	Binning      int
	ScanMode     int
	Pixel        PixelType
	BitDepth     int

	// ROI is in binned pixels; the empty AOI means full frame
	ROI camera.AOI
}

// DefaultFormat is the format of a newly constructed camera
func DefaultFormat() Format {
	return Format{
		SensorWidth:  defaultSensorWidth,
		SensorHeight: defaultSensorHeight,
		Binning:      1,
		ScanMode:     1,
		Pixel:        Mono8,
		BitDepth:     8,
	}
}

// BinnedSize is the full frame size after binning
func (f Format) BinnedSize() (int, int) {
	return f.SensorWidth / f.Binning, f.SensorHeight / f.Binning
}

// Size is the geometry of frames in this format
func (f Format) Size() (int, int) {
	if !f.ROI.Empty() {
		return f.ROI.Width, f.ROI.Height
	}
	return f.BinnedSize()
}

// AOI returns the effective area of interest, which is the full binned frame
// when no ROI is set
func (f Format) AOI() camera.AOI {
	if !f.ROI.Empty() {
		return f.ROI
	}
	w, h := f.BinnedSize()
	return camera.AOI{Width: w, Height: h}
}

func (f *Format) setBinning(b int) {
	b = ClampBinning(b, f.ScanMode)
	if b != f.Binning {
		f.ROI = camera.AOI{}
	}
	f.Binning = b
}

func (f *Format) setScanMode(m int) error {
	if _, ok := allowedBinning[m]; !ok {
		return fmt.Errorf("scan mode %d: %w", m, ErrUnknownMode)
	}
	f.ScanMode = m
	f.setBinning(f.Binning)
	return nil
}

func (f *Format) setSensorSize(w, h int) error {
	if w < MinSensorSize || w > MaxSensorSize || h < MinSensorSize || h > MaxSensorSize {
		return fmt.Errorf("sensor %dx%d outside [%d, %d]: %w", w, h, MinSensorSize, MaxSensorSize, ErrInvalidGeometry)
	}
	if w != f.SensorWidth || h != f.SensorHeight {
		f.ROI = camera.AOI{}
	}
	f.SensorWidth, f.SensorHeight = w, h
	return nil
}

func (f *Format) setROI(a camera.AOI) error {
	if a.Empty() {
		f.ROI = camera.AOI{}
		return nil
	}
	bw, bh := f.BinnedSize()
	if a.Width < 1 || a.Height < 1 || a.Left < 0 || a.Top < 0 ||
		a.Left+a.Width > bw || a.Top+a.Height > bh {
		return fmt.Errorf("AOI %+v does not fit in %dx%d: %w", a, bw, bh, ErrInvalidGeometry)
	}
	f.ROI = a
	return nil
}

func (f *Format) setPixelType(p PixelType) error {
	if _, ok := pixelTypeNames[p]; !ok {
		return fmt.Errorf("pixel type %d: %w", int(p), ErrUnknownMode)
	}
	f.Pixel = p
	if f.BitDepth > p.MaxBitDepth() {
		f.BitDepth = p.MaxBitDepth()
	}
	return nil
}

// setBitDepth stores bd, upgrading the pixel encoding when the current one
// is too narrow to hold it
func (f *Format) setBitDepth(bd int) error {
	valid := false
	for _, v := range BitDepths {
		if v == bd {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("bit depth %d: %w", bd, ErrUnknownMode)
	}
	need := bytesPerComponent(bd)
	switch f.Pixel {
	case Mono8:
		switch need {
		case 2:
			f.Pixel = Mono16
		case 4:
			f.Pixel = Float32
		}
	case Mono16:
		if need == 4 {
			f.Pixel = Float32
		}
	case RGB32, RGB64:
		if need == 4 {
			return fmt.Errorf("bit depth %d with %s: %w", bd, f.Pixel, ErrUnknownMode)
		}
		if need == 2 {
			f.Pixel = RGB64
		}
	}
	f.BitDepth = bd
	return nil
}

// mutateFormat applies fn to a copy of the format and commits it, resizing
// the frame buffer, only if fn succeeds.  It is the single write path for
// Format.
func (c *Camera) mutateFormat(fn func(*Format) error) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrDeviceBusy
	}
	next := c.format
	if err := fn(&next); err != nil {
		return err
	}
	w, h := next.Size()
	c.pixMu.Lock()
	c.buf.Resize(w, h, next.Pixel.BytesPerPixel())
	c.pixMu.Unlock()
	c.format = next
	return nil
}

// readFormat returns a copy of the format after a fault check
func (c *Camera) readFormat() (Format, error) {
	if err := c.checkFault(); err != nil {
		return Format{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format, nil
}

// SetBinning sets the binning factor, clamped to the nearest value allowed
// in the current scan mode.  A change of binning clears the AOI.
func (c *Camera) SetBinning(b int) error {
	return c.mutateFormat(func(f *Format) error {
		f.setBinning(b)
		return nil
	})
}

// GetBinning returns the binning factor
func (c *Camera) GetBinning() (int, error) {
	f, err := c.readFormat()
	return f.Binning, err
}

// SetScanMode selects scan mode 1, 2, or 3 and re-clamps the binning
func (c *Camera) SetScanMode(m int) error {
	return c.mutateFormat(func(f *Format) error {
		return f.setScanMode(m)
	})
}

// GetScanMode returns the scan mode
func (c *Camera) GetScanMode() (int, error) {
	f, err := c.readFormat()
	return f.ScanMode, err
}

// SetPixelType selects the pixel encoding by name, e.g. "16bit"
func (c *Camera) SetPixelType(s string) error {
	return c.mutateFormat(func(f *Format) error {
		p, err := ParsePixelType(s)
		if err != nil {
			return err
		}
		return f.setPixelType(p)
	})
}

// GetPixelType returns the name of the pixel encoding
func (c *Camera) GetPixelType() (string, error) {
	f, err := c.readFormat()
	return f.Pixel.String(), err
}

// SetBitDepth sets the bit depth, switching to a wider pixel encoding if needed
func (c *Camera) SetBitDepth(bd int) error {
	return c.mutateFormat(func(f *Format) error {
		return f.setBitDepth(bd)
	})
}

// GetBitDepth returns the bit depth
func (c *Camera) GetBitDepth() (int, error) {
	f, err := c.readFormat()
	return f.BitDepth, err
}

// SetAOI sets the area of interest in binned pixels.  The zero size AOI
// clears it.
func (c *Camera) SetAOI(a camera.AOI) error {
	return c.mutateFormat(func(f *Format) error {
		return f.setROI(a)
	})
}

// ClearAOI restores full frame readout
func (c *Camera) ClearAOI() error {
	return c.SetAOI(camera.AOI{})
}

// GetAOI returns the effective area of interest
func (c *Camera) GetAOI() (camera.AOI, error) {
	f, err := c.readFormat()
	return f.AOI(), err
}

// SetSensorSize sets the unbinned sensor size.  A change clears the AOI.
func (c *Camera) SetSensorSize(w, h int) error {
	return c.mutateFormat(func(f *Format) error {
		return f.setSensorSize(w, h)
	})
}

// GetSensorSize returns the unbinned sensor size
func (c *Camera) GetSensorSize() (int, int, error) {
	f, err := c.readFormat()
	return f.SensorWidth, f.SensorHeight, err
}

// GetFormat returns a copy of every format setting
func (c *Camera) GetFormat() (Format, error) {
	return c.readFormat()
}
