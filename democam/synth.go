package democam

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.jpl.nasa.gov/bdube/camacq/hub"
)

// FrameInfo describes the frame a Fetcher is asked to produce
type FrameInfo struct {
	Width, Height, BytesPerPixel int
	Pixel                        PixelType
	BitDepth                     int
	Exposure                     time.Duration

	// Index is the frame number within a sequence, or zero for a snap
	Index int64
}

// Fetcher transfers one frame from the sensor into buf, which is exactly
// Width*Height*BytesPerPixel bytes long
type Fetcher interface {
	FetchInto(buf []byte, info FrameInfo) error
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(buf []byte, info FrameInfo) error

// FetchInto calls f
func (f FetcherFunc) FetchInto(buf []byte, info FrameInfo) error {
	return f(buf, info)
}

// fullWellExposure is the exposure at which the synthetic pattern reaches
// full scale at unit intensity
const fullWellExposure = 100 * time.Millisecond

// Synthetic renders a drifting sine pattern whose amplitude scales with
// exposure and with the hub's intensity.  The camera serializes calls, so it
// is not safe for concurrent use on its own.
type Synthetic struct {
	hub   *hub.Hub
	phase float64

	cols, rows []float64
}

// NewSynthetic returns a pattern generator reading intensity from h
func NewSynthetic(h *hub.Hub) *Synthetic {
	return &Synthetic{hub: h}
}

// FetchInto implements Fetcher
func (s *Synthetic) FetchInto(buf []byte, info FrameInfo) error {
	if want := info.Width * info.Height * info.BytesPerPixel; len(buf) != want {
		return fmt.Errorf("buffer is %d bytes, frame needs %d", len(buf), want)
	}
	scale := float64(info.Exposure) / float64(fullWellExposure) * s.hub.Intensity()
	if scale > 1 {
		scale = 1
	}
	full := math.Exp2(float64(info.BitDepth)) - 1
	if info.Pixel == Float32 {
		full = 1
	}
	amp := scale * full

	if len(s.cols) != info.Width {
		s.cols = make([]float64, info.Width)
	}
	if len(s.rows) != info.Height {
		s.rows = make([]float64, info.Height)
	}
	period := float64(info.Width) / 4
	for x := range s.cols {
		s.cols[x] = 0.5 * (1 + math.Sin(2*math.Pi*float64(x)/period+s.phase))
	}
	for y := range s.rows {
		s.rows[y] = 0.75 + 0.25*math.Cos(2*math.Pi*float64(y)/float64(info.Height))
	}
	s.phase += 0.1

	bpp := info.BytesPerPixel
	for y := 0; y < info.Height; y++ {
		row := buf[y*info.Width*bpp : (y+1)*info.Width*bpp]
		for x := 0; x < info.Width; x++ {
			v := amp * s.cols[x] * s.rows[y]
			px := row[x*bpp : (x+1)*bpp]
			switch info.Pixel {
			case Mono8:
				px[0] = uint8(v)
			case Mono16:
				binary.LittleEndian.PutUint16(px, uint16(v))
			case RGB32:
				px[0] = uint8(v)
				px[1] = uint8(v * 0.5)
				px[2] = uint8(full - v)
				px[3] = 0
			case RGB64:
				binary.LittleEndian.PutUint16(px[0:], uint16(v))
				binary.LittleEndian.PutUint16(px[2:], uint16(v*0.5))
				binary.LittleEndian.PutUint16(px[4:], uint16(full-v))
				binary.LittleEndian.PutUint16(px[6:], 0)
			case Float32:
				binary.LittleEndian.PutUint32(px, math.Float32bits(float32(v)))
			}
		}
	}
	return nil
}
