package democam

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.jpl.nasa.gov/bdube/camacq/camera"
)

// msString formats a duration or timestamp in milliseconds with
// sub-microsecond resolution
func msString(ns int64) string {
	return strconv.FormatFloat(float64(ns)/1e6, 'f', 6, 64)
}

// frameMetadata builds the tags for the frame about to be inserted
func (c *Camera) frameMetadata(r *run, f Format, exposure time.Duration, imageNumber int64) camera.Metadata {
	aoi := f.AOI()
	return camera.Metadata{
		camera.KeyCamera:      c.label,
		camera.KeyStartTime:   msString(r.start.UnixNano()),
		camera.KeyElapsedTime: msString(time.Since(r.start).Nanoseconds()),
		camera.KeyROIX:        strconv.Itoa(aoi.Left),
		camera.KeyROIY:        strconv.Itoa(aoi.Top),
		camera.KeyBinning:     strconv.Itoa(f.Binning),
		camera.KeyImageNumber: strconv.FormatInt(imageNumber, 10),
		camera.KeyRunID:       r.id,
		camera.KeyExposure:    msString(exposure.Nanoseconds()),
		camera.KeyPixelType:   f.Pixel.String(),
	}
}

// insertImage stamps the frame buffer with metadata and hands it to the
// run's sink.  pixMu is held.
//
// The image counter advances once per frame.  When the sink overflows and
// the run does not stop on overflow, the sink is cleared and the frame is
// pushed once more, uncounted; an error from that second push is returned.
func (c *Camera) insertImage(r *run, f Format, exposure time.Duration) error {
	n := atomic.LoadInt64(&c.imageCounter)
	md := c.frameMetadata(r, f, exposure, n)
	blob, err := md.Marshal()
	if err != nil {
		return err
	}
	atomic.AddInt64(&c.imageCounter, 1)

	pix := c.buf.Pixels()
	w, h, bpp := c.buf.Width(), c.buf.Height(), c.buf.BytesPerPixel()
	err = r.sink.Insert(pix, w, h, bpp, blob, true)
	if err == nil || !errors.Is(err, camera.ErrOverflow) || r.stopOnOverflow {
		return err
	}
	if c.overflowLog.Allow() {
		c.log.Warnf("frame sink overflowed at image %d, clearing it", n)
	}
	r.sink.Clear()
	return r.sink.Insert(pix, w, h, bpp, blob, false)
}
