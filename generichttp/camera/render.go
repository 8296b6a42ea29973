// this file contains a few small image processing utilities
package camera

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.jpl.nasa.gov/bdube/camacq/democam"
	"github.jpl.nasa.gov/bdube/camacq/util"
)

// pixelTypeFor picks the pixel encoding of a frame.  name is the pixel type
// reported by the camera or stamped on the frame; when it is missing the
// encoding is guessed from the bytes per pixel.
func pixelTypeFor(name string, bpp int) (democam.PixelType, error) {
	if name != "" {
		return democam.ParsePixelType(name)
	}
	switch bpp {
	case 1:
		return democam.Mono8, nil
	case 2:
		return democam.Mono16, nil
	case 4:
		return democam.RGB32, nil
	case 8:
		return democam.RGB64, nil
	}
	return 0, fmt.Errorf("no pixel type for %d bytes per pixel", bpp)
}

// toImage wraps raw little endian frame bytes in an image.Image.  Float
// frames are stretched min to max into 8 bits.
func toImage(pix []byte, width, height int, pt democam.PixelType) (image.Image, error) {
	if want := width * height * pt.BytesPerPixel(); len(pix) < want {
		return nil, fmt.Errorf("frame is %d bytes, %dx%d %s needs %d", len(pix), width, height, pt, want)
	}
	rect := image.Rect(0, 0, width, height)
	npix := width * height
	switch pt {
	case democam.Mono8:
		return &image.Gray{Pix: pix[:npix], Stride: width, Rect: rect}, nil
	case democam.Mono16:
		im := image.NewGray16(rect)
		for i := 0; i < npix; i++ {
			im.Pix[2*i] = pix[2*i+1]
			im.Pix[2*i+1] = pix[2*i]
		}
		return im, nil
	case democam.RGB32:
		im := image.NewRGBA(rect)
		for i := 0; i < npix; i++ {
			b, g, r := pix[4*i], pix[4*i+1], pix[4*i+2]
			im.Pix[4*i], im.Pix[4*i+1], im.Pix[4*i+2], im.Pix[4*i+3] = r, g, b, 0xff
		}
		return im, nil
	case democam.RGB64:
		im := image.NewRGBA64(rect)
		for i := 0; i < npix; i++ {
			px := pix[8*i:]
			im.SetRGBA64(i%width, i/width, color.RGBA64{
				R: binary.LittleEndian.Uint16(px[4:]),
				G: binary.LittleEndian.Uint16(px[2:]),
				B: binary.LittleEndian.Uint16(px[0:]),
				A: 0xffff,
			})
		}
		return im, nil
	case democam.Float32:
		floats := make([]float64, npix)
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := range floats {
			f := float64(math.Float32frombits(binary.LittleEndian.Uint32(pix[4*i:])))
			floats[i] = f
			lo = math.Min(lo, f)
			hi = math.Max(hi, f)
		}
		span := hi - lo
		if span == 0 {
			span = 1
		}
		im := image.NewGray(rect)
		for i, f := range floats {
			im.Pix[i] = uint8(util.Clamp((f-lo)/span*255, 0, 255))
		}
		return im, nil
	}
	return nil, fmt.Errorf("cannot render pixel type %s", pt)
}

// encodeImage writes im to w as "jpg" or "png"
func encodeImage(w io.Writer, im image.Image, format string) error {
	switch format {
	case "jpg", "jpeg":
		return jpeg.Encode(w, im, nil)
	case "png":
		return png.Encode(w, im)
	}
	return fmt.Errorf("unknown image format %q", format)
}

// contentType maps an image format to its MIME type
func contentType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "fits":
		return "image/fits"
	}
	return "image/jpeg"
}
