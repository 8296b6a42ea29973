// Package imgbuf holds the pixel storage for a single camera frame.
//
// A Buffer is a plain strided byte slice with geometry attached.  It carries
// no lock of its own; the owning camera serializes access to it.
package imgbuf

import "fmt"

// Buffer is storage for one image, row major, width*height*bpp bytes long
type Buffer struct {
	width, height, bpp int
	pix                []byte
}

// New returns a Buffer allocated to the given geometry
func New(width, height, bpp int) *Buffer {
	b := &Buffer{}
	b.Resize(width, height, bpp)
	return b
}

// ValidBytesPerPixel returns true if bpp is a supported byte depth
func ValidBytesPerPixel(bpp int) bool {
	switch bpp {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

// Resize reallocates the buffer.  The prior contents are discarded.
//
// invalid geometry is a programming error, validation belongs to the caller,
// and Resize panics on it.
func (b *Buffer) Resize(width, height, bpp int) {
	if width < 1 || height < 1 || !ValidBytesPerPixel(bpp) {
		panic(fmt.Sprintf("imgbuf: invalid geometry %dx%dx%d", width, height, bpp))
	}
	n := width * height * bpp
	if cap(b.pix) >= n {
		b.pix = b.pix[:n]
		for i := range b.pix {
			b.pix[i] = 0
		}
	} else {
		b.pix = make([]byte, n)
	}
	b.width, b.height, b.bpp = width, height, bpp
}

// Pixels returns the current contents.  Callers must not write to the slice.
func (b *Buffer) Pixels() []byte {
	return b.pix
}

// PixelsMutable returns the current contents for writing
func (b *Buffer) PixelsMutable() []byte {
	return b.pix
}

// SizeBytes is width*height*bytesPerPixel
func (b *Buffer) SizeBytes() int {
	return len(b.pix)
}

// Width in pixels
func (b *Buffer) Width() int { return b.width }

// Height in pixels
func (b *Buffer) Height() int { return b.height }

// BytesPerPixel of the stored data
func (b *Buffer) BytesPerPixel() int { return b.bpp }

// Copy returns a copy of the pixel data that survives a later Resize
func (b *Buffer) Copy() []byte {
	out := make([]byte, len(b.pix))
	copy(out, b.pix)
	return out
}
