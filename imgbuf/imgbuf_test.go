package imgbuf_test

import (
	"testing"

	"github.jpl.nasa.gov/bdube/camacq/imgbuf"
)

func TestResizeSizeIsProductOfGeometry(t *testing.T) {
	cases := []struct {
		w, h, bpp int
	}{
		{1, 1, 1},
		{2040, 1088, 1},
		{640, 480, 2},
		{17, 3, 4},
		{8, 8, 8},
	}
	b := imgbuf.New(4, 4, 1)
	for _, c := range cases {
		b.Resize(c.w, c.h, c.bpp)
		if got, want := b.SizeBytes(), c.w*c.h*c.bpp; got != want {
			t.Errorf("Resize(%d,%d,%d) gave %d bytes, expected %d", c.w, c.h, c.bpp, got, want)
		}
		if len(b.Pixels()) != b.SizeBytes() {
			t.Errorf("pixel slice length %d does not match SizeBytes %d", len(b.Pixels()), b.SizeBytes())
		}
		if b.Width() != c.w || b.Height() != c.h || b.BytesPerPixel() != c.bpp {
			t.Errorf("geometry not recorded, got %dx%dx%d", b.Width(), b.Height(), b.BytesPerPixel())
		}
	}
}

func TestResizeShrinkZeroes(t *testing.T) {
	b := imgbuf.New(4, 4, 2)
	for i := range b.PixelsMutable() {
		b.PixelsMutable()[i] = 0xff
	}
	b.Resize(2, 2, 2)
	for i, v := range b.Pixels() {
		if v != 0 {
			t.Fatalf("byte %d not cleared by resize, got %d", i, v)
		}
	}
}

func TestResizeInvalidPanics(t *testing.T) {
	bad := [][3]int{{0, 1, 1}, {1, 0, 1}, {1, 1, 3}, {-4, 4, 2}}
	for _, g := range bad {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Resize%v did not panic", g)
				}
			}()
			imgbuf.New(g[0], g[1], g[2])
		}()
	}
}

func TestCopyIsIndependent(t *testing.T) {
	b := imgbuf.New(2, 2, 1)
	b.PixelsMutable()[0] = 7
	c := b.Copy()
	b.PixelsMutable()[0] = 9
	if c[0] != 7 {
		t.Errorf("copy aliased the buffer, got %d", c[0])
	}
}
