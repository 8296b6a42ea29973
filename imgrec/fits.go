package imgrec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/snksoft/crc"

	"github.jpl.nasa.gov/bdube/camacq/camera"
)

// crcTable computes the PIXCRC card, concurrent safe once built
var crcTable = crc.NewTable(crc.CRC32)

// Image is one frame ready to be written as FITS
type Image struct {
	Pix                          []byte
	Width, Height, BytesPerPixel int

	// Color is true for 4 component BGRA pixels
	Color bool

	Metadata camera.Metadata
}

// metadataCards maps frame tags to FITS keywords
var metadataCards = map[string]fitsio.Card{
	camera.KeyCamera:      {Name: "CAMERA", Comment: "device label"},
	camera.KeyStartTime:   {Name: "TSTART", Comment: "sequence start, unix ms"},
	camera.KeyElapsedTime: {Name: "TELAPSED", Comment: "time since sequence start, ms"},
	camera.KeyROIX:        {Name: "ROIX", Comment: "0-based left pixel of the AOI"},
	camera.KeyROIY:        {Name: "ROIY", Comment: "0-based top pixel of the AOI"},
	camera.KeyBinning:     {Name: "BINNING", Comment: "binning factor"},
	camera.KeyImageNumber: {Name: "IMGNUM", Comment: "frame number within the sequence"},
	camera.KeyRunID:       {Name: "RUNID", Comment: "sequence id"},
	camera.KeyExposure:    {Name: "EXPMS", Comment: "exposure of this frame, ms"},
	camera.KeyPixelType:   {Name: "PIXTYPE", Comment: "pixel encoding"},
}

// keyword reduces an arbitrary tag to a valid FITS keyword
func keyword(s string) string {
	s = strings.ToUpper(s)
	s = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, s)
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

// MetadataCards converts frame tags to FITS cards, sorted by keyword
func MetadataCards(md camera.Metadata) []fitsio.Card {
	out := make([]fitsio.Card, 0, len(md))
	for k, v := range md {
		card, ok := metadataCards[k]
		if !ok {
			card = fitsio.Card{Name: keyword(k), Comment: k}
		}
		if card.Name == "" {
			continue
		}
		card.Value = v
		out = append(out, card)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PixelCRC is the CRC-32 of the raw pixel bytes
func PixelCRC(pix []byte) string {
	return fmt.Sprintf("%08x", crcTable.CalculateCRC(pix))
}

// mergeCards concatenates card lists; a later card replaces an earlier one of
// the same name
func mergeCards(lists ...[]fitsio.Card) []fitsio.Card {
	idx := map[string]int{}
	var out []fitsio.Card
	for _, l := range lists {
		for _, c := range l {
			if i, ok := idx[c.Name]; ok {
				out[i] = c
				continue
			}
			idx[c.Name] = len(out)
			out = append(out, c)
		}
	}
	return out
}

// EncodeFITS streams img to w as a single-HDU FITS file.  The header holds
// cards, then the frame's metadata, then a PIXCRC checksum of the raw pixels.
//
// Unsigned 16 bit data is stored with BZERO=32768, as FITS has no unsigned
// types.  Color frames are a 3D cube with the 4 components on the last axis.
func EncodeFITS(w io.Writer, img Image, cards []fitsio.Card) error {
	dims := []int{img.Width, img.Height}
	var (
		bitpix int
		data   interface{}
		extra  []fitsio.Card
	)
	bpc := img.BytesPerPixel
	if img.Color {
		bpc /= 4
		dims = append(dims, 4)
	}
	switch bpc {
	case 1:
		bitpix = 8
		data = img.Pix
	case 2:
		bitpix = 16
		extra = []fitsio.Card{{Name: "BZERO", Value: 32768}, {Name: "BSCALE", Value: 1.0}}
		ints := make([]int16, len(img.Pix)/2)
		for i := range ints {
			ints[i] = int16(binary.LittleEndian.Uint16(img.Pix[2*i:]) - 32768)
		}
		data = ints
	case 4:
		bitpix = -32
		floats := make([]float32, len(img.Pix)/4)
		for i := range floats {
			floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(img.Pix[4*i:]))
		}
		data = floats
	default:
		return fmt.Errorf("cannot encode %d bytes per component as FITS", bpc)
	}
	if img.Color {
		data = planar(data, img.Width*img.Height)
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(bitpix, dims)
	defer im.Close()
	all := mergeCards(cards, MetadataCards(img.Metadata), extra,
		[]fitsio.Card{{Name: "PIXCRC", Value: PixelCRC(img.Pix), Comment: "CRC-32 of the raw pixel bytes"}})
	err = im.Header().Append(all...)
	if err != nil {
		return err
	}
	err = im.Write(data)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// planar reorders interleaved BGRA into four consecutive planes, matching
// FITS axis order with the component axis slowest
func planar(data interface{}, npix int) interface{} {
	switch d := data.(type) {
	case []byte:
		out := make([]byte, len(d))
		for i := 0; i < npix; i++ {
			for c := 0; c < 4; c++ {
				out[c*npix+i] = d[4*i+c]
			}
		}
		return out
	case []int16:
		out := make([]int16, len(d))
		for i := 0; i < npix; i++ {
			for c := 0; c < 4; c++ {
				out[c*npix+i] = d[4*i+c]
			}
		}
		return out
	}
	return data
}
