package sink

import (
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/kataras/golog"

	"github.jpl.nasa.gov/bdube/camacq/camera"
	"github.jpl.nasa.gov/bdube/camacq/imgrec"
)

// Recording wraps a sink and writes every accepted frame to disk through an
// image recorder.  Frames refused by the inner sink are not written.
type Recording struct {
	camera.FrameSink

	Rec *imgrec.Recorder

	// Header supplies the per-file cards, usually from the camera.  May be nil.
	Header camera.MetadataMaker

	// Color reports whether a frame carries 4 component pixels.  When nil,
	// frames whose pixel type ends in RGB are color.
	Color func(camera.Metadata) bool

	log *golog.Logger
}

// NewRecording returns a sink which tees inner to rec
func NewRecording(inner camera.FrameSink, rec *imgrec.Recorder, hdr camera.MetadataMaker) *Recording {
	return &Recording{FrameSink: inner, Rec: rec, Header: hdr, log: golog.Child("[rec]")}
}

// Insert implements camera.FrameSink
func (r *Recording) Insert(pix []byte, width, height, bpp int, md []byte, count bool) error {
	err := r.FrameSink.Insert(pix, width, height, bpp, md, count)
	if err != nil || r.Rec == nil || !r.Rec.Active() {
		return err
	}
	meta, err := camera.UnmarshalMetadata(md)
	if err != nil {
		return err
	}
	var cards []fitsio.Card
	if r.Header != nil {
		cards = r.Header.CollectHeaderMetadata()
	}
	img := imgrec.Image{Pix: pix, Width: width, Height: height, BytesPerPixel: bpp, Metadata: meta}
	if r.Color != nil {
		img.Color = r.Color(meta)
	} else {
		img.Color = strings.HasSuffix(meta[camera.KeyPixelType], "RGB")
	}
	fn, err := r.Rec.WriteFrame(img, cards)
	if err != nil {
		// write failures never end the acquisition
		r.log.Errorf("writing %s: %v", fn, err)
		return nil
	}
	r.log.Debugf("wrote %s", fn)
	return nil
}

// AcqFinished forwards to the inner sink when it wants to know
func (r *Recording) AcqFinished(label string, err error) {
	if f, ok := r.FrameSink.(camera.AcqFinisher); ok {
		f.AcqFinished(label, err)
	}
}
