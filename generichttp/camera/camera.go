// Package camera provides a generic HTTP interface to a scientific camera
package camera

import (
	"bytes"
	"go/types"
	"net/http"
	"time"

	"github.com/astrogo/fitsio"
	jsoniter "github.com/json-iterator/go"

	cam "github.jpl.nasa.gov/bdube/camacq/camera"
	"github.jpl.nasa.gov/bdube/camacq/generichttp"
	"github.jpl.nasa.gov/bdube/camacq/imgrec"
	"github.jpl.nasa.gov/bdube/camacq/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// pixelTyper is implemented by cameras which can report their pixel encoding
type pixelTyper interface {
	GetPixelType() (string, error)
}

// HTTPPicture injects HTTP methods into a route table for a picture taker
func HTTPPicture(p cam.Capturable, table generichttp.RouteTable, rec *imgrec.Recorder) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure-time"}] = GetExposureTime(p)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-time"}] = SetExposureTime(p)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/image"}] = GetFrame(p, rec)
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func SetExposureTime(p cam.Capturable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		texp := q.Get("exposureTime")
		var d time.Duration
		var err error
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = util.SecsToDuration(f.F64)
		} else {
			d, err = parseExposure(texp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = p.SetExposureTime(d)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetExposureTime gets the exposure time in seconds on a GET request
func GetExposureTime(p cam.Capturable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := p.GetExposureTime()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: f.Seconds()}
		hp.EncodeAndRespond(w, r)
	}
}

// parseExposure parses a duration; a bare number is taken as seconds
func parseExposure(texp string) (time.Duration, error) {
	if util.AllElementsNumbers(texp) {
		texp = texp + "s"
	}
	return time.ParseDuration(texp)
}

// GetFrame takes a picture and returns it on a GET request.
//
// the image format may be specified in a query parameter fmt; jpg, png, or
// fits.  Default to jpg.
//
// the exposure time may be specified as a query parameter in any time-looking
// format, such as "25ms" or "10us".  Strictly speaking, it must be a valid
// input to golang time.ParseDuration.
//
// if no unit is appended, an s (seconds) is added.
//
// if no exposure time is provided, it is not updated and the existing value is used.
//
// for fits, when rec is enabled the frame is also written to disk, and when
// p is a MetadataMaker its cards lead the header.
func GetFrame(p cam.Capturable, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		texp := q.Get("exposureTime")
		if texp != "" {
			T, err := parseExposure(texp)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			err = p.SetExposureTime(T)
			if err != nil {
				generichttp.Error(w, err)
				return
			}
		}
		format := q.Get("fmt")
		if format == "" {
			format = "jpg"
		}
		if format != "jpg" && format != "jpeg" && format != "png" && format != "fits" {
			http.Error(w, "fmt must be one of jpg, png, fits", http.StatusBadRequest)
			return
		}

		err := p.Snap()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		pix, width, height, bpp, err := p.Frame()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		var ptName string
		if pt, ok := p.(pixelTyper); ok {
			ptName, err = pt.GetPixelType()
			if err != nil {
				generichttp.Error(w, err)
				return
			}
		}
		pt, err := pixelTypeFor(ptName, bpp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if format == "fits" {
			cards := []fitsio.Card{}
			if carder, ok := p.(cam.MetadataMaker); ok {
				cards = carder.CollectHeaderMetadata()
			}
			img := imgrec.Image{Pix: pix, Width: width, Height: height, BytesPerPixel: bpp, Color: pt.Components() > 1}
			buf := &bytes.Buffer{}
			err = imgrec.EncodeFITS(buf, img, cards)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if rec != nil && rec.Active() {
				if _, err := rec.WriteFrame(img, cards); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
			hdr := w.Header()
			hdr.Set("Content-Type", contentType(format))
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			w.WriteHeader(http.StatusOK)
			w.Write(buf.Bytes())
			return
		}

		im, err := toImage(pix, width, height, pt)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		buf := &bytes.Buffer{}
		err = encodeImage(buf, im, format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType(format))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// HTTPFormat injects HTTP methods into a route table for a camera with a
// configurable image format
func HTTPFormat(c cam.Configurable, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/binning"}] = generichttp.GetInt(c.GetBinning)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/binning"}] = generichttp.SetInt(c.SetBinning)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/pixel-type"}] = generichttp.GetString(c.GetPixelType)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/pixel-type"}] = generichttp.SetString(c.SetPixelType)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/bit-depth"}] = generichttp.GetInt(c.GetBitDepth)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/bit-depth"}] = generichttp.SetInt(c.SetBitDepth)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/aoi"}] = GetAOI(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/aoi"}] = SetAOI(c)
	table[generichttp.MethodPath{Method: http.MethodDelete, Path: "/aoi"}] = generichttp.Do(c.ClearAOI)
}

// SetAOI sets the AOI from a JSON body {"left", "top", "width", "height"}.
// A zero width and height restores the full frame.
func SetAOI(c cam.Configurable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aoi := cam.AOI{}
		err := json.NewDecoder(r.Body).Decode(&aoi)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = c.SetAOI(aoi)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetAOI returns the AOI as JSON
func GetAOI(c cam.Configurable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aoi, err := c.GetAOI()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		generichttp.EncodeJSON(w, aoi)
	}
}

// SequenceRequest is the body of a POST to /sequence/start
type SequenceRequest struct {
	// Frames is the number of frames to acquire; ignored when Continuous
	Frames int64 `json:"frames"`

	// IntervalMs is the minimum average frame period in milliseconds
	IntervalMs float64 `json:"intervalMs"`

	// Continuous acquires until stopped
	Continuous bool `json:"continuous"`
}

// HTTPSequence injects HTTP methods into a route table for a camera which
// can acquire continuously
func HTTPSequence(s cam.Sequenceable, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/sequence/start"}] = StartSequence(s)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/sequence/stop"}] = generichttp.Do(s.StopSequence)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/sequence/capturing"}] = generichttp.GetBool(func() (bool, error) {
		return s.Capturing(), nil
	})
}

// StartSequence starts a sequence described by a SequenceRequest body.  It
// returns as soon as the sequence is running.
func StartSequence(s cam.Sequenceable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := SequenceRequest{}
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		interval := util.MsToDuration(req.IntervalMs)
		if req.Continuous {
			err = s.StartContinuous(interval)
		} else {
			err = s.StartSequence(req.Frames, interval)
		}
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
