package camera

import (
	"errors"
	"net/http"
	"time"

	cam "github.jpl.nasa.gov/bdube/camacq/camera"
	"github.jpl.nasa.gov/bdube/camacq/democam"
	"github.jpl.nasa.gov/bdube/camacq/expseq"
	"github.jpl.nasa.gov/bdube/camacq/fault"
	"github.jpl.nasa.gov/bdube/camacq/generichttp"
	"github.jpl.nasa.gov/bdube/camacq/imgrec"
	"github.jpl.nasa.gov/bdube/camacq/sink"
	"github.jpl.nasa.gov/bdube/camacq/util"
)

// errBadRequest is matched by every badRequest
var errBadRequest = errors.New("bad request")

func init() {
	generichttp.RegisterStatus(errBadRequest, http.StatusBadRequest)
	generichttp.RegisterStatus(democam.ErrDeviceBusy, http.StatusConflict)
	generichttp.RegisterStatus(democam.ErrNoSink, http.StatusConflict)
	generichttp.RegisterStatus(democam.ErrSimulatedFault, http.StatusServiceUnavailable)
	generichttp.RegisterStatus(democam.ErrInvalidGeometry, http.StatusBadRequest)
	generichttp.RegisterStatus(democam.ErrUnknownMode, http.StatusBadRequest)
	generichttp.RegisterStatus(democam.ErrExposureRange, http.StatusBadRequest)
	generichttp.RegisterStatus(democam.ErrFrameCount, http.StatusBadRequest)
	generichttp.RegisterStatus(democam.ErrTemperatureRange, http.StatusBadRequest)
	generichttp.RegisterStatus(democam.ErrHardwareFetch, http.StatusBadGateway)
	generichttp.RegisterStatus(democam.ErrFetchTimeout, http.StatusGatewayTimeout)
	generichttp.RegisterStatus(expseq.ErrFull, http.StatusBadRequest)
	generichttp.RegisterStatus(expseq.ErrNegative, http.StatusBadRequest)
	generichttp.RegisterStatus(sink.ErrEmpty, http.StatusNotFound)
}

// HTTPCamera wraps a simulated camera, its frame sink, and an optional
// recorder in an HTTP interface
type HTTPCamera struct {
	Cam  *democam.Camera
	Sink *sink.Circular

	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper.  snk is the sink the camera
// delivers to; it may be wrapped before being handed to the camera, but the
// wrapper reads frames and statistics from it directly.
func NewHTTPCamera(c *democam.Camera, snk *sink.Circular, rec *imgrec.Recorder) HTTPCamera {
	rt := generichttp.RouteTable{}
	h := HTTPCamera{Cam: c, Sink: snk, RouteTable: rt}
	HTTPPicture(c, rt, rec)
	HTTPFormat(c, rt)
	HTTPSequence(c, rt)
	HTTPDemo(c, rt)
	if snk != nil {
		HTTPSink(snk, rt)
	}
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// SensorSize is the JSON form of the sensor dimensions
type SensorSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RunStatus is the JSON form of a finished sequence
type RunStatus struct {
	ID         string  `json:"id"`
	Frames     int64   `json:"frames"`
	DurationMs float64 `json:"durationMs"`
	Error      string  `json:"error"`
	Stopped    bool    `json:"stopped"`
}

// HTTPDemo injects the routes specific to the simulated camera: scan mode,
// sensor size, timing, trigger, temperature, exposure sequence, fault
// injection, and illumination
func HTTPDemo(c *democam.Camera, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/scan-mode"}] = generichttp.GetInt(c.GetScanMode)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/scan-mode"}] = generichttp.SetInt(c.SetScanMode)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/sensor-size"}] = getSensorSize(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/sensor-size"}] = setSensorSize(c)

	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/readout-time"}] = getDuration(c.GetReadoutTime)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/readout-time"}] = setDuration(c.SetReadoutTime)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/fetch-timeout"}] = getDuration(c.GetFetchTimeout)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/fetch-timeout"}] = setDuration(c.SetFetchTimeout)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/fast-image"}] = generichttp.GetBool(c.GetFastImage)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/fast-image"}] = generichttp.SetBool(c.SetFastImage)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/stop-on-overflow"}] = generichttp.GetBool(c.GetStopOnOverflow)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/stop-on-overflow"}] = generichttp.SetBool(c.SetStopOnOverflow)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/trigger-device"}] = generichttp.GetString(c.GetTriggerDevice)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/trigger-device"}] = generichttp.SetString(c.SetTriggerDevice)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/temperature"}] = generichttp.GetFloat(c.GetTemperature)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/temperature"}] = generichttp.SetFloat(c.SetTemperature)

	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure-sequence"}] = getExposureSequence(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-sequence"}] = addExposureSequence(c)
	table[generichttp.MethodPath{Method: http.MethodDelete, Path: "/exposure-sequence"}] = generichttp.Do(c.ClearExposureSequence)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-sequence/load"}] = generichttp.SetString(c.LoadExposureSequence)

	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/fault-rate"}] = generichttp.GetFloat(c.GetFaultRate)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/fault-rate"}] = setFaultRate(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/intensity"}] = generichttp.GetFloat(func() (float64, error) {
		return c.Hub().Intensity(), nil
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/intensity"}] = generichttp.SetFloat(func(f float64) error {
		c.Hub().SetIntensity(f)
		return nil
	})

	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/sequence/frames"}] = generichttp.GetInt(func() (int, error) {
		return int(c.FramesAcquired()), nil
	})
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/sequence/last"}] = getLastRun(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/configure"}] = configure(c)
}

func getSensorSize(c *democam.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		width, height, err := c.GetSensorSize()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		generichttp.EncodeJSON(w, SensorSize{Width: width, Height: height})
	}
}

func setSensorSize(c *democam.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := SensorSize{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = c.SetSensorSize(s.Width, s.Height)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// getDuration reports a duration as {"f64": ms}
func getDuration(fcn func() (time.Duration, error)) http.HandlerFunc {
	return generichttp.GetFloat(func() (float64, error) {
		d, err := fcn()
		return util.DurationToMs(d), err
	})
}

// setDuration accepts a duration as {"f64": ms}
func setDuration(fcn func(time.Duration) error) http.HandlerFunc {
	return generichttp.SetFloat(func(ms float64) error {
		return fcn(util.MsToDuration(ms))
	})
}

func getExposureSequence(c *democam.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seq, err := c.GetExposureSequence()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		f := expseq.File{ExposuresMs: make([]float64, len(seq))}
		for i, d := range seq {
			f.ExposuresMs[i] = util.DurationToMs(d)
		}
		generichttp.EncodeJSON(w, f)
	}
}

// addExposureSequence appends {"exposuresMs": [...]} to the sequence.  A
// failure part way leaves the entries before it in place.
func addExposureSequence(c *democam.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := expseq.File{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, ms := range f.ExposuresMs {
			err = c.AddToExposureSequence(util.MsToDuration(ms))
			if err != nil {
				generichttp.Error(w, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

func setFaultRate(c *democam.Camera) http.HandlerFunc {
	return generichttp.SetFloat(func(f float64) error {
		err := c.SetFaultRate(f)
		var rangeErr fault.ErrRateOutOfRange
		if errors.As(err, &rangeErr) {
			return badRequest{err}
		}
		return err
	})
}

func getLastRun(c *democam.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := c.LastRun()
		rs := RunStatus{
			ID:         run.ID,
			Frames:     run.Frames,
			DurationMs: util.DurationToMs(run.Duration),
			Stopped:    run.Stopped,
		}
		if run.Err != nil {
			rs.Error = run.Err.Error()
		}
		generichttp.EncodeJSON(w, rs)
	}
}

// configure applies a JSON object of settings with democam.Camera.Configure.
// Every failing key is reported.
func configure(c *democam.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings := map[string]interface{}{}
		err := json.NewDecoder(r.Body).Decode(&settings)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = c.Configure(settings)
		if err != nil {
			code := generichttp.StatusFor(err)
			if code == http.StatusInternalServerError {
				code = http.StatusBadRequest
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// badRequest marks an error as the client's fault
type badRequest struct {
	error
}

func (b badRequest) Unwrap() error {
	return b.error
}

func (b badRequest) Is(target error) bool {
	return target == errBadRequest
}

// compile-time checks
var (
	_ cam.Capturable    = (*democam.Camera)(nil)
	_ cam.Configurable  = (*democam.Camera)(nil)
	_ cam.Sequenceable  = (*democam.Camera)(nil)
	_ cam.MetadataMaker = (*democam.Camera)(nil)
	_ cam.FrameSink     = (*sink.Circular)(nil)
	_ cam.AcqFinisher   = (*sink.Circular)(nil)
)
