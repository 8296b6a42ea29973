package democam

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.jpl.nasa.gov/bdube/camacq/util"
)

// configOrder is the order Configure applies settings in, so a sensor size
// or scan mode is in place before the binning and AOI that depend on it
var configOrder = []string{
	"SensorSize",
	"ScanMode",
	"Binning",
	"PixelType",
	"BitDepth",
	"AOI",
	"Exposure",
	"ReadoutTime",
	"FetchTimeout",
	"FastImage",
	"StopOnOverflow",
	"TriggerDevice",
	"Temperature",
	"FaultRate",
	"ExposureSequence",
}

// Configure sets many values for the camera at once.  Numbers may be any
// of the types a JSON or YAML decoder produces; times are milliseconds.
// Every setting is attempted and the failures are returned together.
func (c *Camera) Configure(settings map[string]interface{}) error {
	type fStrErr func(string) error
	type fBoolErr func(bool) error
	type fIntErr func(int) error
	type fMsErr func(time.Duration) error
	strFuncs := map[string]fStrErr{
		"PixelType":     c.SetPixelType,
		"TriggerDevice": c.SetTriggerDevice,
	}
	boolFuncs := map[string]fBoolErr{
		"FastImage":      c.SetFastImage,
		"StopOnOverflow": c.SetStopOnOverflow,
	}
	intFuncs := map[string]fIntErr{
		"Binning":  c.SetBinning,
		"ScanMode": c.SetScanMode,
		"BitDepth": c.SetBitDepth,
	}
	msFuncs := map[string]fMsErr{
		"Exposure":     c.SetExposureTime,
		"ReadoutTime":  c.SetReadoutTime,
		"FetchTimeout": c.SetFetchTimeout,
	}

	var errs *multierror.Error
	for k := range settings {
		if !contains(configOrder, k) {
			errs = multierror.Append(errs, ErrUnknownProperty{Name: k})
		}
	}
	for _, k := range configOrder {
		v, ok := settings[k]
		if !ok {
			continue
		}
		var err error
		switch {
		case strFuncs[k] != nil:
			s, ok := v.(string)
			if !ok {
				err = fmt.Errorf("%s: expected a string, got %T", k, v)
				break
			}
			err = strFuncs[k](s)
		case boolFuncs[k] != nil:
			b, ok := v.(bool)
			if !ok {
				err = fmt.Errorf("%s: expected a bool, got %T", k, v)
				break
			}
			err = boolFuncs[k](b)
		case intFuncs[k] != nil:
			var f float64
			if f, err = toFloat(k, v); err == nil {
				err = intFuncs[k](int(f))
			}
		case msFuncs[k] != nil:
			var f float64
			if f, err = toFloat(k, v); err == nil {
				err = msFuncs[k](util.MsToDuration(f))
			}
		case k == "Temperature":
			var f float64
			if f, err = toFloat(k, v); err == nil {
				err = c.SetTemperature(f)
			}
		case k == "FaultRate":
			var f float64
			if f, err = toFloat(k, v); err == nil {
				err = c.SetFaultRate(f)
			}
		case k == "SensorSize":
			var wh []float64
			if wh, err = toFloats(k, v, 2); err == nil {
				err = c.SetSensorSize(int(wh[0]), int(wh[1]))
			}
		case k == "AOI":
			var a []float64
			if a, err = toFloats(k, v, 4); err == nil {
				err = c.SetAOI(aoiOf(a))
			}
		case k == "ExposureSequence":
			var ms []float64
			if ms, err = toFloats(k, v, -1); err == nil {
				err = c.setExposureSequence(ms)
			}
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errs.ErrorOrNil()
}

// setExposureSequence replaces the per-frame sequence in one step, so a
// rejected batch leaves the previous sequence in place
func (c *Camera) setExposureSequence(ms []float64) error {
	if err := c.checkFault(); err != nil {
		return err
	}
	vals := make([]time.Duration, len(ms))
	for i, v := range ms {
		d := util.MsToDuration(v)
		if d < 0 || d > MaxExposure {
			return fmt.Errorf("entry %d, %v: %w", i, d, ErrExposureRange)
		}
		vals[i] = d
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrDeviceBusy
	}
	return c.seq.Replace(vals)
}

func contains(s []string, k string) bool {
	for _, v := range s {
		if v == k {
			return true
		}
	}
	return false
}

func toFloat(k string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("%s: expected a number, got %T", k, v)
}

// toFloats converts a list of numbers.  n < 0 accepts any length.
func toFloats(k string, v interface{}, n int) ([]float64, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: expected a list, got %T", k, v)
	}
	if n >= 0 && len(list) != n {
		return nil, fmt.Errorf("%s: expected %d values, got %d", k, n, len(list))
	}
	out := make([]float64, len(list))
	for i, e := range list {
		f, err := toFloat(k, e)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
