package democam

import (
	"fmt"
	"time"

	"github.com/astrogo/fitsio"

	"github.jpl.nasa.gov/bdube/camacq/camera"
)

// HeaderVersion tags the layout of the FITS header produced by
// CollectHeaderMetadata
const HeaderVersion = "DEMOCAM-1"

func aoiOf(a []float64) camera.AOI {
	return camera.AOI{Left: int(a[0]), Top: int(a[1]), Width: int(a[2]), Height: int(a[3])}
}

// CollectHeaderMetadata produces the FITS cards describing the camera's
// current state.  It reads state directly and never fails.
func (c *Camera) CollectHeaderMetadata() []fitsio.Card {
	c.mu.Lock()
	f := c.format
	texp := c.exposure
	readout := c.readout
	temp := c.tempSetpoint
	fast := c.fastImage
	last := c.lastRun
	c.mu.Unlock()
	aoi := f.AOI()

	now := time.Now()
	ts := fmt.Sprintf("%d-%02d-%02dT%02d:%02d:%02d",
		now.Year(),
		now.Month(),
		now.Day(),
		now.Hour(),
		now.Minute(),
		now.Second())

	return []fitsio.Card{
		{Name: "HDRVER", Value: HeaderVersion, Comment: "header version"},
		{Name: "CAMMODL", Value: CameraName, Comment: "camera model"},
		{Name: "CAMID", Value: CameraID, Comment: "camera firmware version"},
		{Name: "CAMLABEL", Value: c.label, Comment: "device label"},
		{Name: "DATE", Value: ts},

		// exposure parameters
		{Name: "EXPTIME", Value: texp.Seconds(), Comment: "exposure time, seconds"},
		{Name: "READOUT", Value: readout.Seconds(), Comment: "readout time, seconds"},
		{Name: "FASTIMG", Value: fast, Comment: "sequence frames re-use the last fetch"},

		// format
		{Name: "PIXTYPE", Value: f.Pixel.String(), Comment: "pixel encoding"},
		{Name: "BITDEPTH", Value: f.BitDepth, Comment: "2^BITDEPTH is the maximum possible DN"},
		{Name: "SCANMODE", Value: f.ScanMode, Comment: "sensor scan mode"},
		{Name: "SENSORW", Value: f.SensorWidth, Comment: "unbinned sensor width, px"},
		{Name: "SENSORH", Value: f.SensorHeight, Comment: "unbinned sensor height, px"},

		// thermal parameters
		{Name: "TEMPER", Value: temp, Comment: "FPA temperature (Celcius)"},

		// aoi parameters
		{Name: "AOIL", Value: aoi.Left, Comment: "0-based left pixel of the AOI"},
		{Name: "AOIT", Value: aoi.Top, Comment: "0-based top pixel of the AOI"},
		{Name: "AOIW", Value: aoi.Width, Comment: "AOI width, px"},
		{Name: "AOIH", Value: aoi.Height, Comment: "AOI height, px"},
		{Name: "AOIB", Value: fmt.Sprintf("%dx%d", f.Binning, f.Binning), Comment: "AOI Binning, HxV"},

		// sequence
		{Name: "RUNID", Value: last.ID, Comment: "id of the last sequence"},
	}
}
