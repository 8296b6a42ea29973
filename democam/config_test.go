package democam

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.jpl.nasa.gov/bdube/camacq/camera"
	"github.jpl.nasa.gov/bdube/camacq/expseq"
)

func TestConfigureAppliesInOrder(t *testing.T) {
	c := New(Options{})
	err := c.Configure(map[string]interface{}{
		// AOI depends on the sensor size and binning, which come first
		"AOI":              []interface{}{0, 0, 16, 16},
		"Binning":          2,
		"SensorSize":       []interface{}{64.0, 64.0},
		"Exposure":         12.5,
		"FastImage":        true,
		"TriggerDevice":    "pulser",
		"ExposureSequence": []interface{}{1, 2},
		"Temperature":      -20,
	})
	if err != nil {
		t.Fatal(err)
	}
	f, _ := c.GetFormat()
	if f.SensorWidth != 64 || f.Binning != 2 || f.ROI != (camera.AOI{Width: 16, Height: 16}) {
		t.Errorf("unexpected format %+v", f)
	}
	if d, _ := c.GetExposureTime(); d != 12500*time.Microsecond {
		t.Errorf("expected 12.5 ms exposure, got %v", d)
	}
	if seq, _ := c.GetExposureSequence(); len(seq) != 2 || seq[1] != 2*time.Millisecond {
		t.Errorf("unexpected exposure sequence %v", seq)
	}
	if tmp, _ := c.GetTemperature(); tmp != -20 {
		t.Errorf("expected -20 C, got %g", tmp)
	}
}

func TestConfigureCollectsEveryError(t *testing.T) {
	c := New(Options{})
	err := c.Configure(map[string]interface{}{
		"Bogus":     1,
		"PixelType": "12bit",
		"Exposure":  1e6,
		"Binning":   4,
	})
	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("expected *multierror.Error, got %T %v", err, err)
	}
	if len(merr.Errors) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(merr.Errors), err)
	}
	var unk ErrUnknownProperty
	if !errors.As(err, &unk) || unk.Name != "Bogus" {
		t.Errorf("expected ErrUnknownProperty for Bogus, got %v", err)
	}
	if !errors.Is(err, ErrExposureRange) || !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected range and mode errors, got %v", err)
	}
	if b, _ := c.GetBinning(); b != 4 {
		t.Errorf("valid settings should still apply, binning is %d", b)
	}
}

func TestCollectHeaderMetadata(t *testing.T) {
	c := newSmall(t)
	c.SetBinning(2)
	c.SetExposureTime(50 * time.Millisecond)
	cards := c.CollectHeaderMetadata()
	got := map[string]interface{}{}
	for _, card := range cards {
		got[card.Name] = card.Value
	}
	want := map[string]interface{}{
		"HDRVER":  HeaderVersion,
		"CAMMODL": CameraName,
		"EXPTIME": 0.05,
		"AOIW":    32,
		"AOIH":    16,
		"AOIB":    "2x2",
		"PIXTYPE": "8bit",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("card %s = %v, want %v", k, got[k], v)
		}
	}
}

func TestExposureSequenceProps(t *testing.T) {
	c := New(Options{SequenceMaxLength: 2})
	if n, _ := c.GetExposureSequenceMaxLength(); n != 2 {
		t.Fatalf("expected max length 2, got %d", n)
	}
	c.AddToExposureSequence(time.Millisecond)
	c.AddToExposureSequence(time.Millisecond)
	if err := c.AddToExposureSequence(time.Millisecond); !errors.Is(err, expseq.ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if err := c.AddToExposureSequence(MaxExposure + 1); !errors.Is(err, ErrExposureRange) {
		t.Errorf("expected ErrExposureRange, got %v", err)
	}
	c.ClearExposureSequence()
	if seq, _ := c.GetExposureSequence(); len(seq) != 0 {
		t.Errorf("expected empty sequence, got %v", seq)
	}

	path := filepath.Join(t.TempDir(), "seq.yml")
	os.WriteFile(path, []byte("exposuresMs: [5, 10]\n"), 0644)
	if err := c.LoadExposureSequence(path); err != nil {
		t.Fatal(err)
	}
	if seq, _ := c.GetExposureSequence(); len(seq) != 2 || seq[0] != 5*time.Millisecond {
		t.Errorf("unexpected loaded sequence %v", seq)
	}
}

func TestConfigureRejectedSequenceKeepsPrevious(t *testing.T) {
	c := New(Options{SequenceMaxLength: 4})
	if err := c.AddToExposureSequence(7 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	batches := [][]interface{}{
		{1, 2, 9999},
		{1, 2, 3, 4, 5},
		{1, "two"},
	}
	for _, b := range batches {
		if err := c.Configure(map[string]interface{}{"ExposureSequence": b}); err == nil {
			t.Errorf("batch %v accepted", b)
		}
		seq, _ := c.GetExposureSequence()
		if len(seq) != 1 || seq[0] != 7*time.Millisecond {
			t.Errorf("batch %v left sequence %v, want [7ms]", b, seq)
		}
	}

	c.SetFaultRate(1)
	err := c.Configure(map[string]interface{}{"ExposureSequence": []interface{}{1, 2}})
	if !errors.Is(err, ErrSimulatedFault) {
		t.Errorf("expected ErrSimulatedFault, got %v", err)
	}
	c.SetFaultRate(0)
	if seq, _ := c.GetExposureSequence(); len(seq) != 1 {
		t.Errorf("faulted configure changed sequence to %v", seq)
	}
}

func TestRangeChecks(t *testing.T) {
	c := New(Options{})
	if err := c.SetExposureTime(-time.Millisecond); !errors.Is(err, ErrExposureRange) {
		t.Errorf("negative exposure: %v", err)
	}
	if err := c.SetExposureTime(MaxExposure + time.Millisecond); !errors.Is(err, ErrExposureRange) {
		t.Errorf("long exposure: %v", err)
	}
	if err := c.SetTemperature(MaxTemperature + 1); !errors.Is(err, ErrTemperatureRange) {
		t.Errorf("hot setpoint: %v", err)
	}
	if err := c.SetReadoutTime(-1); err == nil {
		t.Error("negative readout accepted")
	}
	if d, _ := c.GetExposureTime(); d != DefaultExposure {
		t.Errorf("rejected setters changed exposure to %v", d)
	}
}
