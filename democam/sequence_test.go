package democam

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kataras/golog"

	"github.jpl.nasa.gov/bdube/camacq/camera"
	"github.jpl.nasa.gov/bdube/camacq/sink"
	"github.jpl.nasa.gov/bdube/camacq/trigger"
)

func newSequencing(t *testing.T, capacity int, opts Options) (*Camera, *sink.Circular) {
	t.Helper()
	snk := sink.NewCircular(capacity)
	opts.Sink = snk
	c := New(opts)
	if err := c.SetSensorSize(64, 32); err != nil {
		t.Fatal(err)
	}
	if err := c.SetExposureTime(time.Millisecond); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Shutdown() })
	return c, snk
}

func waitFrames(t *testing.T, c *Camera, n int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.FramesAcquired() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d frames, have %d", n, c.FramesAcquired())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSnapTakesAtLeastTheExposure(t *testing.T) {
	c := newSmall(t)
	exp := 20 * time.Millisecond
	c.SetExposureTime(exp)
	start := time.Now()
	if err := c.Snap(); err != nil {
		t.Fatal(err)
	}
	if el := time.Since(start); el < exp {
		t.Errorf("snap returned after %v, exposure is %v", el, exp)
	}
}

func TestFrameWaitsForReadout(t *testing.T) {
	c := newSmall(t)
	exp, readout := 5*time.Millisecond, 30*time.Millisecond
	c.SetExposureTime(exp)
	c.SetReadoutTime(readout)
	start := time.Now()
	if _, _, _, _, err := c.SnapFrame(); err != nil {
		t.Fatal(err)
	}
	if el := time.Since(start); el < exp+readout {
		t.Errorf("frame readable after %v, expected at least %v", el, exp+readout)
	}
}

func TestSnapFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	c := New(Options{Fetcher: FetcherFunc(func(buf []byte, info FrameInfo) error {
		<-release
		return nil
	})})
	defer close(release)
	c.SetExposureTime(time.Millisecond)
	c.SetFetchTimeout(10 * time.Millisecond)
	if err := c.Snap(); !errors.Is(err, ErrFetchTimeout) {
		t.Errorf("expected ErrFetchTimeout, got %v", err)
	}
}

func TestTimedOutFetchDoesNotBlockTheCamera(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	c := New(Options{Fetcher: FetcherFunc(func(buf []byte, info FrameInfo) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-release
		}
		return nil
	})})
	t.Cleanup(func() { c.Shutdown() })
	c.SetExposureTime(time.Millisecond)
	c.SetFetchTimeout(10 * time.Millisecond)
	if err := c.Snap(); !errors.Is(err, ErrFetchTimeout) {
		t.Fatalf("expected ErrFetchTimeout, got %v", err)
	}

	// everything that would wait on the stuck fetch refuses instead
	result := make(chan error, 1)
	go func() {
		if err := c.Snap(); !errors.Is(err, ErrDeviceBusy) {
			result <- fmt.Errorf("second snap: %v", err)
			return
		}
		if _, _, _, _, err := c.Frame(); !errors.Is(err, ErrDeviceBusy) {
			result <- fmt.Errorf("frame: %v", err)
			return
		}
		if err := c.SetBinning(2); !errors.Is(err, ErrDeviceBusy) {
			result <- fmt.Errorf("set binning: %v", err)
			return
		}
		if err := c.StartSequence(1, 0); !errors.Is(err, ErrDeviceBusy) {
			result <- fmt.Errorf("start: %v", err)
			return
		}
		if _, err := c.GetExposureTime(); err != nil {
			result <- err
			return
		}
		result <- c.SetExposureTime(2 * time.Millisecond)
	}()
	select {
	case err := <-result:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("camera blocked behind a timed out fetch")
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for {
		err := c.Snap()
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDeviceBusy) || time.Now().After(deadline) {
			t.Fatalf("snap after the fetch returned: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if _, _, _, _, err := c.Frame(); err != nil {
		t.Error(err)
	}
}

func TestSequenceDeliversExactCount(t *testing.T) {
	c, snk := newSequencing(t, 10, Options{})
	if err := c.StartSequence(3, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if c.Capturing() {
		t.Error("still capturing after Wait")
	}
	if snk.Len() != 3 {
		t.Fatalf("expected 3 frames, sink holds %d", snk.Len())
	}
	var (
		lastElapsed = -1.
		runID       string
	)
	for i := 0; i < 3; i++ {
		f, err := snk.Pop()
		if err != nil {
			t.Fatal(err)
		}
		if f.Metadata[camera.KeyImageNumber] != strconv.Itoa(i) {
			t.Errorf("frame %d carries image number %s", i, f.Metadata[camera.KeyImageNumber])
		}
		el, err := strconv.ParseFloat(f.Metadata[camera.KeyElapsedTime], 64)
		if err != nil {
			t.Fatal(err)
		}
		if el <= lastElapsed {
			t.Errorf("elapsed time not increasing: %g after %g", el, lastElapsed)
		}
		lastElapsed = el
		if i == 0 {
			runID = f.Metadata[camera.KeyRunID]
		} else if f.Metadata[camera.KeyRunID] != runID {
			t.Errorf("run id changed within a run")
		}
		if f.Metadata[camera.KeyCamera] != DefaultLabel || f.Metadata[camera.KeyBinning] != "1" {
			t.Errorf("unexpected metadata %v", f.Metadata)
		}
	}
	last := c.LastRun()
	if last.Frames != 3 || last.Err != nil || last.Stopped || last.ID != runID {
		t.Errorf("unexpected run summary %+v", last)
	}
	if snk.Stats().Finished != 1 {
		t.Error("sink was not told the acquisition finished")
	}
}

func TestSequencePacingAveragesToInterval(t *testing.T) {
	c, _ := newSequencing(t, 10, Options{})
	interval := 20 * time.Millisecond
	if err := c.StartSequence(5, interval); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if d := c.LastRun().Duration; d < 5*interval {
		t.Errorf("5 frames at %v took only %v", interval, d)
	}
}

func TestSequencePacingAveragesToExposure(t *testing.T) {
	c, _ := newSequencing(t, 10, Options{})
	exp := 10 * time.Millisecond
	c.SetExposureTime(exp)
	if err := c.StartSequence(5, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if d := c.LastRun().Duration; d < 5*exp {
		t.Errorf("5 frames of %v took only %v", exp, d)
	}
}

func TestSequencePacingCatchesUpAfterSlowFrame(t *testing.T) {
	slow := 150 * time.Millisecond
	c, snk := newSequencing(t, 10, Options{Fetcher: FetcherFunc(func(buf []byte, info FrameInfo) error {
		if info.Index == 0 {
			time.Sleep(slow)
		}
		return nil
	})})
	exp := 20 * time.Millisecond
	c.SetExposureTime(exp)
	if err := c.StartSequence(5, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if d := c.LastRun().Duration; d < 5*exp {
		t.Errorf("5 frames of %v took only %v", exp, d)
	}
	elapsed := make([]float64, 5)
	for i := range elapsed {
		f, err := snk.Pop()
		if err != nil {
			t.Fatal(err)
		}
		elapsed[i], err = strconv.ParseFloat(f.Metadata[camera.KeyElapsedTime], 64)
		if err != nil {
			t.Fatal(err)
		}
	}
	// frames 1-4 are owed time by frame 0 and are not held to one exposure each
	if span := elapsed[4] - elapsed[1]; span >= 3*exp.Seconds()*1e3 {
		t.Errorf("frames after the slow one were paced individually, spanning %g ms", span)
	}
}

func TestStartWhileRunningIsBusy(t *testing.T) {
	c, _ := newSequencing(t, 1000, Options{})
	if err := c.StartContinuous(5 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	waitFrames(t, c, 2)
	start := c.RunStart()
	n := c.FramesAcquired()
	if err := c.StartSequence(10, 0); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	if c.RunStart() != start || c.FramesAcquired() < n {
		t.Error("rejected start disturbed the running sequence")
	}
	if err := c.SetBinning(2); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("setter while running: expected ErrDeviceBusy, got %v", err)
	}
	if err := c.Snap(); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("snap while running: expected ErrDeviceBusy, got %v", err)
	}
	if err := c.SetExposureTime(2 * time.Millisecond); err != nil {
		t.Errorf("exposure may change while running, got %v", err)
	}

	if err := c.StopSequence(); err != nil {
		t.Fatal(err)
	}
	if c.Capturing() {
		t.Fatal("capturing after StopSequence returned")
	}
	if !c.LastRun().Stopped {
		t.Error("run summary does not record the stop")
	}
	if err := c.SetBinning(2); err != nil {
		t.Errorf("setter after stop: %v", err)
	}
}

func TestStopWhenIdleReturns(t *testing.T) {
	c, _ := newSequencing(t, 1, Options{})
	done := make(chan error, 1)
	go func() { done <- c.StopSequence() }()
	select {
	case err := <-done:
		if err != nil {
			t.Error(err)
		}
	case <-time.After(time.Second):
		t.Fatal("StopSequence blocked with nothing running")
	}
}

func TestStartValidation(t *testing.T) {
	c := New(Options{})
	if err := c.StartSequence(1, 0); !errors.Is(err, ErrNoSink) {
		t.Errorf("expected ErrNoSink, got %v", err)
	}
	c.SetSink(sink.NewCircular(1))
	if err := c.StartSequence(0, 0); !errors.Is(err, ErrFrameCount) {
		t.Errorf("expected ErrFrameCount, got %v", err)
	}
}

func TestOverflowClearsAndRepushesOnce(t *testing.T) {
	c, snk := newSequencing(t, 1, Options{})
	if err := c.StartSequence(3, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	s := snk.Stats()
	if s.Overflows != 2 || s.Cleared != 2 {
		t.Errorf("expected 2 overflows and 2 clears, got %+v", s)
	}
	if s.Pushed != 3 || s.Inserted != 1 {
		t.Errorf("re-pushed frames were counted: %+v", s)
	}
	if c.FramesAcquired() != 3 || c.LastRun().Err != nil {
		t.Errorf("expected 3 frames and no error, got %d, %v", c.FramesAcquired(), c.LastRun().Err)
	}
	f, _ := snk.Pop()
	if f.Metadata[camera.KeyImageNumber] != "2" {
		t.Errorf("expected the last frame to survive, got image %s", f.Metadata[camera.KeyImageNumber])
	}
}

func TestOverflowStopsWhenAsked(t *testing.T) {
	c, snk := newSequencing(t, 1, Options{})
	c.SetStopOnOverflow(true)
	if err := c.StartSequence(5, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if err := c.LastRun().Err; !errors.Is(err, camera.ErrOverflow) {
		t.Errorf("expected the run to end with overflow, got %v", err)
	}
	if s := snk.Stats(); s.Cleared != 0 || s.LastError == "" {
		t.Errorf("unexpected sink stats %+v", s)
	}
}

func TestContinuousIgnoresStopOnOverflow(t *testing.T) {
	c, _ := newSequencing(t, 1, Options{})
	c.SetStopOnOverflow(true)
	if err := c.StartContinuous(0); err != nil {
		t.Fatal(err)
	}
	waitFrames(t, c, 5)
	if !c.Capturing() {
		t.Fatalf("continuous run ended: %v", c.LastRun().Err)
	}
	c.StopSequence()
}

func TestFetchErrorEndsRun(t *testing.T) {
	boom := errors.New("dma error")
	var calls int32
	c, snk := newSequencing(t, 10, Options{Fetcher: FetcherFunc(func(buf []byte, info FrameInfo) error {
		if atomic.AddInt32(&calls, 1) > 2 {
			return boom
		}
		return nil
	})})
	if err := c.StartSequence(10, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	err := c.LastRun().Err
	if !errors.Is(err, ErrHardwareFetch) {
		t.Errorf("expected ErrHardwareFetch, got %v", err)
	}
	if snk.Len() != 2 || snk.Stats().LastError == "" {
		t.Errorf("expected 2 frames and a recorded error, got %d %+v", snk.Len(), snk.Stats())
	}
}

func TestFastImageSkipsFetch(t *testing.T) {
	var calls int32
	c, snk := newSequencing(t, 10, Options{Fetcher: FetcherFunc(func(buf []byte, info FrameInfo) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})})
	c.SetFastImage(true)
	if err := c.StartSequence(4, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("fast image fetched %d times", n)
	}
	if snk.Len() != 4 {
		t.Errorf("expected 4 frames, got %d", snk.Len())
	}
}

func TestExposureSequencePlayback(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []time.Duration
	)
	c, _ := newSequencing(t, 10, Options{Fetcher: FetcherFunc(func(buf []byte, info FrameInfo) error {
		mu.Lock()
		seen = append(seen, info.Exposure)
		mu.Unlock()
		return nil
	})})
	for _, ms := range []int{1, 2, 3} {
		if err := c.AddToExposureSequence(time.Duration(ms) * time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.StartSequence(5, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	want := []time.Duration{1, 2, 3, 1, 2}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("expected %d fetches, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i]*time.Millisecond {
			t.Errorf("frame %d exposed %v, want %v", i, seen[i], want[i]*time.Millisecond)
		}
	}
}

func TestTriggerPulsedEachFrame(t *testing.T) {
	reg := trigger.NewRegistry()
	ctr := trigger.NewCounter()
	reg.Register("pulser", ctr)
	c, _ := newSequencing(t, 10, Options{Triggers: reg})
	if err := c.SetTriggerDevice("pulser"); err != nil {
		t.Fatal(err)
	}
	if err := c.StartSequence(3, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if ctr.Pulses() != 3 {
		t.Errorf("expected 3 pulses, got %d", ctr.Pulses())
	}
}

func TestSetterRacesDoNotCorruptFrames(t *testing.T) {
	c, snk := newSequencing(t, 1000, Options{})
	if err := c.StartContinuous(0); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.SetBinning(1 + i%2)
			c.SetExposureTime(time.Duration(i%3) * time.Millisecond)
		}
	}()
	waitFrames(t, c, 20)
	wg.Wait()
	c.StopSequence()
	for {
		f, err := snk.Pop()
		if err != nil {
			break
		}
		if len(f.Pix) != f.Width*f.Height*f.Bpp {
			t.Fatalf("frame geometry %dx%dx%d does not match %d bytes", f.Width, f.Height, f.Bpp, len(f.Pix))
		}
	}
}

func TestRunObserversIgnoreFaults(t *testing.T) {
	c, snk := newSequencing(t, 10, Options{})
	if err := c.StartSequence(2, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	c.SetFaultRate(1)
	defer c.SetFaultRate(0)
	if c.Capturing() {
		t.Error("capturing after the run ended")
	}
	if n := c.FramesAcquired(); n != 2 {
		t.Errorf("expected 2 frames acquired, got %d", n)
	}
	if c.RunStart().IsZero() {
		t.Error("run start not recorded")
	}
	if last := c.LastRun(); last.Frames != 2 || last.Err != nil {
		t.Errorf("unexpected run summary %+v", last)
	}
	if len(c.CollectHeaderMetadata()) == 0 {
		t.Error("no header cards")
	}
	if err := c.Shutdown(); err != nil {
		t.Error(err)
	}
	if snk.Stats().Finished != 1 {
		t.Error("sink was not told the acquisition finished")
	}
}

func TestLogLinesCarryLabelOnce(t *testing.T) {
	var out bytes.Buffer
	logger := golog.New()
	logger.SetOutput(&out)
	logger.SetLevel("debug")
	c, _ := newSequencing(t, 10, Options{Label: "cam0", Logger: logger.Child("[cam0]")})
	if err := c.StartSequence(2, 0); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	txt := out.String()
	if !strings.Contains(txt, "sequence thread exiting") {
		t.Fatalf("expected the exit message, got %q", txt)
	}
	if strings.Contains(txt, "cam0:") {
		t.Errorf("label repeated in log text: %q", txt)
	}
}
