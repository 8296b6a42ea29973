package sink

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/camacq/camera"
	"github.jpl.nasa.gov/bdube/camacq/imgrec"
)

func blob(t *testing.T, md camera.Metadata) []byte {
	t.Helper()
	b, err := md.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCircularFIFOAndOverflow(t *testing.T) {
	c := NewCircular(2)
	for i := byte(0); i < 2; i++ {
		if err := c.Insert([]byte{i}, 1, 1, 1, blob(t, camera.Metadata{camera.KeyImageNumber: string('0' + i)}), true); err != nil {
			t.Fatal(err)
		}
	}
	err := c.Insert([]byte{9}, 1, 1, 1, nil, true)
	if !errors.Is(err, camera.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	f, err := c.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if f.Pix[0] != 0 || f.Metadata[camera.KeyImageNumber] != "0" {
		t.Errorf("expected oldest frame first, got %v %v", f.Pix, f.Metadata)
	}
	want := Stats{Inserted: 2, Pushed: 2, Overflows: 1}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertCopiesPixels(t *testing.T) {
	c := NewCircular(1)
	pix := []byte{1, 2, 3, 4}
	if err := c.Insert(pix, 2, 2, 1, nil, true); err != nil {
		t.Fatal(err)
	}
	pix[0] = 99
	f, _ := c.Pop()
	if f.Pix[0] != 1 {
		t.Error("sink aliases the caller's buffer")
	}
}

func TestUncountedInsert(t *testing.T) {
	c := NewCircular(1)
	c.Insert([]byte{1}, 1, 1, 1, nil, true)
	c.Clear()
	c.Insert([]byte{1}, 1, 1, 1, nil, false)
	s := c.Stats()
	if s.Inserted != 1 || s.Pushed != 2 || s.Cleared != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 frame after clear and push, got %d", c.Len())
	}
}

func TestLatestSurvivesPop(t *testing.T) {
	c := NewCircular(1)
	if _, err := c.Latest(); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	c.Insert([]byte{7}, 1, 1, 1, nil, true)
	c.Pop()
	f, err := c.Latest()
	if err != nil || f.Pix[0] != 7 {
		t.Errorf("latest after pop: %v %v", f.Pix, err)
	}
}

func TestWaitFinished(t *testing.T) {
	c := NewCircular(1)
	done := make(chan struct{})
	go func() {
		c.WaitFinished(1)
		close(done)
	}()
	c.AcqFinished("cam", errors.New("boom"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitFinished did not return")
	}
	if c.Stats().LastError != "boom" {
		t.Errorf("expected last error recorded, got %q", c.Stats().LastError)
	}
}

type staticCards []fitsio.Card

func (s staticCards) CollectHeaderMetadata() []fitsio.Card { return s }

func TestRecordingWritesAcceptedFrames(t *testing.T) {
	root := t.TempDir()
	rec := imgrec.NewRecorder(root, "frame")
	inner := NewCircular(1)
	r := NewRecording(inner, rec, staticCards{{Name: "HDRVER", Value: "test"}})

	md := blob(t, camera.Metadata{camera.KeyImageNumber: "0"})
	if err := r.Insert([]byte{1, 2, 3, 4}, 2, 2, 1, md, true); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert([]byte{1, 2, 3, 4}, 2, 2, 1, md, true); !errors.Is(err, camera.ErrOverflow) {
		t.Fatalf("expected overflow from inner sink, got %v", err)
	}
	r.AcqFinished("cam", nil)

	matches, err := filepath.Glob(filepath.Join(root, "*", "frame*.fits"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 file written, got %v", matches)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	fits, err := fitsio.Open(f)
	if err != nil {
		t.Fatal(err)
	}
	defer fits.Close()
	hdr := fits.HDU(0).Header()
	if c := hdr.Get("HDRVER"); c == nil || c.Value != "test" {
		t.Errorf("expected HDRVER card, got %v", c)
	}
	if inner.Stats().Finished != 1 {
		t.Error("AcqFinished was not forwarded")
	}
}
