package camera

import (
	"bytes"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"

	"github.jpl.nasa.gov/bdube/camacq/democam"
	"github.jpl.nasa.gov/bdube/camacq/sink"
)

func newTestServer(t *testing.T) (*democam.Camera, *sink.Circular, *httptest.Server) {
	t.Helper()
	snk := sink.NewCircular(8)
	c := democam.New(democam.Options{Sink: snk})
	if err := c.SetSensorSize(64, 32); err != nil {
		t.Fatal(err)
	}
	if err := c.SetExposureTime(time.Millisecond); err != nil {
		t.Fatal(err)
	}
	h := NewHTTPCamera(c, snk, nil)
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		c.Shutdown()
		srv.Close()
	})
	return c, snk, srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func TestExposureRoundTrip(t *testing.T) {
	c, _, srv := newTestServer(t)
	resp := post(t, srv.URL+"/exposure-time?exposureTime=20ms", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set exposure gave %d", resp.StatusCode)
	}
	d, _ := c.GetExposureTime()
	if d != 20*time.Millisecond {
		t.Errorf("expected 20ms, got %v", d)
	}
	resp = post(t, srv.URL+"/exposure-time", `{"f64": 5}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("5 s exposure should be out of range, got %d", resp.StatusCode)
	}
}

func TestImagePNG(t *testing.T) {
	_, _, srv := newTestServer(t)
	for _, pt := range []string{"8bit", "16bit", "32bitRGB", "32bit"} {
		resp := post(t, srv.URL+"/pixel-type", `{"str":"`+pt+`"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("pixel type %s gave %d", pt, resp.StatusCode)
		}
		resp, err := http.Get(srv.URL + "/image?fmt=png")
		if err != nil {
			t.Fatal(err)
		}
		im, err := png.Decode(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("%s: decoding png: %v", pt, err)
		}
		if b := im.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
			t.Errorf("%s: expected 64x32, got %v", pt, b)
		}
	}
}

func TestImageFITS(t *testing.T) {
	_, _, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/image?fmt=fits")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/fits" {
		t.Errorf("content type %q", ct)
	}
	buf := &bytes.Buffer{}
	buf.ReadFrom(resp.Body)
	if !bytes.HasPrefix(buf.Bytes(), []byte("SIMPLE  =")) {
		t.Errorf("body does not start with a FITS primary header")
	}
}

func TestBusyAndFaultStatus(t *testing.T) {
	c, _, srv := newTestServer(t)
	resp := post(t, srv.URL+"/sequence/start", `{"continuous": true, "intervalMs": 5}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start gave %d", resp.StatusCode)
	}
	resp = post(t, srv.URL+"/binning", `{"int": 2}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("binning while running: expected 409, got %d", resp.StatusCode)
	}
	resp = post(t, srv.URL+"/sequence/stop", "")
	if resp.StatusCode != http.StatusOK || c.Capturing() {
		t.Fatalf("stop gave %d, capturing=%v", resp.StatusCode, c.Capturing())
	}

	resp = post(t, srv.URL+"/fault-rate", `{"f64": 1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fault rate gave %d", resp.StatusCode)
	}
	resp = post(t, srv.URL+"/binning", `{"int": 2}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("faulted setter: expected 503, got %d", resp.StatusCode)
	}
	resp = post(t, srv.URL+"/fault-rate", `{"f64": 2}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("rate 2: expected 400, got %d", resp.StatusCode)
	}
	post(t, srv.URL+"/fault-rate", `{"f64": 0}`)
}

func TestSequenceFillsSink(t *testing.T) {
	c, snk, srv := newTestServer(t)
	resp := post(t, srv.URL+"/sequence/start", `{"frames": 3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start gave %d", resp.StatusCode)
	}
	c.Wait()
	if snk.Len() != 3 {
		t.Errorf("expected 3 frames in sink, got %d", snk.Len())
	}
	r, err := http.Get(srv.URL + "/sequence/last")
	if err != nil {
		t.Fatal(err)
	}
	rs := RunStatus{}
	json.NewDecoder(r.Body).Decode(&rs)
	r.Body.Close()
	if rs.Frames != 3 || rs.ID == "" || rs.Error != "" {
		t.Errorf("unexpected last run %+v", rs)
	}
	r, err = http.Get(srv.URL + "/sink/latest?fmt=png")
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusOK || r.Header.Get("X-Frame-Metadata") == "" {
		t.Errorf("latest gave %d, metadata %q", r.StatusCode, r.Header.Get("X-Frame-Metadata"))
	}
}

func TestConfigureReportsEveryError(t *testing.T) {
	_, _, srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/configure", "application/json",
		strings.NewReader(`{"Binning": 2, "Bogus": 1, "PixelType": "12bit"}`))
	if err != nil {
		t.Fatal(err)
	}
	buf := &bytes.Buffer{}
	buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if !strings.Contains(buf.String(), "Bogus") || !strings.Contains(buf.String(), "12bit") {
		t.Errorf("expected both failures reported, got %s", buf.String())
	}
}

func TestLiveStreamsFrames(t *testing.T) {
	c, _, srv := newTestServer(t)
	if err := c.StartContinuous(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live?fps=20"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	typ, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.BinaryMessage || !bytes.HasPrefix(msg, []byte{0xff, 0xd8}) {
		t.Errorf("expected a binary JPEG message, got type %d len %d", typ, len(msg))
	}
}
