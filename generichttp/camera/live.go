package camera

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kataras/golog"
	"golang.org/x/time/rate"

	cam "github.jpl.nasa.gov/bdube/camacq/camera"
	"github.jpl.nasa.gov/bdube/camacq/generichttp"
	"github.jpl.nasa.gov/bdube/camacq/sink"
)

const (
	// defaultLiveFPS is the live view rate when the client does not ask
	defaultLiveFPS = 5

	// maxLiveFPS caps the live view rate
	maxLiveFPS = 30

	writeWait = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HTTPSink injects HTTP methods for a circular frame sink: statistics, the
// most recent frame, clearing, and a websocket live view
func HTTPSink(s *sink.Circular, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/sink/stats"}] = func(w http.ResponseWriter, r *http.Request) {
		generichttp.EncodeJSON(w, s.Stats())
	}
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/sink/len"}] = generichttp.GetInt(func() (int, error) {
		return s.Len(), nil
	})
	table[generichttp.MethodPath{Method: http.MethodDelete, Path: "/sink"}] = generichttp.Do(func() error {
		s.Clear()
		return nil
	})
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/sink/latest"}] = GetLatest(s)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/live"}] = Live(s)
}

// renderFrame encodes a sink frame as jpg or png
func renderFrame(f sink.Frame, format string) ([]byte, error) {
	pt, err := pixelTypeFor(f.Metadata[cam.KeyPixelType], f.Bpp)
	if err != nil {
		return nil, err
	}
	im, err := toImage(f.Pix, f.Width, f.Height, pt)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	err = encodeImage(buf, im, format)
	return buf.Bytes(), err
}

// GetLatest returns the most recent frame the sink received, as jpg (default)
// or png per the fmt query parameter.  The frame's metadata is returned in
// the X-Frame-Metadata header as JSON.
func GetLatest(s *sink.Circular) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = "jpg"
		}
		f, err := s.Latest()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		b, err := renderFrame(f, format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if md, err := f.Metadata.Marshal(); err == nil {
			w.Header().Set("X-Frame-Metadata", string(md))
		}
		w.Header().Set("Content-Type", contentType(format))
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}

// Live upgrades to a websocket and streams the sink's latest frame as binary
// JPEG messages, at most fps per second (query parameter, default 5).  A
// frame is only sent when it differs from the last one sent.
func Live(s *sink.Circular) http.HandlerFunc {
	log := golog.Child("[live]")
	return func(w http.ResponseWriter, r *http.Request) {
		fps := defaultLiveFPS
		if str := r.URL.Query().Get("fps"); str != "" {
			n, err := strconv.Atoi(str)
			if err != nil || n < 1 {
				http.Error(w, "fps must be a positive integer", http.StatusBadRequest)
				return
			}
			if n > maxLiveFPS {
				n = maxLiveFPS
			}
			fps = n
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		// the client sends nothing; reading detects the close
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		lim := rate.NewLimiter(rate.Limit(fps), 1)
		var lastSent int64 = -1
		for {
			if err := lim.Wait(ctx); err != nil {
				return
			}
			pushed := s.Stats().Pushed
			if pushed == lastSent {
				continue
			}
			f, err := s.Latest()
			if err != nil {
				continue
			}
			b, err := renderFrame(f, "jpg")
			if err != nil {
				log.Errorf("rendering live frame: %v", err)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				log.Debugf("live client gone: %v", err)
				return
			}
			lastSent = pushed
		}
	}
}
