package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/kataras/golog"

	"github.jpl.nasa.gov/bdube/camacq/camera"
	"github.jpl.nasa.gov/bdube/camacq/democam"
	"github.jpl.nasa.gov/bdube/camacq/generichttp"
	camhttp "github.jpl.nasa.gov/bdube/camacq/generichttp/camera"
	"github.jpl.nasa.gov/bdube/camacq/hub"
	"github.jpl.nasa.gov/bdube/camacq/imgrec"
	"github.jpl.nasa.gov/bdube/camacq/server/middleware/locker"
	"github.jpl.nasa.gov/bdube/camacq/sink"
	"github.jpl.nasa.gov/bdube/camacq/trigger"
	"github.jpl.nasa.gov/bdube/camacq/usbtmc"
)

// Recorder holds the args for the image recorder
type Recorder struct {
	// Root is the root folder to write to.  Empty disables recording.
	Root string `yaml:"root" koanf:"root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"prefix" koanf:"prefix"`
}

// TriggerSetup describes one trigger device
type TriggerSetup struct {
	// Name is what the camera's TriggerDevice property refers to
	Name string `yaml:"name" koanf:"name"`

	// Type is one of tcp, serial, usbtmc, or counter
	Type string `yaml:"type" koanf:"type"`

	// Addr is the network address or serial port of tcp and serial devices
	Addr string `yaml:"addr" koanf:"addr"`

	// Baud is the serial baud rate
	Baud int `yaml:"baud" koanf:"baud"`

	// VID and PID select a usbtmc device
	VID uint16 `yaml:"vid" koanf:"vid"`
	PID uint16 `yaml:"pid" koanf:"pid"`
}

// Config is the camsrv configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"addr" koanf:"addr"`

	// Root is the URL stem the camera is served under
	Root string `yaml:"root" koanf:"root"`

	// Label names the camera
	Label string `yaml:"label" koanf:"label"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"loglevel" koanf:"loglevel"`

	// SinkCapacity is the number of frames buffered for clients
	SinkCapacity int `yaml:"sinkcapacity" koanf:"sinkcapacity"`

	// SequenceMaxLength caps the exposure sequence
	SequenceMaxLength int `yaml:"sequencemaxlength" koanf:"sequencemaxlength"`

	Recorder Recorder `yaml:"recorder" koanf:"recorder"`

	Triggers []TriggerSetup `yaml:"triggers" koanf:"triggers"`

	// BootupArgs are passed to democam.Camera.Configure at startup
	BootupArgs map[string]interface{} `yaml:"bootupargs" koanf:"bootupargs"`
}

// defaultConfig is the configuration used when no file is present
func defaultConfig() Config {
	return Config{
		Addr:              ":8000",
		Root:              "/camera",
		Label:             democam.DefaultLabel,
		LogLevel:          "info",
		SinkCapacity:      64,
		SequenceMaxLength: 100,
		Recorder:          Recorder{Prefix: "frame"},
		Triggers:          []TriggerSetup{},
		BootupArgs: map[string]interface{}{
			"Exposure":  10.0,
			"PixelType": "16bit",
			"BitDepth":  12,
		},
	}
}

// openTrigger makes the device a TriggerSetup describes.  The returned
// closer is nil for devices which hold nothing open.
func openTrigger(t TriggerSetup) (trigger.Device, io.Closer, error) {
	switch strings.ToLower(t.Type) {
	case "tcp":
		return trigger.NewRemote(t.Addr, false, 0), nil, nil
	case "serial", "rs232":
		return trigger.NewRemote(t.Addr, true, t.Baud), nil, nil
	case "usbtmc", "usb":
		d, err := usbtmc.Open(t.VID, t.PID)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	case "counter", "sim":
		return trigger.NewCounter(), nil, nil
	}
	return nil, nil, fmt.Errorf("trigger %s: unknown type %q", t.Name, t.Type)
}

// setup holds everything run needs to serve and tear down
type setup struct {
	cam     *democam.Camera
	handler http.Handler
	closers []io.Closer
}

// Close stops the camera and releases trigger devices
func (s setup) Close() error {
	err := s.cam.Shutdown()
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// build constructs the camera, its sink, recorder, and triggers, and the
// HTTP router that serves them
func build(cfg Config) (setup, error) {
	s := setup{}
	reg := trigger.NewRegistry()
	for _, t := range cfg.Triggers {
		dev, closer, err := openTrigger(t)
		if err != nil {
			s.Close()
			return s, err
		}
		if closer != nil {
			s.closers = append(s.closers, closer)
		}
		reg.Register(t.Name, dev)
		golog.Infof("trigger %s (%s) registered", t.Name, t.Type)
	}

	snk := sink.NewCircular(cfg.SinkCapacity)
	var fs camera.FrameSink = snk
	rec := imgrec.NewRecorder(cfg.Recorder.Root, cfg.Recorder.Prefix)
	var recording *sink.Recording
	if rec.Active() {
		recording = sink.NewRecording(snk, rec, nil)
		fs = recording
		golog.Infof("recording frames under %s", rec.Root)
	}

	c := democam.New(democam.Options{
		Label:             cfg.Label,
		Hub:               hub.New(),
		Sink:              fs,
		Triggers:          reg,
		SequenceMaxLength: cfg.SequenceMaxLength,
	})
	s.cam = c
	if recording != nil {
		recording.Header = c
	}
	if err := c.Configure(cfg.BootupArgs); err != nil {
		return s, err
	}

	h := camhttp.NewHTTPCamera(c, snk, rec)
	l := locker.New()
	locker.Inject(h, l)

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)
	mux := chi.NewRouter()
	mux.Use(l.Check)
	h.RT().Bind(mux)
	root.Mount(generichttp.SubMuxSanitize(cfg.Root), mux)
	s.handler = root
	return s, nil
}
