package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/kataras/golog"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "camsrv.yml"

	// EnvPrefix marks environment variables which override the config file,
	// e.g. CAMSRV_ADDR=:9000 or CAMSRV_RECORDER_ROOT=/data
	EnvPrefix = "CAMSRV_"

	k = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			golog.Fatalf("error loading config: %v", err)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil)
	if err != nil {
		golog.Fatalf("error loading environment: %v", err)
	}
}

func root() {
	str := `camsrv exposes a simulated scientific camera over HTTP
This enables a server-client architecture, and the clients can leverage the
excellent HTTP libraries for any programming language,
instead of custom socket logic.

Usage:
	camsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `camsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are lowercase.
The command mkconf generates the configuration file with the default values.
Environment variables prefixed with CAMSRV_ override the file, with _ separating
levels, e.g. CAMSRV_RECORDER_ROOT.  BootupArgs keys keep their case.

BootupArgs are applied to the camera in one batch at startup; every bad key is
reported.  Known keys are SensorSize, ScanMode, Binning, PixelType, BitDepth, AOI,
Exposure, ReadoutTime, FetchTimeout, FastImage, StopOnOverflow, TriggerDevice,
Temperature, FaultRate, and ExposureSequence.  Times are in milliseconds.

Triggers are pulsed once per sequence frame when the camera's TriggerDevice names
them.  Type is one of tcp, serial, usbtmc, or counter (in-process, for testing).

When recorder.root is set, every frame delivered to the sink is also written
as a FITS file under Root/yyyy-mm-dd.

POST /lock {"bool": true} refuses every change but sequence/stop with 423 until unlocked.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		golog.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		golog.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		golog.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		golog.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		golog.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("camsrv version %v\n", Version)
}

func run() {
	cfg := Config{}
	err := k.Unmarshal("", &cfg)
	if err != nil {
		golog.Fatal(err)
	}
	golog.SetLevel(cfg.LogLevel)
	s, err := build(cfg)
	if err != nil {
		golog.Fatalf("camera setup: %v", err)
	}
	defer s.Close()

	srv := &http.Server{Addr: cfg.Addr, Handler: s.handler}
	idle := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		golog.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			golog.Errorf("shutdown: %v", err)
		}
		close(idle)
	}()

	golog.Infof("now listening for requests at %s%s", cfg.Addr, cfg.Root)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		golog.Fatal(err)
	}
	<-idle
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		golog.Fatal("unknown command")
	}
}
