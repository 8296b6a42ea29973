package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.jpl.nasa.gov/bdube/camacq/democam"
	"github.jpl.nasa.gov/bdube/camacq/hub"
	"github.jpl.nasa.gov/bdube/camacq/sink"
)

func main() {
	frames := flag.Int64("n", 20, "number of frames to acquire")
	expMs := flag.Float64("exp", 10, "exposure time, ms")
	intervalMs := flag.Float64("interval", 0, "frame interval, ms")
	pixType := flag.String("pix", "16bit", "pixel type")
	capacity := flag.Int("cap", 8, "sink capacity")
	stopOnOverflow := flag.Bool("stop-on-overflow", false, "end the run when the sink fills")
	flag.Parse()

	snk := sink.NewCircular(*capacity)
	c := democam.New(democam.Options{Hub: hub.New(), Sink: snk})
	defer c.Shutdown()
	err := c.Configure(map[string]interface{}{
		"Exposure":       *expMs,
		"PixelType":      *pixType,
		"StopOnOverflow": *stopOnOverflow,
	})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " acquiring",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	interval := time.Duration(*intervalMs * float64(time.Millisecond))
	if err = c.StartSequence(*frames, interval); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	spinner.Start()
	// the sink keeps at most cap frames, so drain it while the run goes
	tick := time.NewTicker(50 * time.Millisecond)
	for c.Capturing() {
		<-tick.C
		for {
			if _, err := snk.Pop(); err != nil {
				break
			}
		}
		st := snk.Stats()
		spinner.Message(fmt.Sprintf("%d/%d frames, %d overflows", st.Pushed, *frames, st.Overflows))
	}
	tick.Stop()
	snk.WaitFinished(1)

	sum := c.LastRun()
	st := snk.Stats()
	msg := fmt.Sprintf("run %s: %d frames in %v", sum.ID, sum.Frames, sum.Duration.Round(time.Millisecond))
	if sum.Err != nil {
		spinner.StopFailMessage(fmt.Sprintf("%s: %v", msg, sum.Err))
		spinner.StopFail()
	} else {
		spinner.StopMessage(msg)
		spinner.Stop()
	}
	fmt.Printf("inserted %d, pushed %d, overflows %d, cleared %d\n",
		st.Inserted, st.Pushed, st.Overflows, st.Cleared)
	if sum.Err != nil {
		os.Exit(1)
	}
}
