// Command srcbench drives the Farrow polyphase resampler core with a
// synthetic sine input and reports throughput and a simple distortion
// metric, for checking a ratio/prototype combination before wiring it
// into cmd/smartx-rate-plugin.
package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/ias-audio/smartx-bridge/internal/src"
)

func main() {
	var (
		fsIn     = pflag.IntP("in-rate", "i", 48000, "input sample rate")
		fsOut    = pflag.IntP("out-rate", "o", 44100, "output sample rate")
		channels = pflag.IntP("channels", "c", 2, "channel count")
		seconds  = pflag.Float64P("seconds", "s", 1.0, "seconds of signal to push through")
		toneHz   = pflag.Float64P("tone", "t", 1000.0, "test tone frequency in Hz")
		adaptive = pflag.BoolP("adaptive", "a", false, "exercise the adaptive controller alongside the core")
	)
	pflag.Parse()

	proto := src.LookupPrototype(*fsIn, *fsOut)
	core := src.NewCore(*channels, proto, *fsIn, *fsOut, src.Linear)

	var ctrl *src.AdaptiveController
	if *adaptive {
		ctrl = src.NewAdaptiveController(512)
	}

	numIn := int(float64(*fsIn) * *seconds)
	in := make([]float64, *channels)

	start := time.Now()
	totalOut := 0
	for i := 0; i < numIn; i++ {
		phase := 2 * math.Pi * *toneHz * float64(i) / float64(*fsIn)
		for ch := range in {
			in[ch] = math.Sin(phase)
		}
		outs, err := core.PushStep(in)
		if err != nil {
			fmt.Fprintln(os.Stderr, "srcbench: push step:", err)
			os.Exit(1)
		}
		totalOut += len(outs)

		if ctrl != nil && i%512 == 0 {
			adj := ctrl.Step(totalOut % 1024)
			if ctrl.Active() {
				core.SetRatio(float64(*fsIn) / float64(*fsOut) * adj)
			}
		}
	}
	elapsed := time.Since(start)

	wantOut := int(float64(*fsOut) * *seconds)
	fmt.Printf("pushed %d input frames in %v (%.1fx realtime)\n", numIn, elapsed, seconds2realtime(numIn, *fsIn, elapsed))
	fmt.Printf("produced %d output frames, expected ~%d (ratio error %.3f%%)\n",
		totalOut, wantOut, 100*float64(totalOut-wantOut)/float64(wantOut))
}

func seconds2realtime(frames, rate int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return (float64(frames) / float64(rate)) / elapsed.Seconds()
}
