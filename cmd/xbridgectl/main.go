// Command xbridgectl is a manual/integration-test harness for the
// bridge: it opens a smartx-bridge plugin connection the way the host
// audio framework would, and pumps frames to or from a real sound card
// via PortAudio, the same device library le-bot-team-leBotChatClient
// uses for its recorder/player pair.
package main

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/config"
	"github.com/ias-audio/smartx-bridge/internal/logctx"
	"github.com/ias-audio/smartx-bridge/internal/plugin"
	"github.com/ias-audio/smartx-bridge/internal/ringbuffer"
)

var log = logctx.For("xbridgectl")

func main() {
	var (
		name       = pflag.StringP("name", "n", "xbridgectl0", "bridge connection name")
		capture    = pflag.BoolP("capture", "c", false, "open in capture (mic-in) direction instead of playback")
		rate       = pflag.IntP("rate", "r", 48000, "sample rate")
		channels   = pflag.IntP("channels", "C", 2, "channel count")
		periodSize = pflag.IntP("period", "p", 512, "period size in frames")
		numPeriods = pflag.IntP("periods", "P", 4, "number of periods (ring depth)")
		duration   = pflag.DurationP("duration", "d", 5*time.Second, "how long to run")
		configPath = pflag.StringP("config", "f", "", "optional YAML path overriding internal/config.Default()")
	)
	pflag.Parse()

	paths, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("loading config", "err", err)
	}

	dir := plugin.Playback
	if *capture {
		dir = plugin.Capture
	}

	rbFactory := ringbuffer.NewFactory(paths)
	conn, err := plugin.Init(paths, rbFactory, *name, dir, false)
	if err != nil {
		log.Fatal("plugin init", "err", err)
	}
	defer conn.Close()

	bufferSize := *periodSize * *numPeriods
	if err := conn.SetHwParams(*channels, *rate, *periodSize, bufferSize, area.F32); err != nil {
		log.Fatal("set hw params", "err", err)
	}
	if err := conn.SetSwParams(*periodSize); err != nil {
		log.Fatal("set sw params", "err", err)
	}
	if err := conn.Start(); err != nil {
		log.Fatal("start", "err", err)
	}
	defer conn.Stop()

	if err := portaudio.Initialize(); err != nil {
		log.Fatal("portaudio init", "err", err)
	}
	defer portaudio.Terminate()

	hostBuf := make([]float32, *periodSize**channels)
	hostAreas := make([]area.Area, *channels)
	for ch := range hostAreas {
		hostAreas[ch] = area.Area{
			Base:     unsafe.Pointer(&hostBuf[0]),
			FirstBit: ch * 32,
			StepBits: 32 * *channels,
			Channel:  ch,
			MaxIndex: *channels - 1,
		}
	}

	params := portaudio.StreamParameters{SampleRate: float64(*rate), FramesPerBuffer: *periodSize}
	if *capture {
		dev, derr := portaudio.DefaultInputDevice()
		if derr != nil {
			log.Fatal("default input device", "err", derr)
		}
		params.Input = portaudio.StreamDeviceParameters{Device: dev, Channels: *channels, Latency: dev.DefaultLowInputLatency}
	} else {
		dev, derr := portaudio.DefaultOutputDevice()
		if derr != nil {
			log.Fatal("default output device", "err", derr)
		}
		params.Output = portaudio.StreamDeviceParameters{Device: dev, Channels: *channels, Latency: dev.DefaultLowOutputLatency}
	}

	stream, err := portaudio.OpenStream(params, &hostBuf)
	if err != nil {
		log.Fatal("open stream", "err", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		log.Fatal("start stream", "err", err)
	}
	defer stream.Stop()

	log.Info("running", "name", *name, "direction", dir, "rate", *rate, "channels", *channels)

	deadline := time.Now().Add(*duration)
	for time.Now().Before(deadline) {
		if *capture {
			if err := stream.Read(); err != nil {
				log.Warn("stream read", "err", err)
				continue
			}
			frames, errno := conn.TransferJob(hostAreas, *periodSize)
			if errno != 0 {
				log.Warn("transfer job", "errno", errno)
				continue
			}
			_ = frames
		} else {
			frames, errno := conn.TransferJob(hostAreas, *periodSize)
			if errno != 0 {
				log.Warn("transfer job", "errno", errno)
				continue
			}
			if frames == 0 {
				continue
			}
			if err := stream.Write(); err != nil {
				log.Warn("stream write", "err", err)
			}
		}
	}

	if !*capture {
		if err := conn.Drain(); err != nil {
			log.Warn("drain", "err", err)
		}
	}
	fmt.Fprintln(os.Stderr, "xbridgectl: done")
}
