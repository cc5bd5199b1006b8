package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli"
	"github.com/valerio/go-stemu/stemu"
	"github.com/valerio/go-stemu/stemu/machine"
)

func main() {
	app := cli.NewApp()
	app.Name = "stemu"
	app.Description = "Headless Atari ST core: cycle scheduler and chip state machines"
	app.Usage = "stemu [options]"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "machine",
			Usage: "Machine variant: st, ste, megaste, tt, falcon",
			Value: "ste",
		},
		cli.IntFlag{
			Name:  "frames",
			Usage: "Number of 50 Hz frames to run",
			Value: 50,
		},
		cli.IntFlag{
			Name:  "audio-rate",
			Usage: "Host audio rate in Hz",
			Value: 44100,
		},
		cli.StringFlag{
			Name:  "serial-a",
			Usage: "Host serial device for SCC channel A",
		},
		cli.StringFlag{
			Name:  "serial-b",
			Usage: "Host serial device for SCC channel B",
		},
		cli.StringFlag{
			Name:  "snapshot",
			Usage: "Write a snapshot to this file when the run completes",
		},
		cli.BoolFlag{
			Name:  "trace",
			Usage: "Enable debug level chip tracing",
		},
	}
	app.Action = runCore

	if err := app.Run(os.Args); err != nil {
		slog.Error("Error running core", "error", err)
		os.Exit(1)
	}
}

func parseMachine(name string) (machine.Type, error) {
	switch name {
	case "st":
		return machine.ST, nil
	case "ste":
		return machine.STE, nil
	case "megaste":
		return machine.MegaSTE, nil
	case "tt":
		return machine.TT, nil
	case "falcon":
		return machine.Falcon, nil
	}
	return 0, fmt.Errorf("unknown machine type %q", name)
}

func runCore(c *cli.Context) error {
	if c.Bool("trace") {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	mach, err := parseMachine(c.String("machine"))
	if err != nil {
		return err
	}

	core := stemu.New(mach, stemu.WithHostAudioFreq(c.Int("audio-rate")))

	if core.SCC != nil {
		core.SCC.OpenPorts(c.String("serial-a"), c.String("serial-b"))
	}

	frames := c.Int("frames")
	slog.Info("Running core", "machine", mach, "frames", frames)

	for i := 0; i < frames; i++ {
		// Drive the clock in rough instruction sized steps; a real CPU
		// collaborator would feed exact per-instruction cycle counts.
		core.RunCycles(stemu.CyclesPerFrame, 8)
	}

	slog.Info("Run complete",
		"hbl", core.HBLCount(), "vbl", core.VBLCount(), "ipl", core.IPL(),
		"clock", core.Clock.Cycles())

	if path := c.String("snapshot"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := core.SaveSnapshot(f); err != nil {
			return err
		}
		slog.Info("Snapshot written", "path", path)
	}

	return nil
}
