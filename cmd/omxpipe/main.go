// omxpipe runs one OpenMAX IL image pipeline: decode, encode, resize,
// decode-resize or read.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/thesyncim/omx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "omxpipe: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		platform   = flag.String("platform", "", "OpenMAX IL core: auto, native, sim")
		library    = flag.String("lib", "", "path to libopenmaxil.so")
		scenario   = flag.String("scenario", "", "decode, encode, resize, decode-resize, read")
		in         = flag.String("in", "", "input file")
		inSize     = flag.String("in-size", "", "raw input size, WIDTHxHEIGHT")
		inColor    = flag.String("in-color", "", "raw input color format")
		inCoding   = flag.String("in-coding", "", "compressed input coding")
		out        = flag.String("out", "", "output file")
		outSize    = flag.String("out-size", "", "output size, WIDTHxHEIGHT")
		outColor   = flag.String("out-color", "", "output color format")
		outCoding  = flag.String("out-coding", "", "encoder output coding")
		mode       = flag.String("mode", "", "resize mode: stretch, fit, fill")
		quality    = flag.Int("quality", 0, "encoder quality 1-100")
		rtpAddr    = flag.String("rtp", "", "send output as RTP to host:port")
		logLevel   = flag.String("log-level", "", "trace, debug, info, warn, error")
		logJSON    = flag.Bool("log-json", false, "log as JSON")
		list       = flag.Bool("list", false, "list components and exit")
		dump       = flag.String("dump", "", "dump the ports of a component and exit")
	)
	flag.Parse()

	cfg := omx.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = omx.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	override(&cfg.Platform.Type, *platform)
	override(&cfg.Platform.Library, *library)
	override(&cfg.Scenario, *scenario)
	override(&cfg.Input.Path, *in)
	override(&cfg.Input.Size, *inSize)
	override(&cfg.Input.Color, *inColor)
	override(&cfg.Input.Coding, *inCoding)
	override(&cfg.Sink.Path, *out)
	override(&cfg.Output.Size, *outSize)
	override(&cfg.Output.Color, *outColor)
	override(&cfg.Output.Coding, *outCoding)
	override(&cfg.Output.Mode, *mode)
	override(&cfg.Log.Level, *logLevel)
	if *quality != 0 {
		cfg.Output.Quality = *quality
	}
	if *rtpAddr != "" {
		cfg.Sink.Type = "rtp"
		cfg.Sink.Address = *rtpAddr
	}
	if *logJSON {
		cfg.Log.Format = "json"
	}

	logger, err := omx.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	log := logrus.NewEntry(logger)

	backend, err := omx.ParseBackend(cfg.Platform.Type)
	if err != nil {
		return err
	}
	core, backend, err := omx.NewCore(backend, cfg.Platform.Library)
	if err != nil {
		return err
	}
	if err := core.Init(); err != nil {
		return err
	}
	defer func() {
		if err := core.Deinit(); err != nil {
			log.WithError(err).Warn("deinit")
		}
	}()
	log.WithField("platform", backend).Debug("core initialized")

	switch {
	case *list:
		_, err := omx.ListComponents(core, log)
		return err
	case *dump != "":
		return dumpComponent(core, *dump, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := cfg.Runner(omx.Options{Core: core, Log: logger})
	if err != nil {
		return err
	}

	var src omx.Source
	if cfg.NeedsSource() {
		if src, err = cfg.OpenSource(); err != nil {
			return err
		}
		if c, ok := src.(interface{ Close() error }); ok {
			defer c.Close()
		}
	}
	sink, err := cfg.OpenSink()
	if err != nil {
		return err
	}

	res, err := runner.Run(ctx, src, sink)
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("interrupted")
		}
		return err
	}

	logResult(log, res)
	return nil
}

// logResult reports a finished run. A run that tolerated stream corruption
// produced incomplete output and is reported at warn level.
func logResult(log *logrus.Entry, res *omx.Result) {
	log = log.WithFields(logrus.Fields{
		"bytes_in":  res.BytesIn,
		"bytes_out": res.BytesOut,
		"buffers":   res.OutputBuffers,
		"output":    res.Output,
		"corrupt":   res.Corrupt,
	})
	if res.Corrupt {
		log.Warn("output incomplete: stream corrupt")
		return
	}
	log.Info("done")
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func dumpComponent(core omx.Core, name string, log *logrus.Entry) error {
	h, err := core.GetHandle(name, omx.Callbacks{
		Event: func(ev omx.EventType, data1, data2 uint32) {
			log.WithFields(logrus.Fields{"event": ev, "data1": data1, "data2": data2}).Debug("event")
		},
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer core.FreeHandle(h)
	return omx.DumpComponent(h, log)
}
