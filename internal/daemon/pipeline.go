package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/layout"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/matrix"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/observability"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/playback"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/preview"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/provider"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/visualizer"
)

var (
	newProvider = provider.New
	openSerial  = connectSerial
)

func connectSerial(cfg config.SerialConfig, count int, logger *logging.Logger) (matrix.Sink, error) {
	if !cfg.AutoDiscover && cfg.Port == "" {
		return nil, errors.New("no serial port configured")
	}

	s := matrix.NewSerialSink(count, cfg.BaudRate, logger)
	s.SetTimeout(cfg.Timeout)

	if err := s.Connect(cfg.Port); err != nil {
		return nil, err
	}

	return s, nil
}

// Deps are shared across pipeline rebuilds. Everything except Machine may be
// nil.
type Deps struct {
	Machine *playback.Machine
	Metrics *observability.ApplicationMetrics
	Events  *logging.EventLogger
	Logger  *logging.Logger
	Stdout  io.Writer
}

// Pipeline is everything built from one configuration: the provider, the
// sinks behind a display manager, and the controller joining them. Stream is
// set when frames are also streamed over websocket.
type Pipeline struct {
	Controller *Controller
	Display    *matrix.DisplayManager
	Provider   provider.Provider
	Stream     *preview.Stream
	SinkName   string
}

// BuildPipeline opens the sinks and provider named by cfg.
func BuildPipeline(cfg *config.Config, deps Deps) (*Pipeline, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	l, err := cfg.Matrix.Layout()
	if err != nil {
		return nil, fmt.Errorf("invalid matrix layout: %w", err)
	}

	sink, stream, err := BuildSink(cfg, l, deps.Stdout, logger)
	if err != nil {
		return nil, err
	}

	display, err := matrix.NewDisplayManager(sink, l, cfg.Matrix.Brightness)
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("failed to create display manager: %w", err)
	}

	vis, err := visualizer.NewVisualizer(display, visualizer.OptionsFromConfig(cfg))
	if err != nil {
		display.Close()
		return nil, fmt.Errorf("failed to create visualizer: %w", err)
	}

	prov, err := newProvider(cfg.Provider, logger)
	if err != nil {
		display.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	machineOpts := playback.Options{DisplayWidth: cfg.Matrix.Width, ShowArtist: cfg.Display.ShowArtist}

	machine := deps.Machine
	if machine == nil {
		machine = playback.NewMachine(machineOpts)
	} else {
		machine.SetOptions(machineOpts)
	}

	ctrl, err := NewController(ControllerOptions{
		Provider:   prov,
		Machine:    machine,
		Visualizer: vis,
		Display:    display,
		Metrics:    deps.Metrics,
		Events:     deps.Events,
		Logger:     logger,
		SinkName:   cfg.Matrix.Sink,
		Timing: Timing{
			FrameInterval:   cfg.Display.FrameInterval,
			PollInterval:    cfg.Provider.PollInterval,
			MinPollInterval: cfg.Provider.MinPollInterval,
		},
	})
	if err != nil {
		prov.Close()
		display.Close()

		return nil, err
	}

	return &Pipeline{
		Controller: ctrl,
		Display:    display,
		Provider:   prov,
		Stream:     stream,
		SinkName:   cfg.Matrix.Sink,
	}, nil
}

// Close blanks and closes the sinks and closes the provider.
func (p *Pipeline) Close() error {
	return errors.Join(p.Provider.Close(), p.Display.Close())
}

// BuildSink opens the primary sink and its mirrors. The websocket stream is
// added as a mirror when the status API streams frames. It returns the stream
// when one was opened so it can be mounted on the API.
func BuildSink(cfg *config.Config, l layout.Layout, stdout io.Writer, logger *logging.Logger) (matrix.Sink, *preview.Stream, error) {
	if stdout == nil {
		stdout = os.Stdout
	}

	kinds := append([]string{cfg.Matrix.Sink}, cfg.Matrix.Mirror...)
	if cfg.API.Enabled && cfg.API.StreamFrames {
		kinds = append(kinds, "stream")
	}

	var (
		sinks  []matrix.Sink
		stream *preview.Stream
	)

	seen := make(map[string]bool, len(kinds))

	for _, kind := range kinds {
		if seen[kind] {
			continue
		}

		seen[kind] = true

		s, err := openSink(kind, cfg, l, stdout, logger)
		if err != nil {
			for _, opened := range sinks {
				opened.Close()
			}

			return nil, nil, fmt.Errorf("failed to open %s sink: %w", kind, err)
		}

		if st, ok := s.(*preview.Stream); ok {
			stream = st
		}

		sinks = append(sinks, s)
	}

	if len(sinks) == 1 {
		return sinks[0], stream, nil
	}

	return matrix.NewMultiSink(sinks...), stream, nil
}

func openSink(kind string, cfg *config.Config, l layout.Layout, stdout io.Writer, logger *logging.Logger) (matrix.Sink, error) {
	switch kind {
	case "serial":
		return openSerial(cfg.Matrix.Serial, l.Count(), logger)
	case "ws281x":
		return matrix.NewWS281xSink(matrix.WS281xOptions{
			ColorOrder:   cfg.Matrix.WS281x.ColorOrder,
			GPIOPin:      cfg.Matrix.WS281x.GPIOPin,
			DMAChannel:   cfg.Matrix.WS281x.DMAChannel,
			PWMFrequency: cfg.Matrix.WS281x.PWMFrequency,
			NumPixels:    l.Count(),
		})
	case "terminal":
		return preview.NewTerminal(stdout, l)
	case "stream":
		return preview.NewStream(l, logger)
	case "none":
		return matrix.NopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown sink %q", kind)
	}
}
