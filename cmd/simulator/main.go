// Command simulator previews the now-playing display without LED hardware. It
// runs the same control loop as the daemon and draws the matrix in the
// terminal or in a desktop window.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/daemon"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/matrix"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/playback"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/preview"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/preview/window"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/provider"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/visualizer"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// demoStatus is shown when neither a fixture nor a provider is given.
const demoStatus = `{
  "isPlaying": true,
  "track": {"name": "Everything In Its Right Place", "artists": ["Radiohead"], "album": "Kid A"},
  "progress_ms": 12000,
  "duration_ms": 251000,
  "palette": [[235, 64, 52], [245, 166, 35], [80, 160, 255]]
}
`

type options struct {
	configPath string
	fixture    string
	provider   string
	logLevel   string
	duration   time.Duration
	fps        float64
	scale      int
	window     bool
	noArtist   bool
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("simulator", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	fs.StringVarP(&opts.fixture, "fixture", "f", "", "Status JSON file to replay (default: a built-in demo track)")
	fs.StringVarP(&opts.provider, "provider", "p", "", "Use the configured provider of this kind instead of a fixture")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	fs.DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	fs.Float64Var(&opts.fps, "fps", 12.5, "Frames per second")
	fs.IntVar(&opts.scale, "scale", window.DefaultScale, "Window pixels per LED")
	fs.BoolVarP(&opts.window, "window", "w", false, "Draw in a desktop window instead of the terminal")
	fs.BoolVar(&opts.noArtist, "no-artist", false, "Scroll only the track name")

	showVersion := fs.BoolP("version", "v", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if *showVersion {
		return opts, errShowVersion
	}

	if opts.fps <= 0 || opts.fps > 100 {
		return opts, fmt.Errorf("fps must be between 0 and 100, got %v", opts.fps)
	}

	if opts.fixture != "" && opts.provider != "" {
		return opts, errors.New("--fixture and --provider are mutually exclusive")
	}

	return opts, nil
}

var errShowVersion = errors.New("version requested")

// buildConfig loads the configuration and points it at the fixture unless a
// real provider was requested.
func buildConfig(opts options, demoDir string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if opts.configPath != "" {
		var err error

		cfg, err = config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg.Display.FrameInterval = time.Duration(float64(time.Second) / opts.fps)
	cfg.Display.ShowArtist = !opts.noArtist
	cfg.Logging.Level = logging.LogLevel(opts.logLevel)
	cfg.Logging.Output = "stderr"

	switch {
	case opts.provider != "":
		cfg.Provider.Kind = opts.provider
	case opts.fixture != "":
		cfg.Provider.Kind = "file"
		cfg.Provider.File.Path = opts.fixture
	default:
		path := filepath.Join(demoDir, "demo-status.json")
		if err := os.WriteFile(path, []byte(demoStatus), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write demo status: %w", err)
		}

		cfg.Provider.Kind = "file"
		cfg.Provider.File.Path = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// simulation is a controller wired to a preview sink.
type simulation struct {
	controller *daemon.Controller
	display    *matrix.DisplayManager
	provider   provider.Provider
}

func newSimulation(cfg *config.Config, sink matrix.Sink, logger *logging.Logger) (*simulation, error) {
	l, err := cfg.Matrix.Layout()
	if err != nil {
		return nil, err
	}

	// Full brightness so the preview shows the real colours.
	display, err := matrix.NewDisplayManager(sink, l, 255)
	if err != nil {
		return nil, err
	}

	vis, err := visualizer.NewVisualizer(display, visualizer.OptionsFromConfig(cfg))
	if err != nil {
		display.Close()
		return nil, err
	}

	prov, err := provider.New(cfg.Provider, logger)
	if err != nil {
		display.Close()
		return nil, err
	}

	ctrl, err := daemon.NewController(daemon.ControllerOptions{
		Provider:   prov,
		Machine:    playback.NewMachine(playback.Options{DisplayWidth: l.Width, ShowArtist: cfg.Display.ShowArtist}),
		Visualizer: vis,
		Display:    display,
		Logger:     logger,
		SinkName:   "preview",
		Timing: daemon.Timing{
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

	return &simulation{controller: ctrl, display: display, provider: prov}, nil
}

func (s *simulation) Run(ctx context.Context) error {
	return s.controller.Run(ctx)
}

func (s *simulation) Close() error {
	return errors.Join(s.provider.Close(), s.display.Close())
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, errShowVersion) {
		fmt.Printf("simulator version %s (built %s)\n", version, buildTime)
		return
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}

	if err != nil {
		log.Fatalf("Invalid options: %v", err)
	}

	demoDir, err := os.MkdirTemp("", "nowplaying-sim")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(demoDir)

	cfg, err := buildConfig(opts, demoDir)
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.duration > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	if opts.window {
		err = runWindow(ctx, cfg, opts.scale, logger)
	} else {
		err = runTerminal(ctx, cfg, os.Stdout, logger)
	}

	if err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}
}

func runTerminal(ctx context.Context, cfg *config.Config, out io.Writer, logger *logging.Logger) error {
	l, err := cfg.Matrix.Layout()
	if err != nil {
		return err
	}

	term, err := preview.NewTerminal(out, l)
	if err != nil {
		return err
	}

	sim, err := newSimulation(cfg, term, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Simulating a %dx%d matrix with the %s provider. Press Ctrl+C to stop.\n", l.Width, l.Height, cfg.Provider.Kind)

	runErr := sim.Run(ctx)

	return errors.Join(runErr, sim.Close())
}

// runWindow runs the loop in the background since the window must own the
// main goroutine.
func runWindow(ctx context.Context, cfg *config.Config, scale int, logger *logging.Logger) error {
	l, err := cfg.Matrix.Layout()
	if err != nil {
		return err
	}

	win, err := window.New("nowplaying matrix", l, scale)
	if err != nil {
		return err
	}

	sim, err := newSimulation(cfg, win, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() {
		done <- sim.Run(ctx)

		// Closing the display closes the window, which ends ShowAndRun.
		sim.Close()
	}()

	win.ShowAndRun()
	cancel()

	return <-done
}
