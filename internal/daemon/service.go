// Package daemon runs the now-playing display: the control loop, live config
// reloads, health checks, the status API, and installation as an OS service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/takama/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/observability"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/playback"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/provider"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/render"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/statusapi"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

const (
	healthInterval       = 30 * time.Second
	metricsFlushInterval = 5 * time.Minute
	maxResidentMemory    = 256 << 20
	minFreeDisk          = 16 << 20
	testPatternDuration  = 2 * time.Second
)

var newSystemDaemon = daemon.New

// Delay before retrying a pipeline that failed to rebuild, doubled after each
// failure.
var (
	rebuildBackoff    = time.Second
	maxRebuildBackoff = 30 * time.Second
)

// Service owns the long-lived parts of the daemon. The pipeline (provider,
// sinks, controller) is rebuilt from scratch on every config reload; the
// playback machine survives rebuilds.
type Service struct {
	daemon.Daemon
	started    time.Time
	config     *config.Config
	logger     *logging.Logger
	events     *logging.EventLogger
	collector  *observability.MetricsCollector
	metrics    *observability.ApplicationMetrics
	health     *observability.HealthMonitor
	machine    *playback.Machine
	pipeline   *Pipeline
	stdout     io.Writer
	reload     chan struct{}
	configPath string
	mu         sync.RWMutex
}

// NewService prepares a service for cfg. configPath is reread on reload and
// may be empty, in which case reloads are not possible.
func NewService(cfg *config.Config, configPath string, logger *logging.Logger) (*Service, error) {
	d, err := newSystemDaemon(cfg.Daemon.Name, cfg.Daemon.Description, daemon.SystemDaemon)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon: %w", err)
	}

	if logger == nil {
		logger = logging.Discard()
	}

	collector := observability.NewMetricsCollector(logger.WithComponent("metrics"), metricsFlushInterval)
	metrics := observability.NewApplicationMetrics(collector)

	return &Service{
		Daemon:     d,
		config:     cfg,
		configPath: configPath,
		logger:     logger.WithComponent("daemon"),
		events:     logging.NewEventLogger(logger),
		collector:  collector,
		metrics:    metrics,
		health:     observability.NewHealthMonitor(logger, metrics, healthInterval),
		machine:    playback.NewMachine(playback.Options{DisplayWidth: cfg.Matrix.Width, ShowArtist: cfg.Display.ShowArtist}),
		stdout:     os.Stdout,
		reload:     make(chan struct{}, 1),
	}, nil
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.config
}

// Metrics returns the metrics recorder.
func (s *Service) Metrics() *observability.ApplicationMetrics {
	return s.metrics
}

// Run blocks until ctx is done or a component fails.
func (s *Service) Run(ctx context.Context) error {
	s.started = time.Now()

	s.events.LogDaemon(logging.LevelInfo, "daemon starting", "start", map[string]interface{}{
		"sink":     s.Config().Matrix.Sink,
		"provider": s.Config().Provider.Kind,
	})

	defer s.shutdown()

	s.registerHealthChecks()
	s.health.Start()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.runPipelines(ctx) })
	g.Go(func() error { return s.handleSignals(ctx) })
	g.Go(func() error { return s.recordUptime(ctx) })

	if cfg := s.Config(); cfg.Daemon.WatchConfig && s.configPath != "" {
		watcher, err := config.NewWatcher(s.configPath, s.logger)
		if err != nil {
			s.logger.Warn("config watching disabled", "error", err)
		} else {
			g.Go(func() error {
				defer watcher.Close()
				return watcher.Run(ctx, s.Reload)
			})
		}
	}

	if cfg := s.Config(); cfg.API.Enabled {
		api := statusapi.New(statusapi.Options{
			State:   s,
			Health:  s.health,
			Metrics: s.metrics,
			Frames:  http.HandlerFunc(s.serveFrames),
			Logger:  s.logger,
		})

		g.Go(func() error { return api.Run(ctx, cfg.API.Listen) })
	}

	return g.Wait()
}

func (s *Service) shutdown() {
	s.health.Stop()
	s.collector.Close()
	s.events.LogDaemon(logging.LevelInfo, "daemon stopped", "stop", map[string]interface{}{
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
	s.events.Close()
}

// runPipelines builds a pipeline and runs its controller until ctx is done,
// rebuilding whenever a reload is requested. A failed rebuild falls back to
// the last configuration that worked and is retried with backoff until it
// builds or ctx is done.
func (s *Service) runPipelines(ctx context.Context) error {
	var good *config.Config

	backoff := rebuildBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		cfg := s.Config()

		p, err := BuildPipeline(cfg, s.deps())
		if err != nil {
			if good == nil {
				return fmt.Errorf("failed to start: %w", err)
			}

			s.events.LogError(err, "pipeline could not be built, retrying with the last working configuration", map[string]interface{}{
				"retry_in": backoff.String(),
			})
			s.metrics.RecordError("config")
			s.setConfig(good)

			select {
			case <-ctx.Done():
				return nil
			case <-s.reload:
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, maxRebuildBackoff)

			continue
		}

		backoff = rebuildBackoff
		good = cfg
		s.setPipeline(p)

		s.events.LogDaemon(logging.LevelInfo, "pipeline started", "pipeline", map[string]interface{}{
			"sink":     p.SinkName,
			"provider": p.Provider.Name(),
		})

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)

		go func() { done <- p.Controller.Run(runCtx) }()

		var runErr error

		select {
		case <-ctx.Done():
		case <-s.reload:
		case runErr = <-done:
		}

		cancel()

		if runErr == nil {
			runErr = <-done
		}

		s.setPipeline(nil)

		if err := p.Close(); err != nil {
			s.logger.Warn("failed to close pipeline", "error", err)
		}

		if runErr != nil {
			return runErr
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Service) deps() Deps {
	return Deps{
		Machine: s.machine,
		Metrics: s.metrics,
		Events:  s.events,
		Logger:  s.logger,
		Stdout:  s.stdout,
	}
}

func (s *Service) setConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = cfg
}

func (s *Service) setPipeline(p *Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pipeline = p
}

func (s *Service) currentPipeline() *Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pipeline
}

// Reload rereads the configuration file and, when it is valid, rebuilds the
// pipeline. An invalid file leaves the running pipeline untouched.
func (s *Service) Reload() {
	start := time.Now()

	if s.configPath == "" {
		s.logger.Warn("reload requested but no config file is in use")
		return
	}

	cfg, err := config.LoadConfig(s.configPath)
	s.metrics.RecordConfigReload(err == nil, time.Since(start))

	if err != nil {
		s.events.LogConfig(logging.LevelWarn, "configuration reload rejected", s.configPath, map[string]interface{}{
			"error": err.Error(),
		})

		return
	}

	s.setConfig(cfg)
	s.events.LogConfig(logging.LevelInfo, "configuration reloaded", s.configPath, nil)

	select {
	case s.reload <- struct{}{}:
	default:
	}
}

func (s *Service) handleSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			s.logger.Info("received SIGHUP, reloading configuration")
			s.Reload()
		}
	}
}

func (s *Service) recordUptime(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.metrics.RecordDaemonUptime(time.Since(s.started))
		}
	}
}

func (s *Service) registerHealthChecks() {
	s.health.RegisterChecker(observability.NewFuncChecker("provider", time.Second, func(context.Context) error {
		p := s.currentPipeline()
		if p == nil {
			return errors.New("pipeline not running")
		}

		if !p.Provider.Connected() {
			return fmt.Errorf("%s: %w", p.Provider.Name(), provider.ErrUnavailable)
		}

		return nil
	}))

	s.health.RegisterChecker(observability.NewFuncChecker("sink", time.Second, func(context.Context) error {
		p := s.currentPipeline()
		if p == nil {
			return errors.New("pipeline not running")
		}

		return p.Display.Healthy()
	}))

	s.health.RegisterChecker(observability.NewFuncChecker("config", time.Second, func(context.Context) error {
		return s.Config().Validate()
	}))

	s.health.RegisterChecker(observability.NewMemoryHealthChecker("memory", maxResidentMemory, s.metrics))

	diskPath := os.TempDir()
	if s.configPath != "" {
		diskPath = filepath.Dir(s.configPath)
	}

	s.health.RegisterChecker(observability.NewDiskSpaceHealthChecker("disk", diskPath, minFreeDisk))
}

// View implements statusapi.StateSource for whichever pipeline is running.
func (s *Service) View(now time.Time) statusapi.StateView {
	p := s.currentPipeline()
	if p == nil {
		return statusapi.StateView{
			Now:      now,
			Playback: statusapi.PlaybackView{State: s.machine.Snapshot()},
		}
	}

	return p.Controller.View(now)
}

func (s *Service) serveFrames(w http.ResponseWriter, r *http.Request) {
	p := s.currentPipeline()
	if p == nil || p.Stream == nil {
		http.Error(w, "frame streaming is disabled", http.StatusNotFound)
		return
	}

	p.Stream.ServeHTTP(w, r)
}

// Test fetches one status and shows a test pattern on the sink.
func (s *Service) Test(ctx context.Context) error {
	cfg := s.Config()

	p, err := BuildPipeline(cfg, s.deps())
	if err != nil {
		return err
	}

	defer p.Close()

	if poller, ok := p.Provider.(provider.Poller); ok {
		status, err := poller.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch status from %s: %w", p.Provider.Name(), err)
		}

		s.logger.Info("fetched status",
			"provider", p.Provider.Name(),
			"playing", status.IsPlaying,
			"label", status.Label(true),
			"progress_ms", status.ProgressMs,
			"duration_ms", status.DurationMs,
		)
	} else {
		s.logger.Info("push-only provider, skipping fetch", "provider", p.Provider.Name())
	}

	if _, err := p.Display.Show(TestPattern(cfg.Matrix.Width, cfg.Matrix.Height)); err != nil {
		return fmt.Errorf("failed to show test pattern: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(testPatternDuration):
	}

	return p.Display.Blank()
}

// TestPattern lights every pixel with a rainbow across the columns and a
// white first row, which makes wiring mistakes easy to spot.
func TestPattern(width, height int) *render.Frame {
	f := render.NewFrame(width, height)
	rainbow := xcolor.Palette{{R: 255}, {R: 255, G: 255}, {G: 255}, {G: 255, B: 255}, {B: 255}, {R: 255, B: 255}}

	for x := 0; x < width; x++ {
		c := rainbow.Sample(float64(x) / float64(max(width-1, 1)))

		f.Set(x, 0, xcolor.White)

		for y := 1; y < height; y++ {
			f.Set(x, y, c)
		}
	}

	return f
}

// Install registers the daemon as a system service started with the given
// config file.
func (s *Service) Install() (string, error) {
	args := []string{"run"}
	if s.configPath != "" {
		abs, err := filepath.Abs(s.configPath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve config path: %w", err)
		}

		args = []string{"-config", abs, "run"}
	}

	return s.Daemon.Install(args...)
}

func (s *Service) Remove() (string, error) {
	return s.Daemon.Remove()
}

func (s *Service) Status() (string, error) {
	return s.Daemon.Status()
}

func (s *Service) StartService() (string, error) {
	return s.Daemon.Start()
}

func (s *Service) StopService() (string, error) {
	return s.Daemon.Stop()
}
