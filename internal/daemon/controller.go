package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/matrix"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/observability"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/payload"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/playback"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/provider"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/statusapi"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/visualizer"
)

// Timing controls the control loop.
type Timing struct {
	FrameInterval   time.Duration
	PollInterval    time.Duration
	MinPollInterval time.Duration
}

// Controller is the single control loop. It owns the schedule: frame ticks,
// status polls, early polls when a track is probably over, and pushed
// updates, and applies all of them to the playback machine from one
// goroutine.
type Controller struct {
	lastFetch  time.Time
	lastPoll   time.Time
	provider   provider.Provider
	machine    *playback.Machine
	visualizer *visualizer.Visualizer
	display    *matrix.DisplayManager
	metrics    *observability.ApplicationMetrics
	events     *logging.EventLogger
	logger     *logging.Logger
	pending    *update
	notify     chan struct{}
	now        func() time.Time
	lastError  string
	sinkName   string
	timing     Timing
	subscribed bool
	mu         sync.Mutex
}

type update struct {
	err    error
	status payload.Status
}

// ControllerOptions wires a controller. Metrics and Events may be nil.
type ControllerOptions struct {
	Provider   provider.Provider
	Machine    *playback.Machine
	Visualizer *visualizer.Visualizer
	Display    *matrix.DisplayManager
	Metrics    *observability.ApplicationMetrics
	Events     *logging.EventLogger
	Logger     *logging.Logger
	SinkName   string
	Timing     Timing
}

// NewController validates opts and returns a controller ready to Run.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Provider == nil || opts.Machine == nil || opts.Visualizer == nil || opts.Display == nil {
		return nil, errors.New("controller needs a provider, machine, visualizer and display")
	}

	if opts.Timing.FrameInterval <= 0 || opts.Timing.PollInterval <= 0 {
		return nil, fmt.Errorf("invalid timing: frame %v, poll %v", opts.Timing.FrameInterval, opts.Timing.PollInterval)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Controller{
		provider:   opts.Provider,
		machine:    opts.Machine,
		visualizer: opts.Visualizer,
		display:    opts.Display,
		metrics:    opts.Metrics,
		events:     opts.Events,
		logger:     logger.WithComponent("controller"),
		sinkName:   opts.SinkName,
		timing:     opts.Timing,
		notify:     make(chan struct{}, 1),
		now:        time.Now,
	}, nil
}

// Run drives the loop until ctx is done. Provider failures never end it; they
// stop playback and are retried on the normal schedule.
func (c *Controller) Run(ctx context.Context) error {
	frames := time.NewTicker(c.timing.FrameInterval)
	defer frames.Stop()

	// The first poll happens immediately.
	polls := time.NewTimer(0)
	defer polls.Stop()

	c.subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.notify:
			if u := c.takePending(); u != nil {
				c.apply(*u, "push")
			}
		case <-polls.C:
			c.poll(ctx)
			c.subscribe(ctx)
			polls.Reset(c.timing.PollInterval)
		case <-frames.C:
			if c.shouldPollEarly() {
				c.poll(ctx)
				polls.Reset(c.timing.PollInterval)
			}

			c.renderFrame()
		}
	}
}

// Push queues a pushed status for the loop. Only the newest pending update is
// kept since the machine only cares about the latest state.
func (c *Controller) Push(s payload.Status, err error) {
	c.mu.Lock()
	c.pending = &update{status: s, err: err}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Controller) takePending() *update {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.pending
	c.pending = nil

	return u
}

func (c *Controller) subscribe(ctx context.Context) {
	pusher, ok := c.provider.(provider.Pusher)
	if !ok || c.subscribed {
		return
	}

	if err := pusher.Subscribe(ctx, c.Push); err != nil {
		if ctx.Err() != nil {
			return
		}

		c.logEvent(logging.LevelWarn, "subscribe failed, retrying at the next poll interval", err)
		c.apply(update{err: err}, "push")

		return
	}

	c.subscribed = true
	c.logEvent(logging.LevelInfo, "subscribed to status updates", nil)
}

func (c *Controller) poll(ctx context.Context) {
	poller, ok := c.provider.(provider.Poller)
	if !ok {
		return
	}

	start := c.now()
	status, err := poller.Fetch(ctx)

	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	c.lastPoll = start
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordPoll(c.provider.Name(), err == nil, c.now().Sub(start))
	}

	c.apply(update{status: status, err: err}, "poll")
}

func (c *Controller) shouldPollEarly() bool {
	if _, ok := c.provider.(provider.Poller); !ok {
		return false
	}

	now := c.now()

	c.mu.Lock()
	last := c.lastPoll
	c.mu.Unlock()

	return now.Sub(last) >= c.timing.MinPollInterval && c.machine.LikelyEnded(now)
}

func (c *Controller) apply(u update, source string) {
	now := c.now()

	var tr playback.Transition

	if u.err != nil {
		tr = c.machine.Fail(u.err, now)

		if c.metrics != nil {
			c.metrics.RecordError("provider")
		}
	} else {
		tr = c.machine.Apply(u.status, now)

		if u.status.Error != "" {
			c.logger.Warn("status source reported an error", "error", u.status.Error)
		}
	}

	c.mu.Lock()
	c.lastFetch = now
	c.lastError = ""
	if u.err != nil {
		c.lastError = u.err.Error()
	}
	c.mu.Unlock()

	if source == "push" && c.metrics != nil {
		c.metrics.RecordPush(c.provider.Name(), u.err == nil)
	}

	c.recordTransition(tr, u.err)
}

func (c *Controller) recordTransition(tr playback.Transition, cause error) {
	if tr == playback.Unchanged {
		return
	}

	state := c.machine.Snapshot()

	if c.metrics != nil {
		c.metrics.RecordTransition(tr.String(), state.Phase.String())
	}

	if tr == playback.Resynced {
		c.logger.Debug("resynced", "track", state.TrackName, "progress_ms", state.Progress.AnchorProgressMs())
		return
	}

	fields := map[string]interface{}{
		"track":  state.TrackName,
		"artist": state.ArtistName,
	}

	if cause != nil {
		fields["cause"] = cause.Error()
	}

	if c.events != nil {
		c.events.LogPlayback(logging.LevelInfo, "playback "+tr.String(), tr.String(), fields)
	} else {
		c.logger.Info("playback "+tr.String(), "track", state.TrackName, "artist", state.ArtistName)
	}
}

func (c *Controller) renderFrame() {
	start := c.now()

	if !c.provider.Connected() && c.machine.Snapshot().Phase == playback.Playing {
		c.apply(update{err: fmt.Errorf("%s: %w", c.provider.Name(), provider.ErrUnavailable)}, "check")
	}

	if c.metrics != nil {
		c.metrics.RecordProviderConnected(c.provider.Name(), c.provider.Connected())
	}

	presented, err := c.visualizer.Render(c.machine.Tick(start))
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordSinkError(c.sinkName)
		}

		c.logger.Warn("frame not presented", "sink", c.sinkName, "error", err)
	}

	if c.metrics != nil {
		c.metrics.RecordFrame(presented, c.now().Sub(start))
	}
}

func (c *Controller) logEvent(level logging.LogLevel, message string, err error) {
	if c.events == nil {
		c.logger.Info(message, "provider", c.provider.Name(), "error", err)
		return
	}

	fields := map[string]interface{}{}
	if err != nil {
		fields["error"] = err.Error()
	}

	c.events.LogProvider(level, message, c.provider.Name(), fields)
}

// View reports the state served by the status API.
func (c *Controller) View(now time.Time) statusapi.StateView {
	state := c.machine.Snapshot()

	c.mu.Lock()
	providerView := statusapi.ProviderView{
		Name:      c.provider.Name(),
		Connected: c.provider.Connected(),
		LastFetch: c.lastFetch,
		LastError: c.lastError,
	}
	c.mu.Unlock()

	return statusapi.StateView{
		Now:      now,
		Provider: providerView,
		Display:  c.display.State(),
		Playback: statusapi.PlaybackView{
			State:       state,
			ProgressMs:  state.Progress.EstimatedProgressMs(now),
			DurationMs:  state.Progress.DurationMs(),
			RemainingMs: state.Progress.Remaining(now).Milliseconds(),
			OffsetPx:    c.machine.Cursor().OffsetPx,
		},
	}
}

// Machine returns the playback machine.
func (c *Controller) Machine() *playback.Machine {
	return c.machine
}
