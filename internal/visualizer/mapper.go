// Package visualizer turns playback snapshots into matrix frames. While a track
// plays it draws the scrolling label and the progress bar; otherwise it blanks
// the matrix or shows the idle wave.
package visualizer

import (
	"fmt"
	"sync"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/playback"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/render"
)

// Idle modes.
const (
	IdleBlank = "blank"
	IdleWave  = "wave"
)

// Display receives composed frames.
type Display interface {
	Show(f *render.Frame) (bool, error)
}

// Options controls frame composition.
type Options struct {
	Idle         string
	Width        int
	Height       int
	Baseline     int
	ProgressRows int
}

// OptionsFromConfig builds composition options from the display and matrix
// sections of the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Idle:         cfg.Display.Idle,
		Width:        cfg.Matrix.Width,
		Height:       cfg.Matrix.Height,
		Baseline:     cfg.Display.TextBaseline,
		ProgressRows: cfg.Display.ProgressRows,
	}
}

// Visualizer composes one frame per tick and hands it to a display.
type Visualizer struct {
	display Display
	frame   *render.Frame
	idle    *render.Idle
	raster  render.Rasterizer
	bar     render.ProgressBar
	opts    Options
	mu      sync.Mutex
}

// NewVisualizer returns a visualizer drawing into frames of opts.Width by
// opts.Height.
func NewVisualizer(display Display, opts Options) (*Visualizer, error) {
	v := &Visualizer{
		display: display,
		idle:    render.NewIdle(),
	}

	if err := v.SetOptions(opts); err != nil {
		return nil, err
	}

	return v, nil
}

// SetOptions replaces the composition options. A size change takes effect on
// the next frame.
func (v *Visualizer) SetOptions(opts Options) error {
	if opts.Width <= 0 || opts.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}

	if opts.ProgressRows < 0 || opts.ProgressRows > opts.Height {
		return fmt.Errorf("progress rows %d outside [0,%d]", opts.ProgressRows, opts.Height)
	}

	switch opts.Idle {
	case "":
		opts.Idle = IdleBlank
	case IdleBlank, IdleWave:
	default:
		return fmt.Errorf("unknown idle mode %q", opts.Idle)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.opts = opts
	v.raster = render.NewRasterizer(opts.Baseline)
	v.bar = render.ProgressBar{Top: opts.Height - opts.ProgressRows, Rows: opts.ProgressRows}

	if v.frame == nil || v.frame.Width != opts.Width || v.frame.Height != opts.Height {
		v.frame = render.NewFrame(opts.Width, opts.Height)
	}

	return nil
}

// Options returns the current composition options.
func (v *Visualizer) Options() Options {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.opts
}

// compose draws pf into a new frame.
func (v *Visualizer) compose(pf playback.Frame) *render.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.composeLocked(pf)

	return v.frame.Clone()
}

// Render composes pf and shows it. It reports whether the display was
// actually updated.
func (v *Visualizer) Render(pf playback.Frame) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.composeLocked(pf)

	presented, err := v.display.Show(v.frame)
	if err != nil {
		return false, fmt.Errorf("failed to show frame: %w", err)
	}

	return presented, nil
}

func (v *Visualizer) composeLocked(pf playback.Frame) {
	v.frame.Clear()

	if pf.Phase != playback.Playing {
		if v.opts.Idle == IdleWave {
			v.idle.Draw(v.frame)
			v.idle.Step()
		}

		return
	}

	v.raster.Draw(v.frame, render.Scroll(pf.Label, pf.TextWidthPx, pf.Palette, pf.OffsetPx))
	v.bar.Draw(v.frame, pf.Progress.Ratio(pf.Now), pf.Palette)
}
