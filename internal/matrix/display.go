package matrix

import (
	"fmt"
	"sync"
	"time"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/layout"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/render"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// DisplayState summarises what the display manager has done so far.
type DisplayState struct {
	LastUpdate time.Time `json:"last_update"`
	LastError  string    `json:"last_error,omitempty"`
	Layout     string    `json:"layout"`
	Presented  uint64    `json:"presented"`
	Skipped    uint64    `json:"skipped"`
	Brightness uint8     `json:"brightness"`
}

// DisplayManager maps logical frames through a layout onto a sink, applying
// the brightness cap. Frames identical to the last one presented are skipped.
type DisplayManager struct {
	sink       Sink
	layout     layout.Layout
	table      []int
	last       []xcolor.RGB
	lastUpdate time.Time
	lastError  error
	presented  uint64
	skipped    uint64
	brightness uint8
	valid      bool
	mu         sync.Mutex
}

func NewDisplayManager(sink Sink, l layout.Layout, brightness uint8) (*DisplayManager, error) {
	dm := &DisplayManager{
		sink:       sink,
		brightness: brightness,
	}

	if err := dm.setLayoutLocked(l); err != nil {
		return nil, err
	}

	return dm, nil
}

func (dm *DisplayManager) setLayoutLocked(l layout.Layout) error {
	table, err := l.Table()
	if err != nil {
		return fmt.Errorf("invalid layout: %w", err)
	}

	dm.layout = l
	dm.table = table
	dm.last = make([]xcolor.RGB, len(table))
	dm.valid = false

	return nil
}

// SetLayout switches to a new wiring. The next frame is always presented.
func (dm *DisplayManager) SetLayout(l layout.Layout) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	return dm.setLayoutLocked(l)
}

func (dm *DisplayManager) Layout() layout.Layout {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	return dm.layout
}

func (dm *DisplayManager) SetBrightness(level uint8) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.brightness != level {
		dm.brightness = level
		dm.valid = false
	}
}

// Show presents f. It reports whether the sink was written to.
func (dm *DisplayManager) Show(f *render.Frame) (bool, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if f.Width != dm.layout.Width || f.Height != dm.layout.Height {
		return false, fmt.Errorf("frame is %dx%d, display is %dx%d", f.Width, f.Height, dm.layout.Width, dm.layout.Height)
	}

	changed := !dm.valid

	for i, c := range f.Pix {
		c = c.Scale(dm.brightness)

		phys := dm.table[i]
		if dm.last[phys] != c {
			dm.last[phys] = c
			changed = true
		}
	}

	if !changed {
		dm.skipped++

		return false, nil
	}

	return true, dm.presentLocked()
}

// Blank turns every pixel off.
func (dm *DisplayManager) Blank() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	clear(dm.last)

	return dm.presentLocked()
}

func (dm *DisplayManager) presentLocked() error {
	dm.sink.Clear()

	for phys, c := range dm.last {
		if !c.IsBlack() {
			dm.sink.SetPixel(phys, c)
		}
	}

	dm.lastUpdate = time.Now()

	if err := dm.sink.Present(); err != nil {
		// Force a retry on the next frame.
		dm.valid = false
		dm.lastError = err

		return fmt.Errorf("failed to present frame: %w", err)
	}

	dm.valid = true
	dm.lastError = nil
	dm.presented++

	return nil
}

func (dm *DisplayManager) State() DisplayState {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	state := DisplayState{
		LastUpdate: dm.lastUpdate,
		Layout:     dm.layout.String(),
		Presented:  dm.presented,
		Skipped:    dm.skipped,
		Brightness: dm.brightness,
	}

	if dm.lastError != nil {
		state.LastError = dm.lastError.Error()
	}

	return state
}

// Healthy reports whether the last present succeeded.
func (dm *DisplayManager) Healthy() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	return dm.lastError
}

// Close blanks the display and closes the sink.
func (dm *DisplayManager) Close() error {
	blankErr := dm.Blank()

	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := dm.sink.Close(); err != nil {
		return err
	}

	return blankErr
}
