// Package playback holds the playback state machine that turns status updates
// into what the matrix should show.
//
// The machine has two phases. Any update that is not a valid playing status,
// and any provider failure, returns it to Stopped so the display never freezes
// on a stale track.
package playback

import (
	"sync"
	"time"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/payload"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/progress"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/render"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// Phase is the top-level playback state.
type Phase int

// Phases.
const (
	Stopped Phase = iota
	Playing
)

func (p Phase) String() string {
	switch p {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Transition describes what an update did to the machine.
type Transition int

// Transitions.
const (
	Unchanged Transition = iota
	Started
	TrackChanged
	Resynced
	Halted
)

func (t Transition) String() string {
	switch t {
	case Unchanged:
		return "unchanged"
	case Started:
		return "started"
	case TrackChanged:
		return "track_changed"
	case Resynced:
		return "resynced"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// State is the playback state as seen by one reader.
type State struct {
	UpdatedAt   time.Time          `json:"updated_at"`
	TrackID     string             `json:"-"`
	TrackName   string             `json:"track_name,omitempty"`
	ArtistName  string             `json:"artist_name,omitempty"`
	Album       string             `json:"album,omitempty"`
	Label       string             `json:"label,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	Palette     xcolor.Palette     `json:"palette,omitempty"`
	Progress    progress.Estimator `json:"-"`
	TextWidthPx int                `json:"text_width_px"`
	Phase       Phase              `json:"phase"`
}

func (s State) clone() State {
	s.Palette = s.Palette.Clone()
	return s
}

// Frame is the snapshot taken at the top of one rendered frame.
type Frame struct {
	Now time.Time
	State
	OffsetPx int
}

// Options configures label layout.
type Options struct {
	// Measure returns the scrolled width of a label. Defaults to render.TextWidth.
	Measure      func(label string) int
	DisplayWidth int
	ShowArtist   bool
}

// Machine owns the playback state and the scroll cursor. It is safe for
// concurrent use; every update is applied as a whole under one lock.
type Machine struct {
	opts   Options
	state  State
	cursor render.Cursor
	mu     sync.RWMutex
}

// NewMachine returns a machine in the Stopped phase.
func NewMachine(opts Options) *Machine {
	if opts.Measure == nil {
		opts.Measure = render.TextWidth
	}

	return &Machine{
		opts:   opts,
		cursor: render.NewCursor(opts.DisplayWidth),
	}
}

// Apply feeds one validated status into the machine.
func (m *Machine) Apply(s payload.Status, now time.Time) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = now
	m.state.LastError = s.Error

	if !s.IsPlaying {
		return m.stopLocked()
	}

	id := s.TrackID()

	switch {
	case m.state.Phase == Stopped:
		m.loadTrackLocked(s, now)
		return Started
	case id != m.state.TrackID:
		m.loadTrackLocked(s, now)
		return TrackChanged
	default:
		m.state.Progress.Sync(s.ProgressMs, s.DurationMs, now)
		m.state.Palette = s.Palette.Clone()
		m.state.Album = s.Album

		return Resynced
	}
}

// Fail records a provider or parse failure. The machine always ends Stopped.
func (m *Machine) Fail(err error, now time.Time) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = now
	if err != nil {
		m.state.LastError = err.Error()
	}

	return m.stopLocked()
}

// Tick captures the state for one frame and then scrolls the label by one
// pixel while playing.
func (m *Machine) Tick(now time.Time) Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := Frame{
		Now:      now,
		State:    m.state.clone(),
		OffsetPx: m.cursor.OffsetPx,
	}

	if m.state.Phase == Playing {
		m.cursor.Advance(m.state.TextWidthPx)
	}

	return f
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.clone()
}

// Cursor returns the current scroll position.
func (m *Machine) Cursor() render.Cursor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.cursor
}

// LikelyEnded reports whether the current track has probably finished and an
// early status fetch is worthwhile.
func (m *Machine) LikelyEnded(now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state.Phase == Playing && m.state.Progress.LikelyEnded(now)
}

// SetOptions changes label options. A change that alters the label restarts
// the scroll.
func (m *Machine) SetOptions(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.Measure == nil {
		opts.Measure = render.TextWidth
	}

	m.opts = opts
	m.cursor.DisplayWidth = opts.DisplayWidth

	if m.state.Phase != Playing {
		m.cursor.Reset()
		return
	}

	label := payload.Status{
		IsPlaying:  true,
		TrackName:  m.state.TrackName,
		ArtistName: m.state.ArtistName,
	}.Label(opts.ShowArtist)

	m.state.Label = label
	m.state.TextWidthPx = opts.Measure(label)
	m.cursor.Reset()
}

func (m *Machine) loadTrackLocked(s payload.Status, now time.Time) {
	m.state.Phase = Playing
	m.state.TrackID = s.TrackID()
	m.state.TrackName = s.TrackName
	m.state.ArtistName = s.ArtistName
	m.state.Album = s.Album
	m.state.Label = s.Label(m.opts.ShowArtist)
	m.state.TextWidthPx = m.opts.Measure(m.state.Label)
	m.state.Palette = s.Palette.Clone()
	m.state.Progress.Sync(s.ProgressMs, s.DurationMs, now)
	m.cursor.Reset()
}

func (m *Machine) stopLocked() Transition {
	wasPlaying := m.state.Phase == Playing

	m.state.Phase = Stopped
	m.state.TrackID = ""
	m.state.TrackName = ""
	m.state.ArtistName = ""
	m.state.Album = ""
	m.state.Label = ""
	m.state.TextWidthPx = 0
	m.state.Palette = nil
	m.state.Progress.Reset()
	m.cursor.Reset()

	if wasPlaying {
		return Halted
	}

	return Unchanged
}
