package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/payload"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisPath       = "/org/mpris/MediaPlayer2"
	mprisPlayer     = "org.mpris.MediaPlayer2.Player"
	playbackPlaying = "Playing"
)

// busClient is the part of the session bus the poller needs.
type busClient interface {
	ListNames() ([]string, error)
	GetProperty(dest, path, prop string) (dbus.Variant, error)
	Close() error
}

type sessionBus struct {
	conn *dbus.Conn
}

func (b *sessionBus) ListNames() ([]string, error) {
	var names []string
	err := b.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)

	return names, err
}

func (b *sessionBus) GetProperty(dest, path, prop string) (dbus.Variant, error) {
	return b.conn.Object(dest, dbus.ObjectPath(path)).GetProperty(prop)
}

func (b *sessionBus) Close() error {
	return b.conn.Close()
}

// MPRISPoller reads the now-playing status of a local media player over the
// D-Bus session bus. Players expose no palette, so text is drawn white.
type MPRISPoller struct {
	bus       busClient
	logger    *logging.Logger
	player    string
	mu        sync.Mutex
	connected atomic.Bool
}

func NewMPRISPoller(cfg config.MPRISConfig, logger *logging.Logger) (*MPRISPoller, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus connection failed: %w", err)
	}

	return newMPRISPoller(&sessionBus{conn: conn}, cfg, logger), nil
}

func newMPRISPoller(bus busClient, cfg config.MPRISConfig, logger *logging.Logger) *MPRISPoller {
	if logger == nil {
		logger = logging.Discard()
	}

	p := &MPRISPoller{
		bus:    bus,
		logger: logger.WithComponent("provider-mpris"),
		player: strings.ToLower(cfg.Player),
	}
	p.connected.Store(true)

	return p
}

func (p *MPRISPoller) Name() string {
	return "mpris"
}

func (p *MPRISPoller) Connected() bool {
	return p.connected.Load()
}

// Fetch reports the first playing player, preferring names in sorted order. No
// matching player, or none playing, is a stopped status.
func (p *MPRISPoller) Fetch(ctx context.Context) (payload.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return payload.Status{}, err
	}

	names, err := p.bus.ListNames()
	if err != nil {
		p.connected.Store(false)

		return payload.Status{}, unavailable(fmt.Errorf("failed to list bus names: %w", err))
	}

	p.connected.Store(true)

	players := p.players(names)

	for _, name := range players {
		status, err := p.readPlayer(name)
		if err != nil {
			p.logger.Debug("Skipping player", "player", name, "error", err)

			continue
		}

		if status.IsPlaying {
			return status, nil
		}
	}

	return payload.Status{}, nil
}

func (p *MPRISPoller) players(names []string) []string {
	var players []string

	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}

		if p.player != "" && !strings.Contains(strings.ToLower(name), p.player) {
			continue
		}

		players = append(players, name)
	}

	sort.Strings(players)

	return players
}

func (p *MPRISPoller) readPlayer(name string) (payload.Status, error) {
	variant, err := p.bus.GetProperty(name, mprisPath, mprisPlayer+".PlaybackStatus")
	if err != nil {
		return payload.Status{}, fmt.Errorf("failed to get playback status: %w", err)
	}

	if s, _ := variant.Value().(string); s != playbackPlaying {
		return payload.Status{}, nil
	}

	variant, err = p.bus.GetProperty(name, mprisPath, mprisPlayer+".Metadata")
	if err != nil {
		return payload.Status{}, fmt.Errorf("failed to get metadata: %w", err)
	}

	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		return payload.Status{}, fmt.Errorf("%w: metadata is %T", payload.ErrMalformed, variant.Value())
	}

	status := payload.Status{IsPlaying: true}

	if v, ok := metadata["xesam:title"]; ok {
		status.TrackName, _ = v.Value().(string)
	}

	status.TrackName = strings.TrimSpace(status.TrackName)
	if status.TrackName == "" {
		return payload.Status{}, fmt.Errorf("%w: playing without a title", payload.ErrMalformed)
	}

	if v, ok := metadata["xesam:artist"]; ok {
		switch artists := v.Value().(type) {
		case []string:
			for _, a := range artists {
				if a = strings.TrimSpace(a); a != "" {
					status.Artists = append(status.Artists, a)
				}
			}
		case string:
			if a := strings.TrimSpace(artists); a != "" {
				status.Artists = []string{a}
			}
		}
	}

	status.ArtistName = strings.Join(status.Artists, ", ")

	if v, ok := metadata["xesam:album"]; ok {
		status.Album, _ = v.Value().(string)
	}

	if v, ok := metadata["mpris:length"]; ok {
		status.DurationMs = microsToMillis(v.Value())
	}

	// Position is not part of the metadata and is never signalled, so it is read
	// on every poll.
	if v, err := p.bus.GetProperty(name, mprisPath, mprisPlayer+".Position"); err == nil {
		status.ProgressMs = microsToMillis(v.Value())
	}

	return status, nil
}

func microsToMillis(v interface{}) uint64 {
	var us int64

	switch n := v.(type) {
	case int64:
		us = n
	case uint64:
		if n > 1<<62 {
			return (1 << 62) / 1000
		}

		us = int64(n)
	case int32:
		us = int64(n)
	case uint32:
		us = int64(n)
	case float64:
		us = int64(n)
	default:
		return 0
	}

	if us <= 0 {
		return 0
	}

	return uint64(us / 1000)
}

func (p *MPRISPoller) Close() error {
	p.connected.Store(false)

	return p.bus.Close()
}
