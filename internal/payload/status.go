// Package payload parses now-playing status messages into a validated Status.
//
// Every shape check happens here so the playback machine and the renderer can
// trust the values they receive.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// ErrMalformed is wrapped by every error returned from Parse.
var ErrMalformed = errors.New("malformed payload")

const trackIDSeparator = "\x1f"

// Status is one validated playback status message.
type Status struct {
	TrackName  string
	ArtistName string
	Album      string
	Error      string
	Artists    []string
	Palette    xcolor.Palette
	ProgressMs uint64
	DurationMs uint64
	IsPlaying  bool
}

// TrackID identifies a track by name and artist. The upstream payload has no
// stable identifier that survives every transport, so two tracks with the same
// title and artist are indistinguishable.
func (s Status) TrackID() string {
	if !s.IsPlaying {
		return ""
	}

	return s.TrackName + trackIDSeparator + s.ArtistName
}

// Label returns the text scrolled across the matrix.
func (s Status) Label(showArtist bool) string {
	if !showArtist || s.ArtistName == "" {
		return s.TrackName
	}

	return s.TrackName + " - " + s.ArtistName
}

type wireStatus struct {
	IsPlaying  *bool           `json:"isPlaying"`
	Track      json.RawMessage `json:"track"`
	ProgressMs *json.Number    `json:"progress_ms"`
	DurationMs *json.Number    `json:"duration_ms"`
	Palette    json.RawMessage `json:"palette"`
	Error      string          `json:"error"`
}

type wireTrack struct {
	Name    *string  `json:"name"`
	Artists []string `json:"artists"`
	Album   string   `json:"album"`
}

// Parse decodes and validates a status message.
//
// A message that is not a JSON object, or that claims to be playing without a
// named track, yields an error wrapping ErrMalformed. A missing isPlaying field
// means nothing is playing. Palette entries that are not three numbers are
// replaced by white at their position, components are clamped to [0, 255] and
// a palette that is not a list is ignored.
func Parse(data []byte) (Status, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w wireStatus
	if err := dec.Decode(&w); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Status{}, fmt.Errorf("%w: trailing data after status object", ErrMalformed)
	}

	status := Status{
		IsPlaying: w.IsPlaying != nil && *w.IsPlaying,
		Error:     w.Error,
	}

	if !status.IsPlaying {
		return status, nil
	}

	track, err := parseTrack(w.Track)
	if err != nil {
		return Status{}, err
	}

	status.TrackName = strings.TrimSpace(*track.Name)
	status.Album = track.Album

	for _, artist := range track.Artists {
		if artist = strings.TrimSpace(artist); artist != "" {
			status.Artists = append(status.Artists, artist)
		}
	}

	status.ArtistName = strings.Join(status.Artists, ", ")

	if status.ProgressMs, err = parseMillis("progress_ms", w.ProgressMs); err != nil {
		return Status{}, err
	}

	if status.DurationMs, err = parseMillis("duration_ms", w.DurationMs); err != nil {
		return Status{}, err
	}

	status.Palette = parsePalette(w.Palette)

	return status, nil
}

func parseTrack(raw json.RawMessage) (wireTrack, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return wireTrack{}, fmt.Errorf("%w: playing without a track", ErrMalformed)
	}

	var track wireTrack
	if err := json.Unmarshal(raw, &track); err != nil {
		return wireTrack{}, fmt.Errorf("%w: track: %v", ErrMalformed, err)
	}

	if track.Name == nil || strings.TrimSpace(*track.Name) == "" {
		return wireTrack{}, fmt.Errorf("%w: track has no name", ErrMalformed)
	}

	return track, nil
}

// parseMillis treats an absent value as zero and clamps negatives to zero.
func parseMillis(field string, n *json.Number) (uint64, error) {
	if n == nil {
		return 0, nil
	}

	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s is not a number", ErrMalformed, field)
	}

	if f <= 0 {
		return 0, nil
	}

	if f >= math.MaxUint64 {
		return math.MaxUint64, nil
	}

	return uint64(f), nil
}

func parsePalette(raw json.RawMessage) xcolor.Palette {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || len(entries) == 0 {
		return nil
	}

	p := make(xcolor.Palette, 0, len(entries))

	for _, raw := range entries {
		p = append(p, parseSwatch(raw))
	}

	return p
}

func parseSwatch(raw json.RawMessage) xcolor.RGB {
	var components []float64
	if err := json.Unmarshal(raw, &components); err != nil || len(components) != 3 {
		return xcolor.White
	}

	return xcolor.RGB{
		R: clampComponent(components[0]),
		G: clampComponent(components[1]),
		B: clampComponent(components[2]),
	}
}

func clampComponent(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
