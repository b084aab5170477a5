// Package layout maps logical matrix coordinates onto the physical order of
// LEDs along a wired strip.
//
// A layout is described declaratively: the display is split into vertical
// chunks (one per physical panel), and each chunk is wired from a start corner
// along a major axis, either progressively or zigzagging between lines.
package layout

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrOutOfRange is returned for coordinates outside the display.
var ErrOutOfRange = errors.New("coordinate out of range")

// Corner is the corner of a chunk where the first LED sits.
type Corner int

// Corners.
const (
	TopLeft Corner = iota
	TopRight
	BottomLeft
	BottomRight
)

// Axis is the direction the strip runs before moving to the next line.
type Axis int

// Axes.
const (
	Columns Axis = iota
	Rows
)

// Sequence describes how consecutive lines are traversed.
type Sequence int

// Sequences.
const (
	// Zigzag reverses direction on every other line.
	Zigzag Sequence = iota
	// Progressive runs every line in the same direction.
	Progressive
)

var (
	cornerNames   = map[Corner]string{TopLeft: "top-left", TopRight: "top-right", BottomLeft: "bottom-left", BottomRight: "bottom-right"}
	axisNames     = map[Axis]string{Columns: "columns", Rows: "rows"}
	sequenceNames = map[Sequence]string{Zigzag: "zigzag", Progressive: "progressive"}
)

func (c Corner) String() string   { return nameOf(cornerNames, c) }
func (a Axis) String() string     { return nameOf(axisNames, a) }
func (s Sequence) String() string { return nameOf(sequenceNames, s) }

func nameOf[K ~int](names map[K]string, k K) string {
	if n, ok := names[k]; ok {
		return n
	}

	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// ParseCorner parses names such as "top-left".
func ParseCorner(s string) (Corner, error) { return parseName(cornerNames, "corner", s) }

// ParseAxis parses "columns" or "rows".
func ParseAxis(s string) (Axis, error) { return parseName(axisNames, "axis", s) }

// ParseSequence parses "zigzag" or "progressive".
func ParseSequence(s string) (Sequence, error) { return parseName(sequenceNames, "sequence", s) }

func parseName[K ~int](names map[K]string, kind, s string) (K, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")

	for k, n := range names {
		if n == s {
			return k, nil
		}
	}

	var zero K

	return zero, fmt.Errorf("unknown %s %q", kind, s)
}

// Layout describes the wiring of a matrix built from one or more chunks.
type Layout struct {
	Width  int
	Height int
	// ChunkWidth is the width of one panel. Zero means a single chunk spanning
	// the whole width.
	ChunkWidth int
	Start      Corner
	Major      Axis
	Sequence   Sequence
}

// Default returns the 32x8 wiring used by four 8x8 column-zigzag panels.
func Default() Layout {
	return Layout{
		Width:      32,
		Height:     8,
		ChunkWidth: 8,
		Start:      TopLeft,
		Major:      Columns,
		Sequence:   Zigzag,
	}
}

// Validate checks that the layout describes a usable geometry.
func (l Layout) Validate() error {
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("layout size must be positive, got %dx%d", l.Width, l.Height)
	}

	if l.ChunkWidth < 0 {
		return fmt.Errorf("layout chunk width must not be negative, got %d", l.ChunkWidth)
	}

	if l.Width%l.chunkWidth() != 0 {
		return fmt.Errorf("layout width %d is not a multiple of chunk width %d", l.Width, l.ChunkWidth)
	}

	if _, ok := cornerNames[l.Start]; !ok {
		return fmt.Errorf("invalid layout start corner %d", l.Start)
	}

	if _, ok := axisNames[l.Major]; !ok {
		return fmt.Errorf("invalid layout axis %d", l.Major)
	}

	if _, ok := sequenceNames[l.Sequence]; !ok {
		return fmt.Errorf("invalid layout sequence %d", l.Sequence)
	}

	return nil
}

// Count returns the number of LEDs in the layout.
func (l Layout) Count() int {
	return l.Width * l.Height
}

func (l Layout) chunkWidth() int {
	if l.ChunkWidth == 0 {
		return l.Width
	}

	return l.ChunkWidth
}

// Index returns the physical strip index of the logical pixel (x, y), where
// (0, 0) is the top-left pixel as seen by a viewer.
func (l Layout) Index(x, y int) (int, error) {
	if x < 0 || y < 0 || x >= l.Width || y >= l.Height {
		return 0, fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrOutOfRange, x, y, l.Width, l.Height)
	}

	cw := l.chunkWidth()
	if cw <= 0 || l.Width%cw != 0 {
		return 0, fmt.Errorf("invalid layout chunk width %d for width %d", l.ChunkWidth, l.Width)
	}

	chunks := l.Width / cw
	chunk, lx, ly := x/cw, x%cw, y

	if l.Start == TopRight || l.Start == BottomRight {
		chunk = chunks - 1 - chunk
		lx = cw - 1 - lx
	}

	if l.Start == BottomLeft || l.Start == BottomRight {
		ly = l.Height - 1 - ly
	}

	line, pos, lineLen := lx, ly, l.Height
	if l.Major == Rows {
		line, pos, lineLen = ly, lx, cw
	}

	if l.Sequence == Zigzag && line%2 == 1 {
		pos = lineLen - 1 - pos
	}

	return chunk*cw*l.Height + line*lineLen + pos, nil
}

// Table precomputes the physical index of every logical pixel, indexed by
// y*Width+x.
func (l Layout) Table() ([]int, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	table := make([]int, l.Count())

	for y := 0; y < l.Height; y++ {
		for x := 0; x < l.Width; x++ {
			idx, err := l.Index(x, y)
			if err != nil {
				return nil, err
			}

			table[y*l.Width+x] = idx
		}
	}

	return table, nil
}

// Inverse maps each physical index back to its logical y*Width+x position.
func (l Layout) Inverse() ([]int, error) {
	table, err := l.Table()
	if err != nil {
		return nil, err
	}

	inverse := make([]int, len(table))
	for logical, phys := range table {
		inverse[phys] = logical
	}

	return inverse, nil
}

func (l Layout) String() string {
	return fmt.Sprintf("%dx%d chunk=%d %s %s %s", l.Width, l.Height, l.chunkWidth(), l.Start, l.Major, l.Sequence)
}
