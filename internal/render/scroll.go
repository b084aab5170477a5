package render

import (
	"unicode/utf8"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// CharAdvance is the horizontal space taken by one character: a 5 pixel glyph
// cell plus 1 pixel of spacing.
const CharAdvance = 6

// Draw places one character at column X.
type Draw struct {
	Char  rune
	X     int
	Color xcolor.RGB
}

// TextWidth returns the width in pixels of label when scrolled.
func TextWidth(label string) int {
	return utf8.RuneCountInString(label) * CharAdvance
}

// Scroll lays out label starting at column offset. Each character is coloured
// by sampling the palette at the position of its centre within the label, so
// the gradient stays attached to the text as it moves.
func Scroll(label string, textWidth int, palette xcolor.Palette, offset int) []Draw {
	if label == "" || textWidth <= 0 {
		return nil
	}

	draws := make([]Draw, 0, utf8.RuneCountInString(label))
	i := 0

	for _, r := range label {
		centre := float64(i*CharAdvance) + CharAdvance/2.0

		draws = append(draws, Draw{
			Char:  r,
			X:     offset + i*CharAdvance,
			Color: palette.Sample(centre / float64(textWidth)),
		})
		i++
	}

	return draws
}

// Cursor is the horizontal scroll position of the label.
type Cursor struct {
	OffsetPx     int
	DisplayWidth int
}

// NewCursor returns a cursor positioned just off the right edge.
func NewCursor(displayWidth int) Cursor {
	return Cursor{OffsetPx: displayWidth, DisplayWidth: displayWidth}
}

// Reset moves the label back to the right edge.
func (c *Cursor) Reset() {
	c.OffsetPx = c.DisplayWidth
}

// Advance scrolls one pixel to the left. Once the label has fully left the
// display it starts again from the right edge, so a full cycle takes
// DisplayWidth+textWidth frames.
func (c *Cursor) Advance(textWidth int) {
	c.OffsetPx--

	if c.OffsetPx <= -textWidth {
		c.Reset()
	}
}
