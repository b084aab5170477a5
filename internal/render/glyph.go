package render

import (
	"image/color"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// DefaultBaseline puts 5x7 capitals on rows 0-6 of an 8 row matrix, leaving
// the bottom row for the progress bar.
const DefaultBaseline = 6

// Rasterizer draws characters into a frame with a tinyfont font.
type Rasterizer struct {
	Font     tinyfont.Fonter
	Baseline int
}

// NewRasterizer returns a rasterizer using a 5x7 font, so CharAdvance leaves
// one blank column between characters.
func NewRasterizer(baseline int) Rasterizer {
	return Rasterizer{Font: &proggy.TinySZ8pt7b, Baseline: baseline}
}

// Draw rasterizes every draw that can touch the frame.
func (r Rasterizer) Draw(f *Frame, draws []Draw) {
	c := &frameCanvas{frame: f}

	for _, d := range draws {
		if d.X >= f.Width || d.X+CharAdvance <= 0 {
			continue
		}

		tinyfont.DrawChar(c, r.Font, int16(d.X), int16(r.Baseline), d.Char, d.Color.ToRGBA())
	}
}

// frameCanvas lets tinyfont draw into a Frame.
type frameCanvas struct {
	frame *Frame
}

func (c *frameCanvas) Size() (x, y int16) {
	return int16(c.frame.Width), int16(c.frame.Height)
}

func (c *frameCanvas) SetPixel(x, y int16, col color.RGBA) {
	c.frame.Set(int(x), int(y), xcolor.RGB{R: col.R, G: col.G, B: col.B})
}

func (c *frameCanvas) Display() error {
	return nil
}
