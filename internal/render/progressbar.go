package render

import "github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"

// ProgressBar fills Rows rows starting at Top from the left in proportion to
// playback progress.
type ProgressBar struct {
	Top  int
	Rows int
}

// Draw lights column x of every bar row while x < ratio*width. Row r of the
// bar takes palette entry r, wrapping when the palette is shorter than the bar.
func (b ProgressBar) Draw(f *Frame, ratio float64, palette xcolor.Palette) {
	if b.Rows <= 0 {
		return
	}

	if !(ratio > 0) {
		return
	}

	if ratio > 1 {
		ratio = 1
	}

	limit := ratio * float64(f.Width)

	for r := 0; r < b.Rows; r++ {
		c := palette.At(r)
		y := b.Top + r

		for x := 0; float64(x) < limit && x < f.Width; x++ {
			f.Set(x, y, c)
		}
	}
}
