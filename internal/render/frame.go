// Package render produces matrix frames: scrolling track text coloured from a
// palette gradient, a progress bar, and an idle animation for when nothing is
// playing.
package render

import "github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"

// Frame is a logical Width x Height pixel buffer, row-major from the top-left.
type Frame struct {
	Pix    []xcolor.RGB
	Width  int
	Height int
}

// NewFrame allocates a blank frame.
func NewFrame(width, height int) *Frame {
	if width < 0 {
		width = 0
	}

	if height < 0 {
		height = 0
	}

	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]xcolor.RGB, width*height),
	}
}

// In reports whether (x, y) lies inside the frame.
func (f *Frame) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < f.Width && y < f.Height
}

// Set colours one pixel. Pixels outside the frame are ignored and reported as
// false.
func (f *Frame) Set(x, y int, c xcolor.RGB) bool {
	if !f.In(x, y) {
		return false
	}

	f.Pix[y*f.Width+x] = c

	return true
}

// At returns the pixel at (x, y), or black outside the frame.
func (f *Frame) At(x, y int) xcolor.RGB {
	if !f.In(x, y) {
		return xcolor.Black
	}

	return f.Pix[y*f.Width+x]
}

// Clear turns every pixel off.
func (f *Frame) Clear() {
	clear(f.Pix)
}

// Lit counts pixels that are not black.
func (f *Frame) Lit() int {
	n := 0

	for _, c := range f.Pix {
		if !c.IsBlack() {
			n++
		}
	}

	return n
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{Width: f.Width, Height: f.Height, Pix: make([]xcolor.RGB, len(f.Pix))}
	copy(out.Pix, f.Pix)

	return out
}
