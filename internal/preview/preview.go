// Package preview provides sinks that show the matrix somewhere other than
// LEDs: a terminal, a websocket stream or (in the window subpackage) a
// desktop window. Each one undoes the layout so the picture appears the way
// the physical matrix would.
package preview

import (
	"errors"
	"fmt"
	"sync"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/layout"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

var errTooLarge = errors.New("matrix too large to preview")

// Canvas holds a logical picture written through physical indices.
type Canvas struct {
	inverse []int
	pix     []xcolor.RGB
	width   int
	height  int
	mu      sync.Mutex
}

func NewCanvas(l layout.Layout) (*Canvas, error) {
	inverse, err := l.Inverse()
	if err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}

	return &Canvas{
		inverse: inverse,
		pix:     make([]xcolor.RGB, len(inverse)),
		width:   l.Width,
		height:  l.Height,
	}, nil
}

func (c *Canvas) SetPixel(index int, col xcolor.RGB) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index >= 0 && index < len(c.inverse) {
		c.pix[c.inverse[index]] = col
	}
}

func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.pix)
}

// Snapshot copies the logical picture, row by row.
func (c *Canvas) Snapshot() []xcolor.RGB {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]xcolor.RGB(nil), c.pix...)
}

func (c *Canvas) Size() (width, height int) {
	return c.width, c.height
}
