// Package window shows the matrix in a desktop window. It is kept apart from
// the preview package so the daemon binary does not link a GUI toolkit.
package window

import (
	"image/color"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/layout"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/preview"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

const DefaultScale = 20

var background = color.RGBA{R: 16, G: 16, B: 16, A: 255}

// Window is a matrix sink backed by a fyne raster. ShowAndRun must be called
// from the main goroutine.
type Window struct {
	*preview.Canvas
	app    fyne.App
	win    fyne.Window
	raster *canvas.Raster
	shown  []xcolor.RGB
	width  int
	height int
	mu     sync.RWMutex
}

func New(title string, l layout.Layout, scale int) (*Window, error) {
	c, err := preview.NewCanvas(l)
	if err != nil {
		return nil, err
	}

	if scale <= 0 {
		scale = DefaultScale
	}

	w := &Window{
		Canvas: c,
		app:    app.New(),
		shown:  make([]xcolor.RGB, l.Count()),
		width:  l.Width,
		height: l.Height,
	}

	w.raster = canvas.NewRasterWithPixels(w.pixel)
	w.raster.ScaleMode = canvas.ImageScalePixels

	w.win = w.app.NewWindow(title)
	w.win.SetContent(w.raster)
	w.win.Resize(fyne.NewSize(float32(l.Width*scale), float32(l.Height*scale)))

	return w, nil
}

// pixel draws each LED as a square with a one pixel dark gap around it.
func (w *Window) pixel(x, y, width, height int) color.Color {
	if width <= 0 || height <= 0 {
		return background
	}

	lx := x * w.width / width
	ly := y * w.height / height

	cellW := width / w.width
	cellH := height / w.height

	if cellW > 2 && cellH > 2 && (x%cellW == 0 || y%cellH == 0) {
		return background
	}

	w.mu.RLock()
	c := w.shown[ly*w.width+lx]
	w.mu.RUnlock()

	if c.IsBlack() {
		return background
	}

	return c.ToRGBA()
}

func (w *Window) Present() error {
	pix := w.Snapshot()

	w.mu.Lock()
	copy(w.shown, pix)
	w.mu.Unlock()

	fyne.Do(w.raster.Refresh)

	return nil
}

// ShowAndRun blocks until the window is closed.
func (w *Window) ShowAndRun() {
	w.win.ShowAndRun()
}

func (w *Window) Close() error {
	fyne.Do(w.app.Quit)

	return nil
}
