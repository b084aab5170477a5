package render

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// Idle draws a travelling sine wave whose hue drifts over time. It is shown
// instead of a blank display while nothing is playing.
type Idle struct {
	// Period is the wavelength in columns.
	Period float64
	// Speed is the phase advance per step in radians.
	Speed float64
	// HueStep is the hue advance per step in degrees.
	HueStep float64
	// HueSpread is the hue difference across the width in degrees.
	HueSpread float64
	// Brightness is the HSV value in [0, 1].
	Brightness float64

	phase float64
	hue   float64
}

// NewIdle returns the default wave.
func NewIdle() *Idle {
	return &Idle{
		Period:     16,
		Speed:      0.25,
		HueStep:    2,
		HueSpread:  90,
		Brightness: 1,
	}
}

// Step advances the animation by one frame.
func (a *Idle) Step() {
	a.phase = math.Mod(a.phase+a.Speed, 2*math.Pi)
	a.hue = math.Mod(a.hue+a.HueStep, 360)
}

// Row returns the wave row for column x on a display of the given height. It
// is always within [0, height).
func (a *Idle) Row(x, height int) int {
	if height <= 1 {
		return 0
	}

	period := a.Period
	if period <= 0 {
		period = 16
	}

	amp := float64(height-1) / 2
	y := int(math.Round(amp * (1 + math.Sin(2*math.Pi*float64(x)/period+a.phase))))

	return min(max(y, 0), height-1)
}

// Color returns the wave colour at column x.
func (a *Idle) Color(x, width int) xcolor.RGB {
	h := a.hue
	if width > 1 {
		h += a.HueSpread * float64(x) / float64(width-1)
	}

	v := a.Brightness
	if v <= 0 || v > 1 {
		v = 1
	}

	r, g, b := colorful.Hsv(math.Mod(h, 360), 1, v).RGB255()

	return xcolor.RGB{R: r, G: g, B: b}
}

// Draw paints the current wave into f without clearing it.
func (a *Idle) Draw(f *Frame) {
	for x := 0; x < f.Width; x++ {
		f.Set(x, a.Row(x, f.Height), a.Color(x, f.Width))
	}
}
