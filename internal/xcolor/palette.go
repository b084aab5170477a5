package xcolor

import "math"

// Palette is an ordered list of colours used as a gradient source.
type Palette []RGB

// Sample returns the colour at position t along the palette gradient.
//
// t is clamped to [0, 1] and NaN is treated as 0. An empty palette yields
// White and a single-entry palette yields its only entry for every t.
func (p Palette) Sample(t float64) RGB {
	switch len(p) {
	case 0:
		return White
	case 1:
		return p[0]
	}

	if math.IsNaN(t) || t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	last := len(p) - 1
	scaled := t * float64(last)
	i := int(math.Floor(scaled))
	f := scaled - float64(i)

	i = clampIndex(i, last)
	j := clampIndex(i+1, last)

	a, b := p[i], p[j]
	return RGB{
		R: lerp(a.R, b.R, f),
		G: lerp(a.G, b.G, f),
		B: lerp(a.B, b.B, f),
	}
}

// At returns the entry at index i, wrapping around the palette. An empty
// palette yields White.
func (p Palette) At(i int) RGB {
	if len(p) == 0 {
		return White
	}
	i %= len(p)
	if i < 0 {
		i += len(p)
	}
	return p[i]
}

// Clone returns a copy that does not share backing storage with p.
func (p Palette) Clone() Palette {
	if p == nil {
		return nil
	}
	out := make(Palette, len(p))
	copy(out, p)
	return out
}

func clampIndex(i, last int) int {
	if i < 0 {
		return 0
	}
	if i > last {
		return last
	}
	return i
}

func lerp(a, b uint8, f float64) uint8 {
	v := math.Round(float64(a) + (float64(b)-float64(a))*f)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
