// Package xcolor holds the colour types shared by the renderer and the pixel sinks.
package xcolor

import (
	"encoding/json"
	"fmt"
	"image/color"
)

// RGB is a color in the RGB color space. It is represented as 3 8-bit values
// for red, green, and blue.
type RGB struct {
	R, G, B uint8
}

var (
	// White is used wherever a palette cannot supply a colour.
	White = RGB{255, 255, 255}
	// Black is an unlit pixel.
	Black = RGB{}
)

// RGBA implements the color.Color interface.
func (c RGB) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8
	g = uint32(c.G)
	g |= g << 8
	b = uint32(c.B)
	b |= b << 8
	a = 0xFFFF
	return
}

// ToRGBA returns the colour as an opaque color.RGBA.
func (c RGB) ToRGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xFF}
}

// IsBlack reports whether the pixel is off.
func (c RGB) IsBlack() bool {
	return c == Black
}

// Scale dims the colour by level/255. A level of 255 returns c unchanged.
func (c RGB) Scale(level uint8) RGB {
	if level == 255 {
		return c
	}
	l := uint16(level)
	return RGB{
		R: uint8(uint16(c.R) * l / 255),
		G: uint8(uint16(c.G) * l / 255),
		B: uint8(uint16(c.B) * l / 255),
	}
}

// String implements the fmt.Stringer interface.
// It returns the color in hexadecimal notation.
func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// MarshalJSON implements the json.Marshaler interface.
// It marshals RGB as a hexadecimal string.
func (c RGB) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

