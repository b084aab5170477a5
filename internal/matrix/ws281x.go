package matrix

import (
	"fmt"
	"strings"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// WS281xOptions configures a strip driven directly from the Pi's PWM pin.
type WS281xOptions struct {
	// ColorOrder is the order the chips expect on the wire, e.g. "grb".
	ColorOrder   string
	GPIOPin      int
	DMAChannel   int
	PWMFrequency uint
	NumPixels    int
}

// wireOrder converts a colour order such as "grb" into channel positions.
func wireOrder(order string) ([3]int, error) {
	order = strings.ToLower(order)
	if len(order) != 3 {
		return [3]int{}, fmt.Errorf("invalid color order %q", order)
	}

	var (
		idx  [3]int
		seen [3]bool
	)

	for i, ch := range order {
		var c int

		switch ch {
		case 'r':
			c = 0
		case 'g':
			c = 1
		case 'b':
			c = 2
		default:
			return [3]int{}, fmt.Errorf("invalid color order %q", order)
		}

		if seen[c] {
			return [3]int{}, fmt.Errorf("invalid color order %q", order)
		}

		seen[c] = true
		idx[i] = c
	}

	return idx, nil
}

// permute arranges c so that a driver emitting B, G, R puts the channels on
// the wire in the given order.
func permute(order [3]int, c xcolor.RGB) xcolor.RGB {
	ch := [3]uint8{c.R, c.G, c.B}

	return xcolor.RGB{R: ch[order[2]], G: ch[order[1]], B: ch[order[0]]}
}
