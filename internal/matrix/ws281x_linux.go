//go:build linux

package matrix

import (
	"fmt"
	"sync"

	"libdb.so/ledctl"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// WS281xSink drives a WS2811/WS2812 strip through the Pi's PWM and DMA
// hardware. It needs access to /dev/mem.
type WS281xSink struct {
	set    func(int, xcolor.RGB)
	flush  func() error
	pixels []xcolor.RGB
	order  [3]int
	mu     sync.Mutex
}

func NewWS281xSink(opts WS281xOptions) (*WS281xSink, error) {
	order, err := wireOrder(opts.ColorOrder)
	if err != nil {
		return nil, err
	}

	strip, err := ledctl.NewWS281x(ledctl.WS281xConfig{
		NumPixels: opts.NumPixels,
		// Channel order is applied by permute so any wiring works with one
		// driver order.
		ColorOrder:   ledctl.BGROrder,
		ColorModel:   ledctl.RGBModel,
		PWMFrequency: opts.PWMFrequency,
		DMAChannel:   opts.DMAChannel,
		GPIOPins:     []int{opts.GPIOPin},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create a WS281x controller: %w", err)
	}

	return &WS281xSink{
		set: func(i int, c xcolor.RGB) {
			strip.SetRGBAt(i, ledctl.RGB(c))
		},
		flush:  strip.Flush,
		pixels: make([]xcolor.RGB, opts.NumPixels),
		order:  order,
	}, nil
}

func (s *WS281xSink) SetPixel(index int, c xcolor.RGB) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index >= 0 && index < len(s.pixels) {
		s.pixels[index] = c
	}
}

func (s *WS281xSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.pixels)
}

func (s *WS281xSink) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.pixels {
		s.set(i, permute(s.order, c))
	}

	if err := s.flush(); err != nil {
		return fmt.Errorf("failed to write pixels: %w", err)
	}

	return nil
}

// Close turns the strip off.
func (s *WS281xSink) Close() error {
	s.Clear()

	return s.Present()
}
