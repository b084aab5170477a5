// Package matrix drives LED hardware. A Sink receives physical pixel indices
// and the DisplayManager maps logical frames onto it.
package matrix

import (
	"errors"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// Sink is a strip of addressable pixels. SetPixel and Clear only stage
// changes; Present makes them visible.
type Sink interface {
	SetPixel(index int, c xcolor.RGB)
	Clear()
	Present() error
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) SetPixel(int, xcolor.RGB) {}
func (NopSink) Clear()                   {}
func (NopSink) Present() error           { return nil }
func (NopSink) Close() error             { return nil }

// MultiSink mirrors every call to each of its sinks.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) SetPixel(index int, c xcolor.RGB) {
	for _, s := range m.sinks {
		s.SetPixel(index, c)
	}
}

func (m *MultiSink) Clear() {
	for _, s := range m.sinks {
		s.Clear()
	}
}

// Present presents every sink even when one fails, and reports all failures.
func (m *MultiSink) Present() error {
	var errs []error

	for _, s := range m.sinks {
		if err := s.Present(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m *MultiSink) Close() error {
	var errs []error

	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
