//go:build !linux

package matrix

import (
	"errors"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

var errWS281xUnsupported = errors.New("ws281x sink is only supported on linux")

type WS281xSink struct{}

func NewWS281xSink(WS281xOptions) (*WS281xSink, error) {
	return nil, errWS281xUnsupported
}

func (*WS281xSink) SetPixel(int, xcolor.RGB) {}
func (*WS281xSink) Clear()                   {}
func (*WS281xSink) Present() error           { return errWS281xUnsupported }
func (*WS281xSink) Close() error             { return nil }
