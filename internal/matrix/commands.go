package matrix

import (
	"errors"
	"fmt"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// Adalight framing: the magic word, the pixel count minus one as a big-endian
// uint16, a checksum of those two bytes, then one RGB triple per pixel.
const (
	AdalightMagic  = "Ada"
	HeaderSize     = 6
	ChecksumSalt   = 0x55
	MaxFramePixels = 1 << 16
)

var ErrBadHeader = errors.New("bad adalight header")

// Header returns the six header bytes for a frame of count pixels.
func Header(count int) ([HeaderSize]byte, error) {
	if count <= 0 || count > MaxFramePixels {
		return [HeaderSize]byte{}, fmt.Errorf("pixel count %d out of range 1-%d", count, MaxFramePixels)
	}

	hi := byte((count - 1) >> 8)
	lo := byte(count - 1)

	return [HeaderSize]byte{'A', 'd', 'a', hi, lo, hi ^ lo ^ ChecksumSalt}, nil
}

// AppendFrame appends the encoded frame to dst and returns the extended
// buffer.
func AppendFrame(dst []byte, pixels []xcolor.RGB) ([]byte, error) {
	header, err := Header(len(pixels))
	if err != nil {
		return dst, err
	}

	dst = append(dst, header[:]...)

	for _, p := range pixels {
		dst = append(dst, p.R, p.G, p.B)
	}

	return dst, nil
}

// EncodeFrame returns the wire representation of pixels.
func EncodeFrame(pixels []xcolor.RGB) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderSize+3*len(pixels)), pixels)
}

// DecodeFrame parses one complete frame.
func DecodeFrame(data []byte) ([]xcolor.RGB, error) {
	if len(data) < HeaderSize || string(data[:3]) != AdalightMagic {
		return nil, ErrBadHeader
	}

	hi, lo, chk := data[3], data[4], data[5]
	if hi^lo^ChecksumSalt != chk {
		return nil, fmt.Errorf("%w: checksum 0x%02X, want 0x%02X", ErrBadHeader, chk, hi^lo^ChecksumSalt)
	}

	count := (int(hi)<<8 | int(lo)) + 1

	body := data[HeaderSize:]
	if len(body) != 3*count {
		return nil, fmt.Errorf("frame body is %d bytes, want %d", len(body), 3*count)
	}

	pixels := make([]xcolor.RGB, count)
	for i := range pixels {
		pixels[i] = xcolor.RGB{R: body[3*i], G: body[3*i+1], B: body[3*i+2]}
	}

	return pixels, nil
}
