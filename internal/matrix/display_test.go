package matrix

import (
	"errors"
	"sync"
	"testing"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/layout"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/render"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

// MockSink records what a display manager writes.
type MockSink struct {
	presentError error
	pixels       map[int]xcolor.RGB
	presents     int
	clears       int
	closed       bool
	mu           sync.Mutex
}

func NewMockSink() *MockSink {
	return &MockSink{pixels: make(map[int]xcolor.RGB)}
}

func (m *MockSink) SetPixel(index int, c xcolor.RGB) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pixels[index] = c
}

func (m *MockSink) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clears++
	clear(m.pixels)
}

func (m *MockSink) Present() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.presentError != nil {
		return m.presentError
	}

	m.presents++

	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

func (m *MockSink) Pixel(index int) (xcolor.RGB, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.pixels[index]

	return c, ok
}

func (m *MockSink) Presents() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.presents
}

func (m *MockSink) SetPresentError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.presentError = err
}

func newTestDisplay(t *testing.T, brightness uint8) (*DisplayManager, *MockSink) {
	t.Helper()

	sink := NewMockSink()

	dm, err := NewDisplayManager(sink, layout.Default(), brightness)
	if err != nil {
		t.Fatalf("NewDisplayManager() error = %v", err)
	}

	return dm, sink
}

func TestNewDisplayManagerInvalidLayout(t *testing.T) {
	l := layout.Default()
	l.ChunkWidth = 5

	if _, err := NewDisplayManager(NewMockSink(), l, 255); err == nil {
		t.Error("NewDisplayManager() should reject an invalid layout")
	}
}

func TestDisplayManagerShowMapsPixels(t *testing.T) {
	dm, sink := newTestDisplay(t, 255)

	f := render.NewFrame(32, 8)
	f.Set(0, 0, xcolor.White)
	f.Set(1, 0, xcolor.RGB{R: 10})
	f.Set(8, 0, xcolor.RGB{G: 20})

	presented, err := dm.Show(f)
	if err != nil || !presented {
		t.Fatalf("Show() = %v, %v", presented, err)
	}

	// Default wiring: even columns run down, odd columns run up, chunks of 8
	// columns follow each other.
	want := map[int]xcolor.RGB{
		0:  xcolor.White,
		15: {R: 10},
		64: {G: 20},
	}

	for idx, c := range want {
		if got, ok := sink.Pixel(idx); !ok || got != c {
			t.Errorf("pixel %d = %v (%v), want %v", idx, got, ok, c)
		}
	}

	if len(sink.pixels) != len(want) {
		t.Errorf("sink has %d lit pixels, want %d", len(sink.pixels), len(want))
	}
}

func TestDisplayManagerSkipsUnchangedFrames(t *testing.T) {
	dm, sink := newTestDisplay(t, 255)

	f := render.NewFrame(32, 8)
	f.Set(3, 3, xcolor.White)

	for i := 0; i < 3; i++ {
		if _, err := dm.Show(f); err != nil {
			t.Fatalf("Show() error = %v", err)
		}
	}

	if sink.Presents() != 1 {
		t.Errorf("presents = %d, want 1", sink.Presents())
	}

	state := dm.State()
	if state.Presented != 1 || state.Skipped != 2 {
		t.Errorf("State() = %+v", state)
	}

	f.Set(4, 4, xcolor.White)

	if presented, _ := dm.Show(f); !presented {
		t.Error("Show() should present a changed frame")
	}

	dm.SetBrightness(100)

	if presented, _ := dm.Show(f); !presented {
		t.Error("Show() should present after a brightness change")
	}
}

func TestDisplayManagerBrightness(t *testing.T) {
	dm, sink := newTestDisplay(t, 8)

	f := render.NewFrame(32, 8)
	f.Set(0, 0, xcolor.RGB{R: 255, G: 128, B: 0})

	if _, err := dm.Show(f); err != nil {
		t.Fatalf("Show() error = %v", err)
	}

	want := xcolor.RGB{R: 255, G: 128}.Scale(8)
	if got, _ := sink.Pixel(0); got != want {
		t.Errorf("pixel 0 = %v, want %v", got, want)
	}
}

func TestDisplayManagerPresentError(t *testing.T) {
	dm, sink := newTestDisplay(t, 255)
	sink.SetPresentError(errors.New("unplugged"))

	f := render.NewFrame(32, 8)

	if _, err := dm.Show(f); err == nil {
		t.Fatal("Show() should report sink errors")
	}

	if dm.Healthy() == nil || dm.State().LastError == "" {
		t.Error("a failed present should be recorded")
	}

	sink.SetPresentError(nil)

	if presented, err := dm.Show(f); err != nil || !presented {
		t.Errorf("Show() after recovery = %v, %v; the same frame must be retried", presented, err)
	}

	if dm.Healthy() != nil {
		t.Errorf("Healthy() = %v after recovery", dm.Healthy())
	}
}

func TestDisplayManagerWrongFrameSize(t *testing.T) {
	dm, _ := newTestDisplay(t, 255)

	if _, err := dm.Show(render.NewFrame(16, 8)); err == nil {
		t.Error("Show() should reject a frame of the wrong size")
	}
}

func TestDisplayManagerBlankAndClose(t *testing.T) {
	dm, sink := newTestDisplay(t, 255)

	f := render.NewFrame(32, 8)
	f.Set(0, 0, xcolor.White)
	dm.Show(f)

	if err := dm.Blank(); err != nil {
		t.Fatalf("Blank() error = %v", err)
	}

	if _, ok := sink.Pixel(0); ok {
		t.Error("Blank() left a pixel lit")
	}

	// A blanked display must redraw the same frame.
	if presented, _ := dm.Show(f); !presented {
		t.Error("Show() after Blank() should present")
	}

	if err := dm.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !sink.closed {
		t.Error("Close() should close the sink")
	}
}

func TestDisplayManagerSetLayout(t *testing.T) {
	dm, sink := newTestDisplay(t, 255)

	l := layout.Layout{Width: 32, Height: 8, Start: layout.TopLeft, Major: layout.Rows, Sequence: layout.Progressive}
	if err := dm.SetLayout(l); err != nil {
		t.Fatalf("SetLayout() error = %v", err)
	}

	f := render.NewFrame(32, 8)
	f.Set(1, 0, xcolor.White)
	dm.Show(f)

	if _, ok := sink.Pixel(1); !ok {
		t.Error("row-major progressive layout should map (1,0) to index 1")
	}

	if dm.Layout() != l {
		t.Errorf("Layout() = %v, want %v", dm.Layout(), l)
	}
}
