package render

import (
	"testing"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

func TestFrameSetAndAt(t *testing.T) {
	f := NewFrame(4, 3)
	red := xcolor.RGB{R: 255}

	if !f.Set(3, 2, red) {
		t.Fatal("Set() inside frame returned false")
	}

	if f.At(3, 2) != red {
		t.Errorf("At(3,2) = %v, want %v", f.At(3, 2), red)
	}

	for _, p := range [][2]int{{-1, 0}, {4, 0}, {0, 3}, {0, -1}} {
		if f.Set(p[0], p[1], red) {
			t.Errorf("Set(%d,%d) outside frame returned true", p[0], p[1])
		}

		if f.At(p[0], p[1]) != xcolor.Black {
			t.Errorf("At(%d,%d) outside frame should be black", p[0], p[1])
		}
	}

	if f.Lit() != 1 {
		t.Errorf("Lit() = %d, want 1", f.Lit())
	}

	clone := f.Clone()
	f.Clear()

	if f.Lit() != 0 {
		t.Errorf("Lit() after Clear() = %d", f.Lit())
	}

	if clone.Lit() != 1 {
		t.Error("Clone() shares pixels with the original")
	}
}

func TestProgressBar(t *testing.T) {
	palette := xcolor.Palette{{R: 255, G: 0, B: 0}, {R: 0, G: 255, B: 0}}

	tests := []struct {
		name    string
		ratio   float64
		wantLit int
	}{
		{"empty", 0, 0},
		{"negative", -1, 0},
		{"quarter", 0.25, 8},
		{"just over a column", 1.01 / 32, 2},
		{"full", 1, 32},
		{"overflow clamps", 3, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFrame(32, 8)
			bar := ProgressBar{Top: 6, Rows: 2}
			bar.Draw(f, tt.ratio, palette)

			if got := f.Lit(); got != tt.wantLit*2 {
				t.Fatalf("lit pixels = %d, want %d", got, tt.wantLit*2)
			}

			for x := 0; x < tt.wantLit; x++ {
				if f.At(x, 6) != palette[0] || f.At(x, 7) != palette[1] {
					t.Fatalf("column %d colours = %v/%v", x, f.At(x, 6), f.At(x, 7))
				}
			}
		})
	}
}

func TestProgressBarPaletteWraps(t *testing.T) {
	f := NewFrame(4, 3)
	ProgressBar{Top: 0, Rows: 3}.Draw(f, 1, xcolor.Palette{{R: 1, G: 1, B: 1}, {R: 2, G: 2, B: 2}})

	if f.At(0, 2) != (xcolor.RGB{R: 1, G: 1, B: 1}) {
		t.Errorf("third bar row = %v, want first palette entry", f.At(0, 2))
	}

	g := NewFrame(4, 1)
	ProgressBar{Top: 0, Rows: 1}.Draw(g, 1, nil)

	if g.At(3, 0) != xcolor.White {
		t.Errorf("bar without palette = %v, want white", g.At(3, 0))
	}
}

func TestRasterizerClipsToFrame(t *testing.T) {
	f := NewFrame(32, 8)
	r := NewRasterizer(DefaultBaseline)
	r.Draw(f, Scroll("HELLO WORLD", TextWidth("HELLO WORLD"), nil, -20))

	if f.Lit() == 0 {
		t.Fatal("expected visible glyph pixels")
	}

	for x := 0; x < f.Width; x++ {
		if f.At(x, 7) != xcolor.Black {
			t.Errorf("glyph pixel on progress bar row at column %d", x)
		}
	}

	empty := NewFrame(32, 8)
	r.Draw(empty, Scroll("HELLO", TextWidth("HELLO"), nil, 40))

	if empty.Lit() != 0 {
		t.Error("text entirely right of the frame should not draw")
	}
}

func TestRasterizerGlyphCell(t *testing.T) {
	f := NewFrame(12, 8)
	white := xcolor.White
	NewRasterizer(DefaultBaseline).Draw(f, []Draw{{Char: 'H', X: 0, Color: white}, {Char: 'H', X: CharAdvance, Color: white}})

	tests := []struct {
		x, y int
		want xcolor.RGB
	}{
		{0, 0, white},
		{4, 0, white},
		{2, 0, xcolor.Black},
		{2, 3, white},
		{4, 6, white},
		{5, 0, xcolor.Black},
		{5, 3, xcolor.Black},
		{6, 3, white},
		{0, 7, xcolor.Black},
	}

	for _, tt := range tests {
		if got := f.At(tt.x, tt.y); got != tt.want {
			t.Errorf("At(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestIdleStaysInBounds(t *testing.T) {
	for _, height := range []int{1, 2, 7, 8, 16} {
		idle := NewIdle()
		f := NewFrame(32, height)

		for step := 0; step < 200; step++ {
			for x := 0; x < f.Width; x++ {
				if row := idle.Row(x, height); row < 0 || row >= height {
					t.Fatalf("height %d step %d: Row(%d) = %d", height, step, x, row)
				}
			}

			f.Clear()
			idle.Draw(f)

			if f.Lit() != f.Width {
				t.Fatalf("height %d step %d: lit %d pixels, want one per column", height, step, f.Lit())
			}

			idle.Step()
		}
	}
}

func TestIdleHueCycles(t *testing.T) {
	idle := NewIdle()
	before := idle.Color(0, 32)

	for i := 0; i < 30; i++ {
		idle.Step()
	}

	if idle.Color(0, 32) == before {
		t.Error("idle colour should change over time")
	}
}
