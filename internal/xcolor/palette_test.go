package xcolor

import (
	"math"
	"testing"
)

func TestPaletteSampleEmpty(t *testing.T) {
	var p Palette

	for _, pos := range []float64{0, 0.5, 1, -3, 7, math.NaN()} {
		if got := p.Sample(pos); got != White {
			t.Errorf("Sample(%v) on empty palette = %v, want %v", pos, got, White)
		}
	}
}

func TestPaletteSampleSingle(t *testing.T) {
	p := Palette{{12, 34, 56}}

	for i := 0; i <= 100; i++ {
		pos := float64(i) / 100
		if got := p.Sample(pos); got != p[0] {
			t.Fatalf("Sample(%v) = %v, want %v", pos, got, p[0])
		}
	}
}

func TestPaletteSampleEndpoints(t *testing.T) {
	palettes := []Palette{
		{{255, 0, 0}, {0, 0, 255}},
		{{1, 2, 3}, {100, 100, 100}, {250, 10, 0}},
		{{0, 0, 0}, {10, 20, 30}, {40, 50, 60}, {70, 80, 90}, {200, 201, 202}},
	}

	for _, p := range palettes {
		if got := p.Sample(0); got != p[0] {
			t.Errorf("Sample(0) = %v, want %v", got, p[0])
		}

		if got := p.Sample(1); got != p[len(p)-1] {
			t.Errorf("Sample(1) = %v, want %v", got, p[len(p)-1])
		}
	}
}

func TestPaletteSampleInterpolates(t *testing.T) {
	p := Palette{{255, 0, 0}, {0, 0, 255}}

	tests := []struct {
		name string
		pos  float64
		want RGB
	}{
		{"midpoint", 0.5, RGB{128, 0, 128}},
		{"quarter", 0.25, RGB{191, 0, 64}},
		{"below range clamps", -0.5, RGB{255, 0, 0}},
		{"above range clamps", 1.5, RGB{0, 0, 255}},
		{"nan is zero", math.NaN(), RGB{255, 0, 0}},
		{"infinity clamps", math.Inf(1), RGB{0, 0, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Sample(tt.pos); got != tt.want {
				t.Errorf("Sample(%v) = %v, want %v", tt.pos, got, tt.want)
			}
		})
	}
}

func TestPaletteSampleThreeStops(t *testing.T) {
	p := Palette{{0, 0, 0}, {200, 100, 50}, {0, 0, 0}}

	if got, want := p.Sample(0.5), p[1]; got != want {
		t.Errorf("Sample(0.5) = %v, want middle stop %v", got, want)
	}

	if got, want := p.Sample(0.75), (RGB{100, 50, 25}); got != want {
		t.Errorf("Sample(0.75) = %v, want %v", got, want)
	}
}

func TestPaletteAt(t *testing.T) {
	p := Palette{{1, 1, 1}, {2, 2, 2}, {3, 3, 3}}

	tests := []struct {
		index int
		want  RGB
	}{
		{0, RGB{1, 1, 1}},
		{2, RGB{3, 3, 3}},
		{3, RGB{1, 1, 1}},
		{7, RGB{2, 2, 2}},
		{-1, RGB{3, 3, 3}},
	}

	for _, tt := range tests {
		if got := p.At(tt.index); got != tt.want {
			t.Errorf("At(%d) = %v, want %v", tt.index, got, tt.want)
		}
	}

	if got := (Palette{}).At(4); got != White {
		t.Errorf("At on empty palette = %v, want white", got)
	}
}

func TestPaletteClone(t *testing.T) {
	p := Palette{{1, 2, 3}}
	c := p.Clone()
	c[0] = RGB{9, 9, 9}

	if p[0] != (RGB{1, 2, 3}) {
		t.Error("Clone() shares storage with the original palette")
	}

	if Palette(nil).Clone() != nil {
		t.Error("Clone() of nil palette should be nil")
	}
}
