package preview

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/layout"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

const (
	litCell   = "██"
	unlitCell = "··"
)

var (
	unlitStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3f3f46"))
	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#52525b"))
)

// Terminal redraws the matrix in place on a terminal, one cell per LED.
type Terminal struct {
	*Canvas
	out   io.Writer
	lines int
	mu    sync.Mutex
}

func NewTerminal(out io.Writer, l layout.Layout) (*Terminal, error) {
	canvas, err := NewCanvas(l)
	if err != nil {
		return nil, err
	}

	return &Terminal{Canvas: canvas, out: out}, nil
}

// Render returns the current picture as styled text.
func (t *Terminal) Render() string {
	pix := t.Snapshot()
	width, height := t.Size()

	var sb strings.Builder

	for y := 0; y < height; y++ {
		if y > 0 {
			sb.WriteByte('\n')
		}

		for x := 0; x < width; x++ {
			sb.WriteString(cell(pix[y*width+x]))
		}
	}

	return borderStyle.Render(sb.String())
}

func cell(c xcolor.RGB) string {
	if c.IsBlack() {
		return unlitStyle.Render(unlitCell)
	}

	return lipgloss.NewStyle().Foreground(lipgloss.Color(c.String())).Render(litCell)
}

// Present draws the picture, overwriting the previous one.
func (t *Terminal) Present() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	frame := t.Render()

	var sb strings.Builder
	if t.lines > 0 {
		fmt.Fprintf(&sb, "\x1b[%dA\r", t.lines)
	}

	sb.WriteString(frame)
	sb.WriteByte('\n')

	t.lines = strings.Count(frame, "\n") + 1

	if _, err := io.WriteString(t.out, sb.String()); err != nil {
		return fmt.Errorf("failed to draw preview: %w", err)
	}

	return nil
}

func (t *Terminal) Close() error {
	return nil
}
