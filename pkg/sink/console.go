package sink

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/haivivi/autodj/pkg/control"
)

// Theme is the color scheme of the console meter.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is the bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Console renders a bar meter per target to a terminal. It redraws at most
// once per MinInterval and only when values changed.
type Console struct {
	w     io.Writer
	width int

	label lipgloss.Style
	bar   lipgloss.Style
	dim   lipgloss.Style

	// MinInterval throttles redraws.
	MinInterval time.Duration

	mu     sync.Mutex
	last   *control.Values
	lastAt time.Time
}

// NewConsole returns a Console writing to w with bars of the given width.
func NewConsole(w io.Writer, width int, theme Theme) *Console {
	if width <= 0 {
		width = 24
	}
	return &Console{
		w:           w,
		width:       width,
		label:       lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Width(18),
		bar:         lipgloss.NewStyle().Foreground(theme.Primary),
		dim:         lipgloss.NewStyle().Foreground(theme.Dim),
		MinInterval: 100 * time.Millisecond,
	}
}

// Apply implements Sink.
func (c *Console) Apply(_ context.Context, b Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil && !b.Final {
		if !changed(*c.last, b.Values) || b.At.Sub(c.lastAt) < c.MinInterval {
			return nil
		}
	}
	v := b.Values
	c.last, c.lastAt = &v, b.At
	_, err := io.WriteString(c.w, c.Render(b))
	return err
}

// Render formats one batch as meter lines.
func (c *Console) Render(b Batch) string {
	var sb strings.Builder
	for _, t := range control.Targets {
		x := b.Values.At(t)
		filled := int(x*float64(c.width) + 0.5)
		filled = min(max(filled, 0), c.width)
		sb.WriteString(c.label.Render(t.String()))
		sb.WriteString(c.bar.Render(strings.Repeat("█", filled)))
		sb.WriteString(c.dim.Render(strings.Repeat("░", c.width-filled)))
		fmt.Fprintf(&sb, " %.2f\n", x)
	}
	status := fmt.Sprintf("seq %d", b.Seq)
	if b.Final {
		status += " (final)"
	}
	sb.WriteString(c.dim.Render(status))
	sb.WriteString("\n")
	return sb.String()
}
