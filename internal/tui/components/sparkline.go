package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline is a one-row scrolling chart of the last Width values.
type Sparkline struct {
	Data  []float64
	Width int
	Max   float64
	Style lipgloss.Style
	Label string
	Unit  string
}

func NewSparkline(width int, label, unit string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Width: width,
		Label: label,
		Unit:  unit,
		Style: style,
		Data:  make([]float64, 0, width),
	}
}

func (s *Sparkline) Add(val float64) {
	if val < 0 {
		val = 0
	}
	s.Data = append(s.Data, val)
	if s.Width > 0 && len(s.Data) > s.Width {
		s.Data = s.Data[len(s.Data)-s.Width:]
	}

	// Scale to the visible window.
	s.Max = 0
	for _, v := range s.Data {
		s.Max = max(s.Max, v)
	}
}

// Last returns the newest value, or zero.
func (s Sparkline) Last() float64 {
	if len(s.Data) == 0 {
		return 0
	}
	return s.Data[len(s.Data)-1]
}

// Graph renders just the bars, padded to Width.
func (s Sparkline) Graph() string {
	var graph strings.Builder
	for _, v := range s.Data {
		idx := 0
		if s.Max > 0 {
			idx = int(v / s.Max * float64(len(levels)-1))
		}
		idx = min(max(idx, 0), len(levels)-1)
		graph.WriteString(levels[idx])
	}
	if pad := s.Width - len(s.Data); pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}
	return graph.String()
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}
	label := fmt.Sprintf("%s  %.1f %s", s.Label, s.Last(), s.Unit)
	return s.Style.Render(label) + "\n" + s.Style.Render(s.Graph())
}
