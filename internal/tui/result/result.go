package result

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"steadytls/internal/outcome"
	"steadytls/internal/stats"
	"steadytls/internal/tui/styles"
)

type Model struct {
	Title   string
	Summary stats.Summary
	Note    string

	Width  int
	Height int
}

func NewModel(title string, s stats.Summary) Model {
	return Model{Title: title, Summary: s}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func (m Model) View() string {
	s := strings.Builder{}
	sum := m.Summary

	s.WriteString(styles.Title.Render(m.Title))
	s.WriteString("\n\n")

	overview := fmt.Sprintf(
		"Requests:   %d\nSuccesses:  %d\nErrors:     %s\nHTTP 4xx/5xx: %d\nRetries:    %d\nBytes:      %d\nWall time:  %s\nThroughput: %.2f req/s",
		sum.Requests, sum.Successes,
		styles.ForErrorRate(sum.ErrorRate()).Render(fmt.Sprintf("%d (%.2f%%)", sum.Errors, sum.ErrorRate())),
		sum.HTTPErrors, sum.Retries, sum.Bytes,
		sum.WallTime.Round(time.Millisecond), sum.Throughput,
	)

	lat := strings.Builder{}
	fmt.Fprintf(&lat, "Min:  %.2f ms\nMean: %.2f ms\n", ms(sum.Min), ms(sum.Mean))
	for _, p := range sum.Percentiles {
		fmt.Fprintf(&lat, "P%-3g: %.2f ms\n", p.Quantile, ms(p.Value))
	}
	fmt.Fprintf(&lat, "Max:  %.2f ms", ms(sum.Max))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(styles.Active.Render("Overview")+"\n"+overview),
		styles.Box.Render(styles.Active.Render("Latency (total)")+"\n"+lat.String()),
	))

	if len(sum.ErrorKinds) > 0 {
		errs := strings.Builder{}
		for _, k := range outcome.Kinds() {
			if n := sum.ErrorKinds[k]; n > 0 {
				fmt.Fprintf(&errs, "\n%d x %s", n, k)
			}
		}
		s.WriteString("\n")
		s.WriteString(styles.Box.Render(styles.Error.Render("Failures") + errs.String()))
	}

	if m.Note != "" {
		s.WriteString("\n")
		s.WriteString(styles.Warn.Render(m.Note))
	}
	return s.String()
}
