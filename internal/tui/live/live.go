package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"steadytls/internal/runner"
	"steadytls/internal/stats"
	"steadytls/internal/tui/components"
	"steadytls/internal/tui/styles"
)

// Model is the in-run dashboard. It is fed stats.Snapshot messages.
type Model struct {
	Cfg      runner.RunConfig
	State    runner.State
	Stats    stats.Snapshot
	Progress progress.Model

	RpsLine     components.Sparkline
	LatencyLine components.Sparkline

	lastReqs    uint64
	lastElapsed time.Duration

	Width  int
	Height int
}

func NewModel(cfg runner.RunConfig) Model {
	return Model{
		Cfg:         cfg,
		Progress:    progress.New(progress.WithDefaultGradient()),
		RpsLine:     components.NewSparkline(40, "RPS", "req/s", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P90", "ms", styles.Warn),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// Percent is how far the run has progressed, 0..1.
func (m Model) Percent() float64 {
	var pct float64
	switch {
	case m.Cfg.Duration > 0:
		pct = float64(m.Stats.Elapsed) / float64(m.Cfg.Duration)
	case m.Cfg.Iterations > 0:
		pct = float64(m.Stats.Requests) / float64(m.Cfg.Iterations*m.Cfg.VUs)
	}
	return min(max(pct, 0), 1)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stats.Snapshot:
		dt := (msg.Elapsed - m.lastElapsed).Seconds()
		if dt > 0 {
			m.RpsLine.Add(float64(msg.Requests-m.lastReqs) / dt)
			m.LatencyLine.Add(float64(msg.P90) / float64(time.Millisecond))
			m.lastReqs = msg.Requests
			m.lastElapsed = msg.Elapsed
		}
		m.Stats = msg
		return m, m.Progress.SetPercent(m.Percent())

	case runner.State:
		m.State = msg
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = max(msg.Width-4, 10)

		half := max((msg.Width/2)-6, 10)
		m.RpsLine.Width = half
		m.LatencyLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func msf(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func (m Model) View() string {
	s := strings.Builder{}

	errRate := m.Stats.ErrorRate()
	col1 := fmt.Sprintf("REQ: %d\nINF: %d", m.Stats.Requests, m.Stats.Inflight)
	col2 := fmt.Sprintf("ERR: %.2f%%\nFAIL: %d", errRate, m.Stats.Fail)
	col3 := fmt.Sprintf("VUS: %d/%d\nCONNS: %d", m.Stats.ActiveVUs, m.Cfg.VUs, m.Stats.Conns)
	col4 := fmt.Sprintf("STATE: %s\nKB: %d", m.State, m.Stats.Bytes/1024)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(styles.ForErrorRate(errRate).Render(col2)),
		styles.Box.Render(col3),
		styles.Box.Render(col4),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n\n")

	latencies := fmt.Sprintf(
		"P50: %.2f ms  |  P90: %.2f ms  |  P99: %.2f ms  |  Max: %.2f ms",
		msf(m.Stats.P50), msf(m.Stats.P90), msf(m.Stats.P99), msf(m.Stats.Max),
	)
	box := styles.Box
	if m.Width > 4 {
		box = box.Width(m.Width - 4)
	}
	s.WriteString(box.Render(latencies))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	s.WriteString(fmt.Sprintf("  %s", m.Stats.Elapsed.Round(time.Second)))

	return s.String()
}
