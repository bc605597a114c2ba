// Package tui is the interactive terminal front end: a live dashboard
// during a run, the result screen afterwards, and the history browser.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"steadytls/internal/runner"
	"steadytls/internal/stats"
	"steadytls/internal/storage"
	"steadytls/internal/tui/history"
	"steadytls/internal/tui/live"
	"steadytls/internal/tui/result"
	"steadytls/internal/tui/styles"
)

type runResult struct {
	Summary stats.Summary
	Err     error
}

type doneMsg runResult

// Model drives one run.
type Model struct {
	Runner  *runner.Runner
	Updates runner.StatsUpdateChan
	done    <-chan runResult

	Live   live.Model
	Result *result.Model
	Final  *runResult

	Quitting bool
	Width    int
	Height   int
}

func NewModel(r *runner.Runner, updates runner.StatsUpdateChan, done <-chan runResult) Model {
	return Model{
		Runner:  r,
		Updates: updates,
		done:    done,
		Live:    live.NewModel(r.Config()),
	}
}

func waitForUpdate(sub runner.StatsUpdateChan) tea.Cmd {
	return func() tea.Msg {
		return <-sub
	}
}

func waitForDone(done <-chan runResult) tea.Cmd {
	return func() tea.Msg {
		return doneMsg(<-done)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.Updates), waitForDone(m.done))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// First press drains, second quits.
			if m.Final != nil || m.Runner.State() == runner.StateDraining {
				m.Quitting = true
				return m, tea.Quit
			}
			m.Runner.Stop()
			m.Live, _ = m.Live.Update(m.Runner.State())
			return m, nil
		}

	case stats.Snapshot:
		var cmd tea.Cmd
		m.Live, _ = m.Live.Update(m.Runner.State())
		m.Live, cmd = m.Live.Update(msg)
		if m.Final != nil {
			return m, cmd
		}
		return m, tea.Batch(cmd, waitForUpdate(m.Updates))

	case doneMsg:
		res := runResult(msg)
		m.Final = &res
		r := result.NewModel("📊 Run Complete", res.Summary)
		if res.Err != nil {
			r.Note = res.Err.Error()
		}
		m.Result = &r
		return m, nil
	}

	var cmd tea.Cmd
	m.Live, cmd = m.Live.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}
	s := strings.Builder{}
	t := m.Runner.Target()
	s.WriteString(styles.Title.Render("🚀 steadytls"))
	s.WriteString("\n")
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("%s %s | run %s", t.EffectiveMethod(), t.URL, m.Runner.ID())))
	s.WriteString("\n\n")

	if m.Result != nil {
		s.WriteString(m.Result.View())
		s.WriteString("\n\n")
		s.WriteString(styles.RenderKey("q", "quit"))
		return s.String()
	}
	s.WriteString(m.Live.View())
	s.WriteString("\n\n")
	s.WriteString(styles.RenderKey("q", "stop"))
	return s.String()
}

// Run executes r under the dashboard and returns its result once the run
// has completed, even if the user quits the UI early.
func Run(ctx context.Context, r *runner.Runner, updates runner.StatsUpdateChan) (stats.Summary, error) {
	done := make(chan runResult, 1)
	final := make(chan runResult, 1)
	go func() {
		s, err := r.Run(ctx)
		res := runResult{s, err}
		done <- res
		final <- res
	}()

	p := tea.NewProgram(NewModel(r, updates, done), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		r.Stop()
		<-final
		return stats.Summary{}, fmt.Errorf("dashboard: %w", err)
	}

	r.Stop()
	res := <-final
	return res.Summary, res.Err
}

// RunHistory opens the history browser over store.
func RunHistory(store *storage.Store) error {
	p := tea.NewProgram(history.NewModel(store), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
