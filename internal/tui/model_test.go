package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadytls/internal/runner"
	"steadytls/internal/stats"
	"steadytls/internal/target"
)

func newIdleRunner(t *testing.T) *runner.Runner {
	t.Helper()
	r, err := runner.New(target.Config{URL: "https://localhost/"}, runner.RunConfig{VUs: 1, Duration: time.Second})
	require.NoError(t, err)
	return r
}

func TestModel_FirstQuitDrains(t *testing.T) {
	r := newIdleRunner(t)
	m := NewModel(r, make(runner.StatsUpdateChan, 1), make(chan runResult))

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Equal(t, runner.StateDraining, r.State())
	assert.False(t, m.Quitting)

	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.True(t, m.Quitting)
}

func TestModel_Done(t *testing.T) {
	r := newIdleRunner(t)
	m := NewModel(r, make(runner.StatsUpdateChan, 1), make(chan runResult))

	next, _ := m.Update(doneMsg{Summary: stats.Summary{Requests: 7}})
	m = next.(Model)
	require.NotNil(t, m.Result)
	assert.Contains(t, m.View(), "Run Complete")
	assert.Contains(t, m.View(), "Requests:   7")
}
