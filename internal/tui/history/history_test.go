package history

import (
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadytls/internal/runner"
	"steadytls/internal/stats"
	"steadytls/internal/storage"
	"steadytls/internal/target"
)

func TestRows(t *testing.T) {
	rows := Rows([]storage.HistoryItem{{
		ID:        "a",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
		Target:    target.Config{URL: "https://example.com/"},
		Run:       runner.RunConfig{VUs: 3},
		Summary: stats.Summary{
			Requests:    4,
			Errors:      1,
			Percentiles: []stats.Percentile{{Quantile: 99, Value: 1500 * time.Microsecond}},
		},
	}})
	require.Len(t, rows, 1)
	assert.Equal(t, "https://example.com/", rows[0][1])
	assert.Equal(t, "-", rows[0][2])
	assert.Equal(t, "3", rows[0][3])
	assert.Equal(t, "25.0", rows[0][5])
	assert.Equal(t, "1.50", rows[0][6])
}

func TestModel_DetailAndDelete(t *testing.T) {
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(storage.HistoryItem{ID: "a", Timestamp: time.Now(), Target: target.Config{URL: "https://a/"}}))

	m := NewModel(store)
	require.Len(t, m.Items, 1)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, m.Detail)
	assert.Contains(t, m.View(), "https://a/")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	assert.Nil(t, m.Detail)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	m = next.(Model)
	assert.Empty(t, m.Items)
	assert.Contains(t, m.View(), "No runs recorded yet.")
}
