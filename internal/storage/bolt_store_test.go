package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadytls/internal/runner"
	"steadytls/internal/stats"
	"steadytls/internal/target"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func item(id string, ts time.Time) HistoryItem {
	return HistoryItem{
		ID:        id,
		Timestamp: ts,
		Target:    target.Config{URL: "https://example.com/" + id},
		Run:       runner.RunConfig{VUs: 2, Iterations: 5},
		Summary:   stats.Summary{Requests: 10, Successes: 9, Errors: 1},
	}
}

func TestStore_SaveListGet(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	require.NoError(t, s.Save(item("a", base)))
	require.NoError(t, s.Save(item("c", base.Add(2*time.Second))))
	require.NoError(t, s.Save(item("b", base.Add(time.Second))))

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "c", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, "a", items[2].ID)

	got, err := s.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/b", got.Target.URL)
	assert.Equal(t, 2, got.Run.VUs)
	assert.Equal(t, uint64(9), got.Summary.Successes)

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveReplacesSameID(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	require.NoError(t, s.Save(item("a", base)))
	require.NoError(t, s.Save(item("a", base.Add(time.Minute))))

	items, err := s.List()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestStore_Prune(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	for i := 0; i < MaxItems+5; i++ {
		require.NoError(t, s.Save(item(fmt.Sprintf("run-%03d", i), base.Add(time.Duration(i)*time.Second))))
	}
	items, err := s.List()
	require.NoError(t, err)
	assert.Len(t, items, MaxItems)
	assert.Equal(t, fmt.Sprintf("run-%03d", MaxItems+4), items[0].ID)

	_, err = s.Get("run-000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(item("a", time.Now())))
	require.NoError(t, s.Delete("a"))
	assert.ErrorIs(t, s.Delete("a"), ErrNotFound)

	items, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(item("a", time.Now())))
	require.NoError(t, s.Close())

	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
}
