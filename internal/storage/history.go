package storage

import (
	"time"

	"steadytls/internal/runner"
	"steadytls/internal/stats"
	"steadytls/internal/target"
)

// HistoryItem is one finished run.
type HistoryItem struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Target    target.Config    `json:"target"`
	Run       runner.RunConfig `json:"run"`
	Summary   stats.Summary    `json:"summary"`
	Aborted   string           `json:"aborted,omitempty"`
}

// NewHistoryItem captures a finished run.
func NewHistoryItem(r *runner.Runner, s stats.Summary, runErr error) HistoryItem {
	item := HistoryItem{
		ID:        r.ID(),
		Timestamp: time.Now(),
		Target:    r.Target(),
		Run:       r.Config(),
		Summary:   s,
	}
	if runErr != nil {
		item.Aborted = runErr.Error()
	}
	return item
}
