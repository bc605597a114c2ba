package runner

import (
	"fmt"

	"steadytls/internal/outcome"
	"steadytls/internal/stats"
)

// Observer receives every outcome record right after the aggregator does.
// Observe is called from virtual user goroutines and must be safe for
// concurrent use.
type Observer interface {
	Observe(rec outcome.Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(outcome.Record)

func (f ObserverFunc) Observe(rec outcome.Record) { f(rec) }

// SnapshotObserver is an optional Observer extension that also receives
// the periodic live snapshot.
type SnapshotObserver interface {
	ObserveSnapshot(s stats.Snapshot)
}

// AbortPolicy is consulted on every snapshot tick. A non-nil error stops
// the run the same way Stop does, and is returned from Run wrapped in
// ErrAborted.
type AbortPolicy interface {
	Check(s stats.Snapshot) error
}

// ErrorRateAbove aborts once the transport error rate exceeds Percent,
// after at least MinRequests have been recorded.
type ErrorRateAbove struct {
	Percent     float64
	MinRequests uint64
}

func (p ErrorRateAbove) Check(s stats.Snapshot) error {
	if s.Requests == 0 || s.Requests < p.MinRequests {
		return nil
	}
	if rate := s.ErrorRate(); rate > p.Percent {
		return fmt.Errorf("error rate %.1f%% above %.1f%% after %d requests", rate, p.Percent, s.Requests)
	}
	return nil
}
