package runner

import (
	"errors"
	"fmt"
	"time"

	"steadytls/internal/stats"
)

// DefaultTimeout applies when RunConfig.Timeout is zero.
const DefaultTimeout = 60 * time.Second

var (
	ErrNoVUs          = errors.New("at least one virtual user is required")
	ErrBothLimits     = errors.New("duration and iterations are mutually exclusive")
	ErrNoLimit        = errors.New("one of duration or iterations is required")
	ErrAlreadyStarted = errors.New("run already started")
	ErrAborted        = errors.New("run aborted")
)

// RunConfig controls how many virtual users run and for how long.
// Exactly one of Duration and Iterations is set.
type RunConfig struct {
	VUs        int
	Duration   time.Duration
	Iterations int
	Timeout    time.Duration

	// RPS caps the combined request rate of all virtual users. Zero means
	// unpaced.
	RPS       float64
	ThinkTime time.Duration
}

func (c RunConfig) Validate() error {
	if c.VUs < 1 {
		return ErrNoVUs
	}
	if c.Duration < 0 || c.Iterations < 0 {
		return fmt.Errorf("duration and iterations must not be negative")
	}
	if c.Duration > 0 && c.Iterations > 0 {
		return ErrBothLimits
	}
	if c.Duration == 0 && c.Iterations == 0 {
		return ErrNoLimit
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", c.Timeout)
	}
	if c.RPS < 0 {
		return fmt.Errorf("rps must not be negative: %g", c.RPS)
	}
	if c.ThinkTime < 0 {
		return fmt.Errorf("think time must not be negative: %s", c.ThinkTime)
	}
	return nil
}

// EffectiveTimeout returns Timeout, or DefaultTimeout when unset.
func (c RunConfig) EffectiveTimeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// State is the scheduler lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateCompleted:
		return "Completed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// StatsUpdateChan carries periodic snapshots to a UI.
type StatsUpdateChan chan stats.Snapshot
