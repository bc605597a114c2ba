package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"steadytls/internal/conn"
	"steadytls/internal/stats"
	"steadytls/internal/target"
)

const DefaultTickInterval = 200 * time.Millisecond

// Option configures a Runner.
type Option func(*Runner)

// WithUpdates sets the channel that receives live snapshots. Sends never
// block; a slow reader just misses ticks.
func WithUpdates(ch StatsUpdateChan) Option {
	return func(r *Runner) { r.updates = ch }
}

func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

func WithAbortPolicy(p AbortPolicy) Option {
	return func(r *Runner) { r.policy = p }
}

func WithTickInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

// Runner is the load scheduler. It owns the connection factory and the
// aggregator for exactly one run.
type Runner struct {
	id      string
	target  target.Config
	cfg     RunConfig
	factory *conn.Factory
	agg     *stats.Aggregator
	req     *requestTemplate
	limiter *rate.Limiter

	updates   StatsUpdateChan
	observers []Observer
	policy    AbortPolicy
	tick      time.Duration

	state     atomic.Int32
	started   atomic.Bool
	startedAt atomic.Int64
	inflight  atomic.Int64
	active    atomic.Int64

	stopCtx  context.Context
	stopFn   context.CancelFunc
	abortMu  sync.Mutex
	abortErr error
}

// New validates both configs and prepares a run. Nothing is dialed until Run.
func New(t target.Config, cfg RunConfig, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	factory, err := conn.NewFactory(t)
	if err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	req, err := newRequestTemplate(NewTemplateEngine(), t, factory.URL(), !t.ReuseConnections)
	if err != nil {
		return nil, fmt.Errorf("invalid request template: %w", err)
	}

	r := &Runner{
		id:      uuid.New().String(),
		target:  t,
		cfg:     cfg,
		factory: factory,
		agg:     stats.NewAggregator(),
		req:     req,
		tick:    DefaultTickInterval,
	}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	r.stopCtx, r.stopFn = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ID is a unique identifier for this run.
func (r *Runner) ID() string { return r.id }

func (r *Runner) Config() RunConfig { return r.cfg }

func (r *Runner) Target() target.Config { return r.target }

func (r *Runner) State() State { return State(r.state.Load()) }

// Stop asks every virtual user to finish its current iteration and exit.
// It is safe to call at any time and more than once.
func (r *Runner) Stop() {
	r.drain("stopped")
}

func (r *Runner) drain(reason string) {
	r.stopFn()
	if r.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) ||
		r.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		log.WithFields(log.Fields{"run": r.id, "reason": reason}).Info("Draining")
	}
}

func (r *Runner) abort(err error) {
	r.abortMu.Lock()
	if r.abortErr == nil {
		r.abortErr = err
	}
	r.abortMu.Unlock()
	r.drain("aborted")
}

// Snapshot returns the live view of the run.
func (r *Runner) Snapshot() stats.Snapshot {
	s := r.agg.Snapshot()
	s.Inflight = r.inflight.Load()
	s.ActiveVUs = r.active.Load()
	s.Conns = r.factory.Live()
	if t := r.startedAt.Load(); t != 0 {
		s.Elapsed = time.Since(time.Unix(0, t))
	}
	return s
}

// Run starts the virtual users and blocks until every one of them has
// exited. Cancelling ctx drains the run; in-flight requests still finish
// or time out. Run may only be called once.
func (r *Runner) Run(ctx context.Context) (stats.Summary, error) {
	if !r.started.CompareAndSwap(false, true) {
		return stats.Summary{}, ErrAlreadyStarted
	}
	defer r.factory.Close()

	start := time.Now()
	r.startedAt.Store(start.UnixNano())
	r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))

	runCtx := r.stopCtx
	if r.cfg.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(r.stopCtx, start.Add(r.cfg.Duration))
		defer cancel()
	}

	logger := log.WithFields(log.Fields{"run": r.id, "url": r.target.URL, "vus": r.cfg.VUs})
	logger.Info("Run started")

	done := make(chan struct{})
	go r.watch(ctx, done)
	go r.tickLoop(done)

	var g errgroup.Group
	for id := 1; id <= r.cfg.VUs; id++ {
		id := id
		g.Go(func() error {
			r.runVU(runCtx, id)
			return nil
		})
	}
	_ = g.Wait()
	wall := time.Since(start)
	close(done)

	r.state.Store(int32(StateCompleted))
	r.agg.Seal(wall)
	summary := r.agg.Finalize()
	r.sendUpdate()

	logger.WithFields(log.Fields{
		"requests": summary.Requests,
		"errors":   summary.Errors,
		"wall":     wall.Round(time.Millisecond),
	}).Info("Run completed")

	r.abortMu.Lock()
	abortErr := r.abortErr
	r.abortMu.Unlock()
	if abortErr != nil {
		return summary, fmt.Errorf("%w: %v", ErrAborted, abortErr)
	}
	return summary, nil
}

// watch turns external cancellation and the end of the duration into a drain.
func (r *Runner) watch(ctx context.Context, done <-chan struct{}) {
	var deadline <-chan time.Time
	if r.cfg.Duration > 0 {
		t := time.NewTimer(r.cfg.Duration)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case <-ctx.Done():
		r.drain("cancelled")
	case <-deadline:
		r.drain("duration elapsed")
	case <-done:
	}
}

func (r *Runner) tickLoop(done <-chan struct{}) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s := r.sendUpdate()
			if r.policy == nil || r.State() != StateRunning {
				continue
			}
			if err := r.policy.Check(s); err != nil {
				log.WithError(err).Warn("Abort policy triggered")
				r.abort(err)
			}
		}
	}
}

func (r *Runner) sendUpdate() stats.Snapshot {
	s := r.Snapshot()
	for _, o := range r.observers {
		if so, ok := o.(SnapshotObserver); ok {
			so.ObserveSnapshot(s)
		}
	}
	if r.updates != nil {
		// Non-blocking send
		select {
		case r.updates <- s:
		default:
		}
	}
	return s
}
