package runner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"steadytls/internal/executor"
	"steadytls/internal/outcome"
)

// runVU is one virtual user: acquire, execute, release, repeat. Limits are
// checked only between iterations, so a request in flight is never cut
// short by ctx.
func (r *Runner) runVU(ctx context.Context, id int) {
	r.active.Add(1)
	defer r.active.Add(-1)

	logger := log.WithField("vu", id)
	logger.Debug("VU started")

	var it int
	for ; r.admit(ctx, it); it++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				break
			}
			if !r.admit(ctx, it) {
				break
			}
		}

		rec := r.iterate(id, it)
		r.emit(rec)

		if r.cfg.ThinkTime > 0 {
			t := time.NewTimer(r.cfg.ThinkTime)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
	logger.WithField("iterations", it).Debug("VU finished")
}

func (r *Runner) admit(ctx context.Context, it int) bool {
	if r.cfg.Iterations > 0 && it >= r.cfg.Iterations {
		return false
	}
	return ctx.Err() == nil
}

// iterate performs one request, retrying once on a fresh connection when the
// first attempt lost its connection and time is left.
func (r *Runner) iterate(vu, it int) outcome.Record {
	r.inflight.Add(1)
	defer r.inflight.Add(-1)

	start := time.Now()
	deadline := start.Add(r.cfg.EffectiveTimeout())

	data := TemplateData{VU: vu, Iteration: it, RunID: r.id}
	if r.req.static == nil {
		data.UUID = uuid.NewString()
	}
	req, err := r.req.render(data)
	var rec outcome.Record
	if err != nil {
		rec = failed(&outcome.Error{Kind: outcome.KindProtocol, Op: "render request", Err: err})
	} else {
		rec = r.attempt(req, deadline, false)
		if rec.Kind == outcome.KindConnectionLost && time.Now().Before(deadline) {
			log.WithFields(log.Fields{"vu": vu, "iteration": it}).Debug("Connection lost, retrying")
			rec = r.attempt(req, deadline, true)
			rec.Retried = true
		}
	}

	rec.VU = vu
	rec.Iteration = it
	rec.Start = start
	rec.Timings.Total = time.Since(start)
	return rec
}

func (r *Runner) attempt(req *executor.Request, deadline time.Time, fresh bool) outcome.Record {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	acquire := r.factory.Acquire
	if fresh {
		acquire = r.factory.AcquireFresh
	}
	c, err := acquire(ctx)
	if err != nil {
		return failed(err)
	}
	defer r.factory.Release(c)

	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Nanosecond
	}
	return executor.Execute(c, req, remaining)
}

// failed turns an acquisition error into a record, keeping the phases that
// completed before it.
func failed(err error) outcome.Record {
	rec := outcome.Record{Kind: outcome.KindOf(err), Err: err.Error()}
	var oe *outcome.Error
	if errors.As(err, &oe) {
		rec.Timings = oe.Partial
	}
	if rec.Kind == outcome.KindNone {
		rec.Kind = outcome.KindConnect
	}
	return rec
}

func (r *Runner) emit(rec outcome.Record) {
	r.agg.Record(rec)
	for _, o := range r.observers {
		o.Observe(rec)
	}
	if log.IsLevelEnabled(log.TraceLevel) {
		log.WithFields(log.Fields{
			"vu":        rec.VU,
			"iteration": rec.Iteration,
			"total":     rec.Timings.Total,
		}).Trace(executor.Describe(rec))
	}
}
