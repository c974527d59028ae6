// Package collector provides the shared run lifecycle for every periodic
// collector: single-flight gating, retry with doubling delay, snapshot
// publication and best-effort metadata reporting.
//
// Concrete collectors implement the small Source capability and stay free
// of store and scheduling concerns; all shared logic lives in the Runner,
// not in a type hierarchy.
package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"kaos.obsgrid.org/common"
	"kaos.obsgrid.org/store"
)

// Publication is one keyed snapshot produced by a collect. Most collectors
// return a single publication; multi-key collectors (GFS) return several,
// and a failure publishing one must not abort the siblings.
type Publication struct {
	Key   string
	Value any
	TTL   time.Duration
}

// Source is the capability every periodic collector implements. Collect
// must be pure with respect to the store: it fetches and decodes, nothing
// else.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]Publication, error)
}

// Spec declares a collector's cadence and retry budget.
type Spec struct {
	Interval      time.Duration
	RetryAttempts int           // re-attempts after the initial try
	RetryDelay    time.Duration // initial delay, doubled per failure
}

// errorThreshold is the consecutive-failure count at which a collector's
// status degrades from "degraded" to "error".
const errorThreshold = 3

// Runner wraps a Source with the shared run lifecycle.
type Runner struct {
	source Source
	spec   Spec
	store  store.Store

	running           atomic.Bool
	consecutiveErrors atomic.Int64
}

// NewRunner builds a Runner for the given source.
func NewRunner(source Source, spec Spec, st store.Store) *Runner {
	if spec.RetryDelay <= 0 {
		spec.RetryDelay = 2 * time.Second
	}
	return &Runner{source: source, spec: spec, store: st}
}

// Name returns the collector's registration name.
func (r *Runner) Name() string { return r.source.Name() }

// Interval returns the collector's cadence.
func (r *Runner) Interval() time.Duration { return r.spec.Interval }

// Running reports whether a run is currently in flight.
func (r *Runner) Running() bool { return r.running.Load() }

// ErrorCount returns the current consecutive-failure count.
func (r *Runner) ErrorCount() int { return int(r.consecutiveErrors.Load()) }

// TryRun executes one run unless one is already in flight, in which case it
// logs and returns immediately. It never panics through and never returns
// an error to the caller; failures are absorbed into metadata.
func (r *Runner) TryRun(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		common.Logger.WithField("collector", r.Name()).Debug("run already in flight, skipping")
		return
	}
	defer r.running.Store(false)

	log := common.Logger.WithField("collector", r.Name())
	start := time.Now()

	pubs, err := r.collectWithRetry(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			log.Debug("run cancelled")
			return
		}
		r.recordFailure(ctx, log, err)
		return
	}

	if err := r.publish(ctx, log, pubs); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			log.Debug("run cancelled during publish")
			return
		}
		r.recordFailure(ctx, log, err)
		return
	}

	r.consecutiveErrors.Store(0)
	r.reportMeta(ctx, log, store.StatusOK, 0)
	log.WithFields(logrus.Fields{
		"keys":     len(pubs),
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Info("run complete")
}

// collectWithRetry calls Collect up to RetryAttempts+1 times, doubling the
// delay between failures.
func (r *Runner) collectWithRetry(ctx context.Context) ([]Publication, error) {
	var lastErr error
	delay := r.spec.RetryDelay

	for attempt := 0; attempt <= r.spec.RetryAttempts; attempt++ {
		pubs, err := r.source.Collect(ctx)
		if err == nil {
			return pubs, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < r.spec.RetryAttempts {
			common.Logger.WithFields(logrus.Fields{
				"collector": r.Name(),
				"attempt":   attempt + 1,
				"delay":     delay.String(),
			}).WithError(err).Warn("collect failed, retrying")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
	}
	return nil, lastErr
}

// publish writes every publication. One failing write does not stop the
// remaining ones, but any failure marks the run failed; the first error is
// the run error.
func (r *Runner) publish(ctx context.Context, log *logrus.Entry, pubs []Publication) error {
	var firstErr error
	for _, pub := range pubs {
		if err := r.store.Put(ctx, pub.Key, pub.Value, pub.TTL); err != nil {
			log.WithField("key", pub.Key).WithError(err).Error("snapshot publish failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.WithField("key", pub.Key).Debug("snapshot published")
	}
	return firstErr
}

func (r *Runner) recordFailure(ctx context.Context, log *logrus.Entry, err error) {
	count := int(r.consecutiveErrors.Add(1))
	status := store.StatusDegraded
	if count >= errorThreshold {
		status = store.StatusError
	}
	log.WithFields(logrus.Fields{
		"consecutive_errors": count,
		"status":             status,
	}).WithError(err).Error("run failed")
	r.reportMeta(ctx, log, status, count)
}

// reportMeta is fire-and-forget: metadata problems never fail a run.
func (r *Runner) reportMeta(ctx context.Context, log *logrus.Entry, status string, count int) {
	if err := r.store.SetMeta(ctx, r.Name(), status, count); err != nil {
		log.WithError(err).Warn("metadata write failed")
	}
}
