// Package scheduler runs the collector fleet: periodic jobs dispatched from
// a 1-second check loop and long-lived streaming collectors started and
// stopped alongside them.
//
// The two dispatch disciplines stay distinct: periodic collectors are fired
// whenever they are due and not already running, streaming collectors own
// their connections and timers and are only started and stopped. The
// registry is mutable until Start and read-only afterwards.
package scheduler

import (
	"context"
	"sync"
	"time"

	"kaos.obsgrid.org/collector"
	"kaos.obsgrid.org/common"
	"kaos.obsgrid.org/stream"
)

// job is the scheduler's per-collector state. lastRun records dispatch
// time, not completion time, so long-running jobs cannot pile up waves of
// dispatches; the runner's own gate skips ticks that arrive mid-run.
type job struct {
	runner   *collector.Runner
	interval time.Duration
	lastRun  time.Time
}

// JobStatus is the externally visible state of one periodic job.
type JobStatus struct {
	LastRun   int64  `json:"last_run"` // ms since epoch, 0 = never
	IsRunning bool   `json:"is_running"`
	Interval  string `json:"interval"`
}

// Status is the snapshot served by the health endpoint.
type Status struct {
	Running   bool                 `json:"running"`
	Jobs      map[string]JobStatus `json:"jobs"`
	Streaming []string             `json:"streaming"`
}

const tickInterval = time.Second

// Scheduler owns the collector fleet.
type Scheduler struct {
	mu        sync.Mutex
	jobs      []*job
	jobIndex  map[string]int
	streamers []stream.Streamer
	running   bool

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{jobIndex: make(map[string]int)}
}

// Register adds a periodic collector. Registering the same name again
// replaces the prior entry. Must not be called after Start.
func (s *Scheduler) Register(runner *collector.Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &job{runner: runner, interval: runner.Interval()}
	if idx, exists := s.jobIndex[runner.Name()]; exists {
		s.jobs[idx] = entry
		return
	}
	s.jobIndex[runner.Name()] = len(s.jobs)
	s.jobs = append(s.jobs, entry)
}

// RegisterStreaming adds a streaming collector. Repeated registration of
// the same name replaces the prior entry.
func (s *Scheduler) RegisterStreaming(st stream.Streamer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.streamers {
		if existing.Name() == st.Name() {
			s.streamers[i] = st
			return
		}
	}
	s.streamers = append(s.streamers, st)
}

// Start brings the fleet up: streaming collectors first (failures are
// logged, not fatal), then an initial parallel dispatch of every periodic
// job, then the check loop. Every periodic job has begun (its dispatch
// time is set and its goroutine launched) before Start returns.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.mu.Lock()
	s.running = true
	streamers := s.streamers
	jobs := s.jobs
	s.mu.Unlock()

	for _, st := range streamers {
		if err := st.Start(ctx); err != nil {
			common.Logger.WithField("collector", st.Name()).WithError(err).
				Error("streaming collector failed to start")
		} else {
			common.Logger.WithField("collector", st.Name()).Info("streaming collector started")
		}
	}

	now := time.Now()
	for _, j := range jobs {
		s.dispatch(ctx, j, now)
	}

	go s.checkLoop(ctx)
	common.Logger.WithField("jobs", len(jobs)).Info("scheduler started")
}

// checkLoop fires due jobs every second. Dispatch order is registration
// order; due jobs run concurrently.
func (s *Scheduler) checkLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.mu.Lock()
			jobs := s.jobs
			s.mu.Unlock()

			for _, j := range jobs {
				if j.runner.Running() {
					continue
				}
				if now.Sub(s.lastRunOf(j)) >= j.interval {
					s.dispatch(ctx, j, now)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatch records the dispatch time and launches the run.
func (s *Scheduler) dispatch(ctx context.Context, j *job, now time.Time) {
	s.mu.Lock()
	j.lastRun = now
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		j.runner.TryRun(ctx)
	}()
}

func (s *Scheduler) lastRunOf(j *job) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return j.lastRun
}

// Stop cancels the check loop and stops every streaming collector.
// In-flight periodic jobs are not interrupted beyond context cancellation;
// they finish or abort at their next suspension point.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	streamers := s.streamers
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	for _, st := range streamers {
		st.Stop()
	}
	common.Logger.Info("scheduler stopped")
}

// Wait blocks until all dispatched jobs have returned. Used by the
// supervisor's shutdown drain.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Status returns a point-in-time snapshot of the fleet.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:   s.running,
		Jobs:      make(map[string]JobStatus, len(s.jobs)),
		Streaming: make([]string, 0, len(s.streamers)),
	}
	for _, j := range s.jobs {
		var lastRun int64
		if !j.lastRun.IsZero() {
			lastRun = j.lastRun.UnixMilli()
		}
		status.Jobs[j.runner.Name()] = JobStatus{
			LastRun:   lastRun,
			IsRunning: j.runner.Running(),
			Interval:  j.interval.String(),
		}
	}
	for _, st := range s.streamers {
		status.Streaming = append(status.Streaming, st.Name())
	}
	return status
}
