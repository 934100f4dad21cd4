// Package scheduler runs deferred, best-effort jobs with a minimum
// latency and a maximum deadline. Pending jobs survive restarts in a
// CBOR file. A job whose deadline passes before it could run is dropped
// silently, and a job is removed from the store before its handler runs,
// so every job runs at most once and callers get no completion signal.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/theoremus-urban-solutions/location-tracking/internal/atomicfile"
)

var jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "locationtracker_scheduler_jobs_total",
	Help: "Scheduled jobs by kind and outcome (dispatched, expired, unhandled).",
}, []string{"kind", "outcome"})

// Handler runs a due job.
type Handler func(ctx context.Context, job Job)

// Options configures a Scheduler.
type Options struct {
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Scheduler keeps pending jobs and dispatches them from Run.
type Scheduler struct {
	path  string
	clock clockwork.Clock
	log   *slog.Logger

	mu       sync.Mutex
	jobs     map[string]Job
	handlers map[string]Handler
	wake     chan struct{}
	inflight sync.WaitGroup
}

// Open loads pending jobs from path. An empty path keeps jobs in memory
// only. A corrupt store is logged and treated as empty.
func Open(path string, opts Options) (*Scheduler, error) {
	s := &Scheduler{
		path:     path,
		clock:    opts.Clock,
		log:      opts.Logger,
		jobs:     map[string]Job{},
		handlers: map[string]Handler{},
		wake:     make(chan struct{}, 1),
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "scheduler")

	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading job store: %w", err)
	}
	jobs, err := decodeJobs(data)
	if err != nil {
		s.log.Warn("job store unreadable, starting empty", "path", path, "error", err)
		return s, nil
	}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s, nil
}

// Handle registers the handler for a job kind, replacing any previous one.
func (s *Scheduler) Handle(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Schedule adds or replaces job id. It becomes runnable after minLatency
// and is dropped if it has not run within deadline.
func (s *Scheduler) Schedule(id, kind string, minLatency, deadline time.Duration) error {
	if id == "" || kind == "" {
		return errors.New("scheduler: job id and kind are required")
	}
	if minLatency < 0 || deadline < minLatency {
		return fmt.Errorf("scheduler: invalid window %v..%v", minLatency, deadline)
	}
	now := s.clock.Now()
	job := Job{
		ID:          id,
		Kind:        kind,
		ScheduledAt: now,
		NotBefore:   now.Add(minLatency),
		Deadline:    now.Add(deadline),
	}

	s.mu.Lock()
	s.jobs[id] = job
	err := s.persistLocked()
	s.mu.Unlock()

	s.poke()
	if err != nil {
		return err
	}
	s.log.Debug("job scheduled", "id", id, "kind", kind, "not_before", job.NotBefore, "deadline", job.Deadline)
	return nil
}

// Cancel removes job id. Cancelling an unknown job succeeds.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return nil
	}
	delete(s.jobs, id)
	return s.persistLocked()
}

// Pending returns the jobs not yet dispatched, earliest first.
func (s *Scheduler) Pending() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sortJobs(out)
	return out
}

// Run dispatches jobs until ctx is done, then waits for running handlers.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.inflight.Wait()
	for {
		s.runDue(ctx)

		var timer clockwork.Timer
		var fire <-chan time.Time
		if next, ok := s.nextWake(); ok {
			timer = s.clock.NewTimer(next.Sub(s.clock.Now()))
			fire = timer.Chan()
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-s.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) nextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	found := false
	for _, j := range s.jobs {
		if !found || j.NotBefore.Before(next) {
			next = j.NotBefore
			found = true
		}
	}
	return next, found
}

// runDue drops expired jobs and dispatches due ones. Jobs leave the
// durable store before their handler starts.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var due []Job
	changed := false
	for id, j := range s.jobs {
		switch {
		case j.Expired(now):
			delete(s.jobs, id)
			changed = true
			jobsProcessed.WithLabelValues(j.Kind, "expired").Inc()
			s.log.Debug("job expired before it could run", "id", id, "kind", j.Kind, "deadline", j.Deadline)
		case j.Due(now):
			delete(s.jobs, id)
			changed = true
			due = append(due, j)
		}
	}
	if changed {
		if err := s.persistLocked(); err != nil {
			s.log.Error("persisting job store failed", "error", err)
		}
	}
	handlers := make(map[string]Handler, len(due))
	for _, j := range due {
		handlers[j.Kind] = s.handlers[j.Kind]
	}
	s.mu.Unlock()

	sortJobs(due)
	for _, j := range due {
		h := handlers[j.Kind]
		if h == nil {
			jobsProcessed.WithLabelValues(j.Kind, "unhandled").Inc()
			s.log.Warn("no handler for job kind", "id", j.ID, "kind", j.Kind)
			continue
		}
		jobsProcessed.WithLabelValues(j.Kind, "dispatched").Inc()
		s.inflight.Add(1)
		go s.dispatch(ctx, h, j)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, h Handler, j Job) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job handler panicked", "id", j.ID, "kind", j.Kind, "panic", r)
		}
	}()
	h(ctx, j)
}

func (s *Scheduler) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if len(s.jobs) == 0 {
		return atomicfile.Remove(s.path)
	}
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sortJobs(jobs)
	data, err := encodeJobs(jobs)
	if err != nil {
		return fmt.Errorf("encoding job store: %w", err)
	}
	if err := atomicfile.Write(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing job store: %w", err)
	}
	return nil
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].NotBefore.Equal(jobs[k].NotBefore) {
			return jobs[i].NotBefore.Before(jobs[k].NotBefore)
		}
		return jobs[i].ID < jobs[k].ID
	})
}
