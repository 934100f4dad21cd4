// Package supervisor keeps a tracking session alive across process death
// and reboot. It holds the wake guarantee while a background session
// runs, leaves a session marker on disk, schedules a deferred restart
// when the process is torn down mid-session, and restarts tracking on
// boot.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/theoremus-urban-solutions/location-tracking/internal/atomicfile"
	"github.com/theoremus-urban-solutions/location-tracking/scheduler"
)

// Restart job identity. The ID is fixed so rescheduling replaces any
// pending restart instead of queueing another.
const (
	RestartJobID   = "session-restart"
	RestartJobKind = "session.restart"
)

const markerFileName = "session.json"

var (
	restartsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locationtracker_supervisor_restarts_scheduled_total",
		Help: "Restart jobs scheduled, by trigger.",
	}, []string{"trigger"})

	wakeLockHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locationtracker_supervisor_wake_lock_held",
		Help: "1 while the wake guarantee is held.",
	})
)

// Session is the part of the controller the supervisor drives.
type Session interface {
	Start(ctx context.Context) error
}

// Scheduler queues deferred restarts.
type Scheduler interface {
	Schedule(id, kind string, minLatency, deadline time.Duration) error
}

// Config configures a Supervisor.
type Config struct {
	StateDir          string
	RestartMinLatency time.Duration
	RestartDeadline   time.Duration
	WakeLock          WakeLock
	Scheduler         Scheduler
	Source            string
	Clock             clockwork.Clock
	Logger            *slog.Logger
}

// Supervisor implements the continuation guarantee for background
// sessions.
type Supervisor struct {
	markerPath string
	minLatency time.Duration
	deadline   time.Duration
	wakeLock   WakeLock
	scheduler  Scheduler
	source     string
	clock      clockwork.Clock
	log        *slog.Logger

	mu      sync.Mutex
	held    bool
	session Session
}

// New returns a supervisor. The session to restart is attached later
// with Bind, since the controller itself depends on the supervisor.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("supervisor: scheduler is required")
	}
	if cfg.StateDir == "" {
		return nil, errors.New("supervisor: state directory is required")
	}
	if cfg.RestartDeadline < cfg.RestartMinLatency {
		return nil, fmt.Errorf("supervisor: restart deadline %v precedes min latency %v",
			cfg.RestartDeadline, cfg.RestartMinLatency)
	}
	s := &Supervisor{
		markerPath: filepath.Join(cfg.StateDir, markerFileName),
		minLatency: cfg.RestartMinLatency,
		deadline:   cfg.RestartDeadline,
		wakeLock:   cfg.WakeLock,
		scheduler:  cfg.Scheduler,
		source:     cfg.Source,
		clock:      cfg.Clock,
		log:        cfg.Logger,
	}
	if s.wakeLock == nil {
		s.wakeLock = NopWakeLock{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "supervisor")
	return s, nil
}

// Bind attaches the session restarted on boot and on restart jobs.
func (s *Supervisor) Bind(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

// MarkerPath is where the session marker lives.
func (s *Supervisor) MarkerPath() string { return s.markerPath }

// Held reports whether the continuation guarantee is currently held.
func (s *Supervisor) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Ensure acquires the wake guarantee and writes the session marker.
// Calls while already held are no-ops.
func (s *Supervisor) Ensure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return nil
	}

	if err := s.wakeLock.Acquire(); err != nil {
		return err
	}
	marker := Marker{
		SessionID: uuid.NewString(),
		StartedAt: s.clock.Now().UTC(),
		Source:    s.source,
		PID:       os.Getpid(),
	}
	if err := WriteMarker(s.markerPath, marker); err != nil {
		if rerr := s.wakeLock.Release(); rerr != nil {
			s.log.Warn("releasing wake lock after marker failure", "error", rerr)
		}
		return fmt.Errorf("writing session marker: %w", err)
	}
	s.held = true
	wakeLockHeld.Set(1)
	s.log.Info("continuation guaranteed", "session_id", marker.SessionID)
	return nil
}

// Release drops the wake guarantee and removes the marker, once per
// acquisition. Extra calls are no-ops.
func (s *Supervisor) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		return nil
	}
	s.held = false
	wakeLockHeld.Set(0)

	err := s.wakeLock.Release()
	if rerr := atomicfile.Remove(s.markerPath); rerr != nil {
		err = errors.Join(err, rerr)
	}
	s.log.Info("continuation released")
	return err
}

// OnTerminating is called when the process is about to exit. If a
// session holds the guarantee it schedules a restart and drops the wake
// lock, keeping the marker for the next process.
func (s *Supervisor) OnTerminating() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		return
	}
	s.scheduleRestartLocked("terminating")

	s.held = false
	wakeLockHeld.Set(0)
	if err := s.wakeLock.Release(); err != nil {
		s.log.Warn("releasing wake lock on termination failed", "error", err)
	}
}

// OnBootCompleted starts tracking regardless of the state at shutdown.
func (s *Supervisor) OnBootCompleted(ctx context.Context) error {
	session := s.boundSession()
	if session == nil {
		return errors.New("supervisor: no session bound")
	}
	s.log.Info("boot completed, starting tracking")
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("starting session after boot: %w", err)
	}
	return nil
}

// OnTaskDue handles a restart job. Failures are logged only.
func (s *Supervisor) OnTaskDue(ctx context.Context, job scheduler.Job) {
	session := s.boundSession()
	if session == nil {
		s.log.Warn("restart job due but no session bound", "job", job.ID)
		return
	}
	s.log.Info("restart job due, starting tracking", "job", job.ID, "scheduled_at", job.ScheduledAt)
	if err := session.Start(ctx); err != nil {
		s.log.Error("restart failed", "error", err)
	}

	// A restarted session that did not take the guarantee again leaves
	// the previous process's marker behind; drop it so the next startup
	// does not schedule yet another restart.
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		if err := atomicfile.Remove(s.markerPath); err != nil {
			s.log.Warn("removing stale session marker failed", "error", err)
		}
	}
}

// Recover runs at process start. A leftover marker means the previous
// process died holding the guarantee, so a restart is scheduled. It
// reports whether a restart was scheduled.
func (s *Supervisor) Recover(ctx context.Context) bool {
	marker, err := ReadMarker(s.markerPath)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		s.log.Warn("unreadable session marker, scheduling restart anyway", "error", err)
	} else {
		s.log.Info("previous session did not stop cleanly",
			"session_id", marker.SessionID, "started_at", marker.StartedAt, "pid", marker.PID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return false
	}
	s.scheduleRestartLocked("recover")
	return true
}

func (s *Supervisor) scheduleRestartLocked(trigger string) {
	// Fire and forget: a restart that never runs is accepted.
	if err := s.scheduler.Schedule(RestartJobID, RestartJobKind, s.minLatency, s.deadline); err != nil {
		s.log.Warn("scheduling restart failed", "trigger", trigger, "error", err)
		return
	}
	restartsScheduled.WithLabelValues(trigger).Inc()
	s.log.Info("restart scheduled", "trigger", trigger, "min_latency", s.minLatency, "deadline", s.deadline)
}

func (s *Supervisor) boundSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}
