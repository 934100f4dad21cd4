package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
)

const defaultQueueSize = 64

// Config wires a Controller. Permission and Provider are required; the
// rest are optional.
type Config struct {
	Options      Options
	Permission   PermissionGate
	Provider     FixProvider
	Store        LocationStore
	Notifier     Publisher
	Continuation Continuation
	Clock        clockwork.Clock
	Logger       *slog.Logger

	// QueueSize bounds the provider-to-ingest queue. Zero means 64.
	QueueSize int
}

// Controller owns the tracking session state machine. All methods are
// safe for concurrent use.
type Controller struct {
	opts         Options
	permission   PermissionGate
	provider     FixProvider
	store        LocationStore
	notifier     Publisher
	continuation Continuation
	clock        clockwork.Clock
	log          *slog.Logger
	queueSize    int

	mu      sync.Mutex
	state   State
	gen     uint64
	session *session

	// inflight is closed when the most recent Start returns.
	inflight chan struct{}
}

type session struct {
	gen    uint64
	cancel context.CancelFunc
	queue  chan TrackedLocation
	done   chan struct{}
}

// NewController validates cfg and returns a stopped controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Permission == nil {
		return nil, errors.New("tracking: permission gate is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("tracking: fix provider is required")
	}
	if cfg.Options.Interval <= 0 {
		return nil, fmt.Errorf("tracking: interval must be positive, got %v", cfg.Options.Interval)
	}
	c := &Controller{
		opts:         cfg.Options,
		permission:   cfg.Permission,
		provider:     cfg.Provider,
		store:        cfg.Store,
		notifier:     cfg.Notifier,
		continuation: cfg.Continuation,
		clock:        cfg.Clock,
		log:          cfg.Logger,
		queueSize:    cfg.QueueSize,
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.queueSize <= 0 {
		c.queueSize = defaultQueueSize
	}
	c.log = c.log.With("component", "tracking", "source", c.provider.Source())
	return c, nil
}

// Options returns the options sessions are started with.
func (c *Controller) Options() Options { return c.opts }

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsTracking reports whether a session is actively receiving fixes.
func (c *Controller) IsTracking() bool { return c.State() == Tracking }

// Start begins a session. It is a no-op while Starting or Tracking. A
// Start that follows a Stop waits until any start aborted by that Stop has
// finished unwinding, so the aborted attempt never touches the new
// session's registration or continuation.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	for c.state == Stopped && c.inflight != nil {
		unwound := c.inflight
		c.mu.Unlock()
		select {
		case <-unwound:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	switch c.state {
	case Starting, Tracking:
		c.mu.Unlock()
		return nil
	case Stopping:
		c.mu.Unlock()
		return ErrSessionStopping
	}
	c.gen++
	gen := c.gen
	done := make(chan struct{})
	c.inflight = done
	c.setStateLocked(Starting)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.inflight == done {
			c.inflight = nil
		}
		c.mu.Unlock()
		close(done)
	}()

	status, err := c.permission.CheckStatus(ctx)
	if err == nil && status != PermissionGranted {
		status, err = c.permission.Request(ctx)
	}
	if err != nil || status != PermissionGranted {
		if !c.revertIfCurrent(gen) {
			return ErrStartAborted
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		c.log.Warn("location permission not granted", "status", status)
		return ErrPermissionDenied
	}
	if !c.isCurrent(gen) {
		return ErrStartAborted
	}

	params := ResolveAccuracy(c.opts.Accuracy, c.opts.Interval)
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		gen:    gen,
		cancel: cancel,
		queue:  make(chan TrackedLocation, c.queueSize),
		done:   make(chan struct{}),
	}
	go c.ingest(sessCtx, sess)

	if err := c.provider.Register(sessCtx, params, c.deliverFunc(sessCtx, sess)); err != nil {
		cancel()
		<-sess.done
		if !c.revertIfCurrent(gen) {
			return ErrStartAborted
		}
		return fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	ensured := false
	if c.opts.BackgroundEnabled && c.continuation != nil && c.isCurrent(gen) {
		if err := c.continuation.Ensure(ctx); err != nil {
			c.log.Error("could not guarantee background continuation", "error", err)
		} else {
			ensured = true
		}
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		// A concurrent Stop already moved the session on. It did not
		// deregister because the state was still Starting, and no newer
		// Start can register until this one returns.
		if err := c.provider.Deregister(ctx); err != nil {
			c.log.Warn("deregister after aborted start failed", "error", err)
		}
		cancel()
		<-sess.done
		if ensured {
			c.releaseContinuation()
		}
		return ErrStartAborted
	}
	c.session = sess
	c.setStateLocked(Tracking)
	c.mu.Unlock()

	c.log.Info("tracking started",
		"interval", c.opts.Interval,
		"accuracy", c.opts.Accuracy,
		"priority", params.Priority,
		"background", c.opts.BackgroundEnabled)
	return nil
}

// Stop ends the session and releases the continuation guarantee. It is a
// no-op while Stopped or Stopping and is safe to call during Start.
func (c *Controller) Stop(ctx context.Context) error {
	return c.stop(ctx, true)
}

// Shutdown ends the session for process teardown. Unlike Stop it keeps
// the continuation guarantee so the session can be restarted by the
// next process.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.stop(ctx, false)
}

func (c *Controller) stop(ctx context.Context, release bool) error {
	c.mu.Lock()
	if c.state == Stopped || c.state == Stopping {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	c.gen++
	c.setStateLocked(Stopping)
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess != nil {
		sess.cancel()
	}
	// An in-flight Start deregisters itself once it sees the new
	// generation.
	if prev == Tracking {
		if err := c.provider.Deregister(ctx); err != nil {
			c.log.Warn("deregister failed", "error", err)
		}
	}
	if sess != nil {
		select {
		case <-sess.done:
		case <-ctx.Done():
			c.log.Warn("ingest did not drain before stop deadline", "error", ctx.Err())
		}
	}
	if release {
		c.releaseContinuation()
	}

	c.mu.Lock()
	c.setStateLocked(Stopped)
	c.mu.Unlock()

	c.log.Info("tracking stopped", "release", release)
	return nil
}

func (c *Controller) releaseContinuation() {
	if c.continuation == nil {
		return
	}
	if err := c.continuation.Release(); err != nil {
		c.log.Warn("releasing continuation failed", "error", err)
	}
}

// revertIfCurrent moves a failed start back to Stopped unless a Stop has
// already taken over. It reports whether gen was still current.
func (c *Controller) revertIfCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.setStateLocked(Stopped)
	return true
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	sessionState.Set(float64(s))
}

func (c *Controller) deliverFunc(ctx context.Context, sess *session) DeliverFunc {
	source := c.provider.Source()
	return func(fixes []RawFix) {
		for _, fix := range fixes {
			fixesReceived.WithLabelValues(source).Inc()
			if !fix.Valid() {
				fixesDiscarded.WithLabelValues("invalid").Inc()
				c.log.Warn("discarding fix with invalid coordinates",
					"latitude", fix.Latitude, "longitude", fix.Longitude)
				continue
			}
			loc := TrackedLocation{
				Timestamp: c.clock.Now().UTC(),
				Latitude:  fix.Latitude,
				Longitude: fix.Longitude,
				Accuracy:  fix.Accuracy,
				Altitude:  fix.Altitude,
				Source:    source,
			}
			select {
			case sess.queue <- loc:
			case <-ctx.Done():
				fixesDiscarded.WithLabelValues("session_ended").Inc()
				return
			}
		}
	}
}

func (c *Controller) ingest(ctx context.Context, sess *session) {
	defer close(sess.done)
	for {
		select {
		case <-ctx.Done():
			return
		case loc := <-sess.queue:
			c.handleFix(sess.gen, loc)
		}
	}
}

func (c *Controller) handleFix(gen uint64, loc TrackedLocation) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic while handling fix", "panic", r)
		}
	}()

	c.mu.Lock()
	accepting := c.gen == gen && (c.state == Starting || c.state == Tracking)
	c.mu.Unlock()
	if !accepting {
		fixesDiscarded.WithLabelValues("not_tracking").Inc()
		return
	}

	if c.opts.LogInternally && c.store != nil {
		if err := c.store.Append(loc); err != nil {
			persistFailures.Inc()
			c.log.Error("failed to persist fix", "error", err)
		} else {
			fixesPersisted.Inc()
		}
	}
	if c.notifier != nil {
		c.notifier.Publish(loc)
	}
}
