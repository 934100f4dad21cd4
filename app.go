package locationtracking

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/theoremus-urban-solutions/location-tracking/config"
	"github.com/theoremus-urban-solutions/location-tracking/gpsd"
	"github.com/theoremus-urban-solutions/location-tracking/gtfsrt"
	"github.com/theoremus-urban-solutions/location-tracking/notify"
	"github.com/theoremus-urban-solutions/location-tracking/scheduler"
	"github.com/theoremus-urban-solutions/location-tracking/supervisor"
	"github.com/theoremus-urban-solutions/location-tracking/tracestore"
	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

const jobStoreFileName = "jobs.cbor"

// Deps overrides collaborators that are otherwise built from config.
// The zero value is valid.
type Deps struct {
	Provider   tracking.FixProvider
	Permission tracking.PermissionGate
	WakeLock   supervisor.WakeLock
	Clock      clockwork.Clock
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// App wires the tracker together and exposes the operations the
// presentation layer needs.
type App struct {
	cfg        config.AppConfig
	log        *slog.Logger
	store      *tracestore.Store
	scheduler  *scheduler.Scheduler
	supervisor *supervisor.Supervisor
	notifier   *notify.Notifier
	controller *tracking.Controller
	forwarder  *notify.Subscription
	vehicleID  string
}

// New builds an App from validated configuration.
func New(cfg config.AppConfig, deps Deps) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	accuracy, err := tracking.ParseAccuracy(cfg.Tracking.Accuracy)
	if err != nil {
		return nil, err
	}
	opts := tracking.Options{
		Interval:          cfg.Tracking.Interval,
		Accuracy:          accuracy,
		BackgroundEnabled: cfg.Tracking.BackgroundEnabled(),
		LogInternally:     cfg.Tracking.LogsInternally(),
	}

	provider := deps.Provider
	if provider == nil {
		provider, err = newProvider(cfg.Provider, clk, logger)
		if err != nil {
			return nil, err
		}
	}

	permission := deps.Permission
	if permission == nil {
		status, err := tracking.ParsePermissionStatus(cfg.Permission.Status)
		if err != nil {
			return nil, err
		}
		onRequest, err := tracking.ParsePermissionStatus(cfg.Permission.OnRequest)
		if err != nil {
			return nil, err
		}
		permission = tracking.NewStaticPermissionGate(status, onRequest)
	}

	wakeLock := deps.WakeLock
	if wakeLock == nil {
		wakeLock = supervisor.NopWakeLock{}
		if cfg.Supervisor.WakeLockPath != "" {
			wakeLock = supervisor.FileWakeLock{Path: cfg.Supervisor.WakeLockPath}
		}
	}

	sched, err := scheduler.Open(filepath.Join(cfg.Supervisor.StateDir, jobStoreFileName), scheduler.Options{
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening scheduler: %w", err)
	}

	sup, err := supervisor.New(supervisor.Config{
		StateDir:          cfg.Supervisor.StateDir,
		RestartMinLatency: cfg.Supervisor.RestartMinLatency,
		RestartDeadline:   cfg.Supervisor.RestartDeadline,
		WakeLock:          wakeLock,
		Scheduler:         sched,
		Source:            provider.Source(),
		Clock:             clk,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	store := tracestore.New(cfg.Store.Path, logger)
	notifier := notify.New(0, logger)

	ctrl, err := tracking.NewController(tracking.Config{
		Options:      opts,
		Permission:   permission,
		Provider:     provider,
		Store:        store,
		Notifier:     notifier,
		Continuation: sup,
		Clock:        clk,
		Logger:       logger,
		QueueSize:    cfg.Tracking.QueueSize,
	})
	if err != nil {
		return nil, err
	}
	sup.Bind(ctrl)
	sched.Handle(supervisor.RestartJobKind, sup.OnTaskDue)

	a := &App{
		cfg:        cfg,
		log:        logger,
		store:      store,
		scheduler:  sched,
		supervisor: sup,
		notifier:   notifier,
		controller: ctrl,
		vehicleID:  exportVehicleID(cfg),
	}

	if !opts.LogInternally {
		if cfg.Forward.URL == "" {
			logger.Warn("internal logging is disabled and no forward url is set; fixes are only streamed live")
		} else {
			fwd := NewForwarder(cfg.Forward.URL, time.Duration(cfg.Forward.TimeoutMS)*time.Millisecond, deps.HTTPClient)
			a.forwarder = notifier.Subscribe(fwd.Handle)
		}
	}
	return a, nil
}

func newProvider(cfg config.ProviderConfig, clk clockwork.Clock, logger *slog.Logger) (tracking.FixProvider, error) {
	switch cfg.Kind {
	case "", "gpsd":
		return gpsd.New(cfg.GPSD.Path, logger), nil
	case "gtfsrt":
		return gtfsrt.NewProvider(gtfsrt.ProviderConfig{
			VehiclePositionsURL: cfg.GTFSRT.VehiclePositionsURL,
			VehicleID:           cfg.GTFSRT.VehicleID,
			Timeout:             time.Duration(cfg.GTFSRT.TimeoutMS) * time.Millisecond,
			Clock:               clk,
			Logger:              logger,
		})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

func exportVehicleID(cfg config.AppConfig) string {
	if id := cfg.Provider.GTFSRT.VehicleID; id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "device"
}

// Start begins tracking.
func (a *App) Start(ctx context.Context) error { return a.controller.Start(ctx) }

// Stop ends tracking and releases the background guarantee.
func (a *App) Stop(ctx context.Context) error { return a.controller.Stop(ctx) }

// IsTracking reports whether fixes are being received.
func (a *App) IsTracking() bool { return a.controller.IsTracking() }

// State returns the session state.
func (a *App) State() tracking.State { return a.controller.State() }

// Options returns the session options in effect.
func (a *App) Options() tracking.Options { return a.controller.Options() }

// GetAllLogs returns the recorded trace, oldest first.
func (a *App) GetAllLogs() ([]tracking.TrackedLocation, error) { return a.store.ReadAll() }

// ClearLogs deletes the recorded trace.
func (a *App) ClearLogs() error { return a.store.Clear() }

// ExportLogs returns the path of the trace artifact.
func (a *App) ExportLogs() string { return a.store.Export() }

// ExportGTFSRT renders the recorded trace as a GTFS-Realtime feed.
func (a *App) ExportGTFSRT() ([]byte, error) {
	locs, err := a.store.ReadAll()
	if err != nil {
		return nil, err
	}
	return gtfsrt.EncodeTrace(locs, a.vehicleID)
}

// Subscribe registers a live observer of fixes.
func (a *App) Subscribe(fn notify.Handler) *notify.Subscription { return a.notifier.Subscribe(fn) }

// Unsubscribe removes a live observer.
func (a *App) Unsubscribe(sub *notify.Subscription) { a.notifier.Unsubscribe(sub) }

// Run recovers a session interrupted by a previous process and then runs
// the scheduler until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.supervisor.Recover(ctx) {
		a.log.Info("previous session was interrupted, restart scheduled")
	}
	return a.scheduler.Run(ctx)
}

// OnTerminating prepares for process exit: a background session gets a
// restart scheduled, then ingestion stops.
func (a *App) OnTerminating(ctx context.Context) error {
	a.supervisor.OnTerminating()
	return a.controller.Shutdown(ctx)
}

// OnBootCompleted starts tracking after a host reboot.
func (a *App) OnBootCompleted(ctx context.Context) error {
	return a.supervisor.OnBootCompleted(ctx)
}

// PendingJobs lists scheduled jobs that have not run yet.
func (a *App) PendingJobs() []scheduler.Job { return a.scheduler.Pending() }

// Close detaches all live observers and waits for the forwarder to
// drain.
func (a *App) Close() {
	a.notifier.Close()
	if a.forwarder != nil {
		<-a.forwarder.Done()
	}
}
