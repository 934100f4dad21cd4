package gtfsrt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

// Source is the tag stored with every fix from this provider.
const Source = "gtfsrt"

// ProviderConfig configures a vehicle position poller.
type ProviderConfig struct {
	VehiclePositionsURL string
	VehicleID           string
	Timeout             time.Duration
	Clock               clockwork.Clock
	Logger              *slog.Logger
}

// Provider polls a VehiclePositions feed and reports one vehicle's
// position whenever the feed shows a newer measurement.
type Provider struct {
	url       string
	vehicleID string
	client    *Client
	clock     clockwork.Clock
	log       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProvider validates cfg and returns an unregistered provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.VehiclePositionsURL == "" {
		return nil, errors.New("gtfsrt: vehicle positions URL is required")
	}
	if cfg.VehicleID == "" {
		return nil, errors.New("gtfsrt: vehicle id is required")
	}
	p := &Provider{
		url:       cfg.VehiclePositionsURL,
		vehicleID: cfg.VehicleID,
		client:    NewClient(cfg.Timeout),
		clock:     cfg.Clock,
		log:       cfg.Logger,
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("component", "gtfsrt", "vehicle", cfg.VehicleID)
	return p, nil
}

func (p *Provider) Source() string { return Source }

// Register polls the feed immediately and then every MinInterval.
func (p *Provider) Register(ctx context.Context, params tracking.PlatformParams, deliver tracking.DeliverFunc) error {
	interval := params.MinInterval()
	if interval <= 0 {
		return errors.New("gtfsrt: poll interval must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("gtfsrt: already registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	ticker := p.clock.NewTicker(interval)
	go p.poll(runCtx, ticker, deliver, done)
	p.log.Info("polling vehicle positions", "url", p.url, "interval", interval)
	return nil
}

// Deregister stops polling. Safe to call repeatedly.
func (p *Provider) Deregister(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) poll(ctx context.Context, ticker clockwork.Ticker, deliver tracking.DeliverFunc, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	var last *VehicleFix
	check := func() {
		fm, err := p.client.FetchFeed(ctx, p.url)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn("fetching vehicle positions failed", "error", err)
			}
			return
		}
		vf, ok := FindVehicle(fm, p.vehicleID)
		if !ok {
			p.log.Debug("vehicle not present in feed")
			return
		}
		if last != nil && !advanced(*last, vf) {
			return
		}
		last = &vf
		deliver([]tracking.RawFix{vf.Fix})
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			check()
		}
	}
}

// advanced reports whether next is a newer measurement than prev. Feeds
// without timestamps are compared by position.
func advanced(prev, next VehicleFix) bool {
	if prev.Timestamp != 0 || next.Timestamp != 0 {
		return next.Timestamp > prev.Timestamp
	}
	return prev.Fix.Latitude != next.Fix.Latitude || prev.Fix.Longitude != next.Fix.Longitude
}
