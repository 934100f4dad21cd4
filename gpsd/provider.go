// Package gpsd supplies fixes from a gpsd JSON stream. The provider
// follows a file that `gpspipe -w` appends to, one JSON report per line,
// and turns positioned TPV reports into fixes.
package gpsd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

// Source is the tag stored with every fix from this provider.
const Source = "gpsd"

// Provider follows a gpsd stream file.
type Provider struct {
	path string
	log  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a provider for the stream at path.
func New(path string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		path: filepath.Clean(path),
		log:  logger.With("component", "gpsd", "path", path),
	}
}

func (p *Provider) Source() string { return Source }

// Register starts following the stream from its current end. Fixes are
// throttled to the minimum update interval.
func (p *Provider) Register(ctx context.Context, params tracking.PlatformParams, deliver tracking.DeliverFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("gpsd: already registered")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory so the stream can be created or rotated
	// after registration.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(p.path), err)
	}

	limit := rate.Inf
	if d := params.MinUpdateInterval(); d > 0 {
		limit = rate.Every(d)
	}
	t := &tail{path: p.path}
	if info, err := os.Stat(p.path); err == nil {
		t.offset = info.Size()
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.follow(runCtx, watcher, t, rate.NewLimiter(limit, 1), deliver, done)
	p.log.Info("following gpsd stream", "min_update_interval", params.MinUpdateInterval())
	return nil
}

// Deregister stops following the stream. Safe to call repeatedly.
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

func (p *Provider) follow(ctx context.Context, watcher *fsnotify.Watcher, t *tail, limiter *rate.Limiter, deliver tracking.DeliverFunc, done chan struct{}) {
	defer close(done)
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Has(fsnotify.Create) {
				t.reset()
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			lines, err := t.readLines()
			if err != nil {
				p.log.Warn("reading gpsd stream failed", "error", err)
				continue
			}
			var fixes []tracking.RawFix
			for _, line := range lines {
				fix, ok := parseReport(line)
				if !ok {
					continue
				}
				if !limiter.Allow() {
					continue
				}
				fixes = append(fixes, fix)
			}
			if len(fixes) > 0 {
				deliver(fixes)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("watcher error", "error", err)
		}
	}
}

// tail reads complete lines appended to a file since the last read.
type tail struct {
	path    string
	offset  int64
	partial []byte
}

func (t *tail) reset() {
	t.offset = 0
	t.partial = nil
}

func (t *tail) readLines() ([][]byte, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < t.offset {
		// Truncated in place.
		t.reset()
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(buf[:i]); len(line) > 0 {
			lines = append(lines, line)
		}
		buf = buf[i+1:]
	}
	t.partial = append([]byte(nil), buf...)
	return lines, nil
}
