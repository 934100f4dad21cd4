// Package tracestore persists the trace log: one pretty-printed JSON
// array of tracked locations, rewritten whole and replaced atomically on
// every append.
package tracestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/location-tracking/internal/atomicfile"
	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

// ErrIOFailure wraps every persistence failure surfaced to callers.
var ErrIOFailure = errors.New("trace store I/O failure")

// DefaultFileName is the artifact name used when no path is configured.
const DefaultFileName = "tracked_locations.json"

// Store is a file-backed trace log. Append, ReadAll and Clear are
// mutually exclusive.
type Store struct {
	path string
	log  *slog.Logger
	now  func() time.Time

	mu sync.Mutex
}

// New returns a store for the artifact at path. The file is not touched
// until the first operation.
func New(path string, logger *slog.Logger) *Store {
	if path == "" {
		path = DefaultFileName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path: path,
		log:  logger.With("component", "tracestore"),
		now:  time.Now,
	}
}

// Append adds loc to the end of the log. On failure the previous content
// is left intact.
func (s *Store) Append(loc tracking.TrackedLocation) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.appendLocked(loc)
	appendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		appendFailures.Inc()
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

func (s *Store) appendLocked(loc tracking.TrackedLocation) error {
	locs, err := s.readLocked()
	var corrupt *corruptError
	switch {
	case errors.As(err, &corrupt):
		// Keep the unparseable bytes for inspection instead of
		// overwriting them.
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if rerr := os.Rename(s.path, aside); rerr != nil {
			return fmt.Errorf("moving corrupt log aside: %w", rerr)
		}
		s.log.Warn("trace log was corrupt, starting a new one", "moved_to", aside, "error", corrupt.err)
		locs = nil
	case err != nil:
		return err
	}

	locs = append(locs, loc)
	data, err := json.MarshalIndent(locs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding trace log: %w", err)
	}
	return atomicfile.Write(s.path, data, 0o644)
}

// ReadAll returns every record, oldest first. A missing, blank or
// corrupt artifact reads as empty; only other I/O errors are returned.
func (s *Store) ReadAll() ([]tracking.TrackedLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locs, err := s.readLocked()
	var corrupt *corruptError
	if errors.As(err, &corrupt) {
		s.log.Warn("trace log is corrupt, returning empty trace", "path", s.path, "error", corrupt.err)
		return []tracking.TrackedLocation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if locs == nil {
		locs = []tracking.TrackedLocation{}
	}
	return locs, nil
}

// Clear removes the artifact. Clearing an empty store succeeds.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicfile.Remove(s.path); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

// Export returns the artifact path for sharing. The file may not exist
// when nothing has been recorded.
func (s *Store) Export() string { return s.path }

type corruptError struct{ err error }

func (e *corruptError) Error() string { return "corrupt trace log: " + e.err.Error() }

func (s *Store) readLocked() ([]tracking.TrackedLocation, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trace log: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var locs []tracking.TrackedLocation
	if err := json.Unmarshal(data, &locs); err != nil {
		return nil, &corruptError{err: err}
	}
	return locs, nil
}
