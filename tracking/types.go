package tracking

import (
	"fmt"
	"math"
	"time"
)

// TrackedLocation is one persisted fix. Field names are the on-disk JSON
// keys of the trace log.
type TrackedLocation struct {
	Timestamp time.Time `json:"Timestamp"`
	Latitude  float64   `json:"Latitude"`
	Longitude float64   `json:"Longitude"`
	Accuracy  *float64  `json:"Accuracy"`
	Altitude  *float64  `json:"Altitude"`
	Source    string    `json:"Source"`
}

// RawFix is a position reading as delivered by a fix provider.
type RawFix struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Altitude  *float64
}

// Valid reports whether the coordinates are finite and in range.
func (f RawFix) Valid() bool {
	if math.IsNaN(f.Latitude) || math.IsNaN(f.Longitude) {
		return false
	}
	return f.Latitude >= -90 && f.Latitude <= 90 && f.Longitude >= -180 && f.Longitude <= 180
}

// Float returns a pointer to v, for filling optional fix fields.
func Float(v float64) *float64 { return &v }

// Options is the immutable configuration a session starts with.
type Options struct {
	Interval          time.Duration
	Accuracy          AccuracyProfile
	BackgroundEnabled bool
	LogInternally     bool
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Interval:          5 * time.Minute,
		Accuracy:          AccuracyBalanced,
		BackgroundEnabled: true,
		LogInternally:     true,
	}
}

// State is the session lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Tracking
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Tracking:
		return "tracking"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON responses.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
