package tracking

import (
	"fmt"
	"strings"
	"time"
)

// AccuracyProfile is the caller's accuracy preference, ordered from the
// most power-saving to the most precise.
type AccuracyProfile int

const (
	AccuracyLowest AccuracyProfile = iota
	AccuracyLow
	AccuracyBalanced
	AccuracyHigh
	AccuracyBest
)

var accuracyNames = map[AccuracyProfile]string{
	AccuracyLowest:   "lowest",
	AccuracyLow:      "low",
	AccuracyBalanced: "balanced",
	AccuracyHigh:     "high",
	AccuracyBest:     "best",
}

func (a AccuracyProfile) String() string {
	if name, ok := accuracyNames[a]; ok {
		return name
	}
	return fmt.Sprintf("accuracy(%d)", int(a))
}

// ParseAccuracy maps a configuration name to a profile. Unknown names
// return AccuracyBalanced together with an error.
func ParseAccuracy(s string) (AccuracyProfile, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for profile, name := range accuracyNames {
		if name == want {
			return profile, nil
		}
	}
	return AccuracyBalanced, fmt.Errorf("unknown accuracy profile %q", s)
}

// Priority is the provider-facing power/accuracy trade-off.
type Priority int

const (
	PriorityHighAccuracy          Priority = 100
	PriorityBalancedPowerAccuracy Priority = 102
	PriorityLowPower              Priority = 104
)

func (p Priority) String() string {
	switch p {
	case PriorityHighAccuracy:
		return "high_accuracy"
	case PriorityBalancedPowerAccuracy:
		return "balanced_power_accuracy"
	case PriorityLowPower:
		return "low_power"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// PlatformParams are the resolved registration parameters handed to a
// fix provider.
type PlatformParams struct {
	Priority                Priority
	MinIntervalMillis       int64
	MinUpdateIntervalMillis int64
}

// MinInterval is the nominal fix cadence.
func (p PlatformParams) MinInterval() time.Duration {
	return time.Duration(p.MinIntervalMillis) * time.Millisecond
}

// MinUpdateInterval is the fastest burst rate consumers must tolerate.
func (p PlatformParams) MinUpdateInterval() time.Duration {
	return time.Duration(p.MinUpdateIntervalMillis) * time.Millisecond
}

// ResolveAccuracy turns a profile and cadence into provider parameters.
// It never fails: out-of-range profiles resolve as balanced.
func ResolveAccuracy(profile AccuracyProfile, interval time.Duration) PlatformParams {
	ms := interval.Milliseconds()
	params := PlatformParams{
		MinIntervalMillis:       ms,
		MinUpdateIntervalMillis: ms / 2,
	}
	switch profile {
	case AccuracyLowest, AccuracyLow:
		params.Priority = PriorityLowPower
	case AccuracyHigh, AccuracyBest:
		params.Priority = PriorityHighAccuracy
	default:
		params.Priority = PriorityBalancedPowerAccuracy
	}
	return params
}
