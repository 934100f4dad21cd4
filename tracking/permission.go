package tracking

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// PermissionStatus is the answer of the host permission subsystem.
type PermissionStatus int

const (
	PermissionNotDetermined PermissionStatus = iota
	PermissionGranted
	PermissionDenied
)

func (s PermissionStatus) String() string {
	switch s {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "notDetermined"
	}
}

// ParsePermissionStatus accepts the configuration spelling.
func ParsePermissionStatus(s string) (PermissionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted":
		return PermissionGranted, nil
	case "denied":
		return PermissionDenied, nil
	case "notdetermined", "not_determined", "":
		return PermissionNotDetermined, nil
	}
	return PermissionNotDetermined, fmt.Errorf("unknown permission status %q", s)
}

// PermissionGate checks and requests location permission.
type PermissionGate interface {
	CheckStatus(ctx context.Context) (PermissionStatus, error)
	Request(ctx context.Context) (PermissionStatus, error)
}

// StaticPermissionGate answers from configuration. A request while the
// status is undetermined settles it to OnRequest.
type StaticPermissionGate struct {
	mu        sync.Mutex
	status    PermissionStatus
	onRequest PermissionStatus
}

// NewStaticPermissionGate returns a gate reporting status until a request
// changes it.
func NewStaticPermissionGate(status, onRequest PermissionStatus) *StaticPermissionGate {
	return &StaticPermissionGate{status: status, onRequest: onRequest}
}

func (g *StaticPermissionGate) CheckStatus(ctx context.Context) (PermissionStatus, error) {
	if err := ctx.Err(); err != nil {
		return PermissionNotDetermined, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, nil
}

func (g *StaticPermissionGate) Request(ctx context.Context) (PermissionStatus, error) {
	if err := ctx.Err(); err != nil {
		return PermissionNotDetermined, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == PermissionNotDetermined {
		g.status = g.onRequest
	}
	return g.status, nil
}
