package tracking

import "context"

// DeliverFunc receives a batch of zero or more fixes. It blocks until the
// batch is queued or the session ends, and never panics back into the
// provider.
type DeliverFunc func(fixes []RawFix)

// FixProvider is a source of raw fixes. Register starts delivery at the
// resolved cadence; ctx stays valid for the whole session and is
// cancelled when it ends. Deregister must be idempotent.
type FixProvider interface {
	Source() string
	Register(ctx context.Context, params PlatformParams, deliver DeliverFunc) error
	Deregister(ctx context.Context) error
}

// Continuation keeps a session alive beyond the caller's lifetime.
// Ensure and Release must both be idempotent.
type Continuation interface {
	Ensure(ctx context.Context) error
	Release() error
}

// LocationStore persists fixes. Append must serialize concurrent callers.
type LocationStore interface {
	Append(loc TrackedLocation) error
}

// Publisher broadcasts fixes to live observers without blocking.
type Publisher interface {
	Publish(loc TrackedLocation)
}
