// Package notify fans live fixes out to in-process observers.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

// DefaultMailboxSize is the per-subscriber buffer.
const DefaultMailboxSize = 64

var (
	deliveredFixes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locationtracker_notify_delivered_total",
		Help: "Fixes handed to subscribers.",
	})
	droppedFixes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locationtracker_notify_dropped_total",
		Help: "Fixes dropped because a subscriber mailbox was full.",
	})
	subscriberFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locationtracker_notify_subscriber_failures_total",
		Help: "Subscriber callbacks that returned an error or panicked.",
	})
)

// Handler observes one fix. Errors are logged and otherwise ignored.
type Handler func(loc tracking.TrackedLocation) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id   int
	fn   Handler
	send chan tracking.TrackedLocation
	done chan struct{}
	once sync.Once

	// dropped is set by the first fix lost to a full mailbox.
	dropped atomic.Bool
}

// Done is closed once the subscription has delivered its last fix.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Notifier delivers published fixes to every subscriber, in
// subscription order, each on its own goroutine. Publish never blocks.
type Notifier struct {
	log         *slog.Logger
	mailboxSize int

	mu     sync.RWMutex
	subs   []*Subscription
	nextID int
	closed bool
}

// New returns an empty notifier. mailboxSize <= 0 selects the default.
func New(mailboxSize int, logger *slog.Logger) *Notifier {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{log: logger.With("component", "notify"), mailboxSize: mailboxSize}
}

// Subscribe registers fn. After Close it returns a subscription that is
// already done and never receives fixes.
func (n *Notifier) Subscribe(fn Handler) *Subscription {
	sub := &Subscription{
		fn:   fn,
		send: make(chan tracking.TrackedLocation, n.mailboxSize),
		done: make(chan struct{}),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	sub.id = n.nextID
	if n.closed {
		sub.once.Do(func() { close(sub.send) })
		close(sub.done)
		return sub
	}
	n.subs = append(n.subs, sub)
	go n.deliver(sub)
	return sub
}

// Unsubscribe removes sub. Fixes already in its mailbox are still
// delivered. Unsubscribing twice is harmless.
func (n *Notifier) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			break
		}
	}
	sub.once.Do(func() { close(sub.send) })
}

// Publish offers loc to every current subscriber.
func (n *Notifier) Publish(loc tracking.TrackedLocation) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subs {
		select {
		case sub.send <- loc:
		default:
			droppedFixes.Inc()
			if sub.dropped.CompareAndSwap(false, true) {
				n.log.Warn("subscriber mailbox full, dropping fixes",
					"subscriber", sub.id, "mailbox", n.mailboxSize)
			}
		}
	}
}

// Len returns the number of current subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close unsubscribes everyone. Later Publish calls are no-ops.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for _, sub := range n.subs {
		sub.once.Do(func() { close(sub.send) })
	}
	n.subs = nil
}

func (n *Notifier) deliver(sub *Subscription) {
	defer close(sub.done)
	for loc := range sub.send {
		n.call(sub, loc)
	}
}

func (n *Notifier) call(sub *Subscription, loc tracking.TrackedLocation) {
	defer func() {
		if r := recover(); r != nil {
			subscriberFailures.Inc()
			n.log.Error("subscriber panicked", "panic", r)
		}
	}()
	if err := sub.fn(loc); err != nil {
		subscriberFailures.Inc()
		n.log.Warn("subscriber failed", "error", err)
		return
	}
	deliveredFixes.Inc()
}
