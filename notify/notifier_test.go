package notify

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

type recorder struct {
	mu   sync.Mutex
	lats []float64
}

func (r *recorder) handle(loc tracking.TrackedLocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lats = append(r.lats, loc.Latitude)
	return nil
}

func (r *recorder) got() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.lats...)
}

func fix(lat float64) tracking.TrackedLocation {
	return tracking.TrackedLocation{Timestamp: time.Now().UTC(), Latitude: lat, Longitude: lat}
}

func TestNotifier_DeliversToAllSubscribersInOrder(t *testing.T) {
	n := New(0, nil)
	defer n.Close()

	var a, b recorder
	n.Subscribe(a.handle)
	n.Subscribe(b.handle)

	for i := 1; i <= 3; i++ {
		n.Publish(fix(float64(i)))
	}

	want := []float64{1, 2, 3}
	require.Eventually(t, func() bool { return len(a.got()) == 3 && len(b.got()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, a.got())
	assert.Equal(t, want, b.got())
}

func TestNotifier_FailingSubscriberIsIsolated(t *testing.T) {
	n := New(0, nil)
	defer n.Close()

	n.Subscribe(func(tracking.TrackedLocation) error { return errors.New("boom") })
	n.Subscribe(func(tracking.TrackedLocation) error { panic("subscriber bug") })
	var ok recorder
	n.Subscribe(ok.handle)

	n.Publish(fix(1))
	n.Publish(fix(2))

	require.Eventually(t, func() bool { return len(ok.got()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestNotifier_SlowSubscriberNeverBlocksPublish(t *testing.T) {
	n := New(2, nil)
	defer n.Close()

	release := make(chan struct{})
	n.Subscribe(func(tracking.TrackedLocation) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Publish(fix(float64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)
}

func TestNotifier_FirstDropIsLogged(t *testing.T) {
	var buf syncBuffer
	n := New(1, slog.New(slog.NewTextHandler(&buf, nil)))
	defer n.Close()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	n.Subscribe(func(tracking.TrackedLocation) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	n.Publish(fix(1))
	<-entered
	for i := 2; i <= 5; i++ {
		n.Publish(fix(float64(i)))
	}
	close(release)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "subscriber mailbox full"), out)
	assert.Contains(t, out, "level=WARN")
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := New(0, nil)
	defer n.Close()

	var r recorder
	sub := n.Subscribe(r.handle)
	n.Publish(fix(1))

	n.Unsubscribe(sub)
	n.Unsubscribe(sub)
	<-sub.Done()

	n.Publish(fix(2))
	assert.Equal(t, []float64{1}, r.got())
	assert.Zero(t, n.Len())
}

func TestNotifier_CloseStopsDelivery(t *testing.T) {
	n := New(0, nil)
	var r recorder
	sub := n.Subscribe(r.handle)

	n.Close()
	<-sub.Done()
	n.Publish(fix(1))

	late := n.Subscribe(r.handle)
	<-late.Done()
	assert.Empty(t, r.got())
}
