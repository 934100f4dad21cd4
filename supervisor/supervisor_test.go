package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoremus-urban-solutions/location-tracking/scheduler"
)

type scheduled struct {
	id, kind             string
	minLatency, deadline time.Duration
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []scheduled
	err  error
}

func (r *recordingScheduler) Schedule(id, kind string, minLatency, deadline time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, scheduled{id, kind, minLatency, deadline})
	return nil
}

func (r *recordingScheduler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type countingWakeLock struct {
	mu                 sync.Mutex
	acquired, released int
}

func (l *countingWakeLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired++
	return nil
}

func (l *countingWakeLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

func (l *countingWakeLock) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired, l.released
}

type fakeSession struct {
	mu      sync.Mutex
	starts  int
	err     error
	onStart func()
}

func (f *fakeSession) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	err, hook := f.err, f.onStart
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeSession) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fixture struct {
	sup   *Supervisor
	sched *recordingScheduler
	lock  *countingWakeLock
	sess  *fakeSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sched: &recordingScheduler{},
		lock:  &countingWakeLock{},
		sess:  &fakeSession{},
	}
	sup, err := New(Config{
		StateDir:          t.TempDir(),
		RestartMinLatency: time.Second,
		RestartDeadline:   5 * time.Second,
		WakeLock:          f.lock,
		Scheduler:         f.sched,
		Source:            "gpsd",
	})
	require.NoError(t, err)
	sup.Bind(f.sess)
	f.sup = sup
	return f
}

func markerExists(t *testing.T, s *Supervisor) bool {
	t.Helper()
	_, err := os.Stat(s.MarkerPath())
	if err == nil {
		return true
	}
	require.True(t, os.IsNotExist(err), "unexpected stat error: %v", err)
	return false
}

func TestSupervisor_EnsureAndReleaseAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sup.Ensure(ctx))
	require.NoError(t, f.sup.Ensure(ctx))
	assert.True(t, f.sup.Held())
	assert.True(t, markerExists(t, f.sup))

	marker, err := ReadMarker(f.sup.MarkerPath())
	require.NoError(t, err)
	assert.NotEmpty(t, marker.SessionID)
	assert.Equal(t, "gpsd", marker.Source)

	require.NoError(t, f.sup.Release())
	require.NoError(t, f.sup.Release())
	assert.False(t, f.sup.Held())
	assert.False(t, markerExists(t, f.sup))

	acquired, released := f.lock.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)
}

func TestSupervisor_ConcurrentReleaseReleasesOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sup.Ensure(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.sup.Release()
			f.sup.OnTerminating()
		}()
	}
	wg.Wait()

	_, released := f.lock.counts()
	assert.Equal(t, 1, released)
}

func TestSupervisor_OnTerminatingSchedulesRestart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sup.Ensure(context.Background()))

	f.sup.OnTerminating()

	require.Equal(t, 1, f.sched.count())
	job := f.sched.jobs[0]
	assert.Equal(t, RestartJobID, job.id)
	assert.Equal(t, RestartJobKind, job.kind)
	assert.Equal(t, time.Second, job.minLatency)
	assert.Equal(t, 5*time.Second, job.deadline)

	assert.False(t, f.sup.Held())
	assert.True(t, markerExists(t, f.sup), "marker survives for the next process")
	_, released := f.lock.counts()
	assert.Equal(t, 1, released)
}

func TestSupervisor_OnTerminatingWithoutSessionDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.sup.OnTerminating()
	assert.Zero(t, f.sched.count())
}

func TestSupervisor_SchedulingFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.sched.err = errors.New("store unavailable")
	require.NoError(t, f.sup.Ensure(context.Background()))

	f.sup.OnTerminating()
	assert.False(t, f.sup.Held())
}

func TestSupervisor_BootStartsUnconditionally(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sup.OnBootCompleted(context.Background()))
	require.NoError(t, f.sup.OnBootCompleted(context.Background()))
	assert.Equal(t, 2, f.sess.startCount())

	f.sess.err = errors.New("denied")
	assert.Error(t, f.sup.OnBootCompleted(context.Background()))
}

func TestSupervisor_RecoverSchedulesRestartForLeftoverMarker(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.sup.Recover(context.Background()))

	require.NoError(t, WriteMarker(f.sup.MarkerPath(), Marker{SessionID: "previous"}))
	assert.True(t, f.sup.Recover(context.Background()))
	assert.Equal(t, 1, f.sched.count())
}

func TestSupervisor_TaskDueRestartsSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, WriteMarker(f.sup.MarkerPath(), Marker{SessionID: "previous"}))

	// The restarted session takes the guarantee again.
	f.sess.onStart = func() { _ = f.sup.Ensure(context.Background()) }
	f.sup.OnTaskDue(context.Background(), scheduler.Job{ID: RestartJobID, Kind: RestartJobKind})

	assert.Equal(t, 1, f.sess.startCount())
	assert.True(t, markerExists(t, f.sup))

	marker, err := ReadMarker(f.sup.MarkerPath())
	require.NoError(t, err)
	assert.NotEqual(t, "previous", marker.SessionID)
}

func TestSupervisor_TaskDueDropsStaleMarker(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, WriteMarker(f.sup.MarkerPath(), Marker{SessionID: "previous"}))
	f.sess.err = errors.New("permission denied")

	f.sup.OnTaskDue(context.Background(), scheduler.Job{ID: RestartJobID, Kind: RestartJobKind})

	assert.Equal(t, 1, f.sess.startCount())
	assert.False(t, markerExists(t, f.sup))
}

func TestFileWakeLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wake.lock")
	lock := FileWakeLock{Path: path}

	require.NoError(t, lock.Acquire())
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{StateDir: t.TempDir()})
	assert.Error(t, err)

	_, err = New(Config{Scheduler: &recordingScheduler{}})
	assert.Error(t, err)

	_, err = New(Config{
		StateDir:          t.TempDir(),
		Scheduler:         &recordingScheduler{},
		RestartMinLatency: 5 * time.Second,
		RestartDeadline:   time.Second,
	})
	assert.Error(t, err)
}
