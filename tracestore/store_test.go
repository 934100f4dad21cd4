package tracestore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), DefaultFileName), nil)
}

func sample(i int) tracking.TrackedLocation {
	return tracking.TrackedLocation{
		Timestamp: time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
		Latitude:  37 + float64(i)/10,
		Longitude: -122 - float64(i)/10,
		Source:    "A",
	}
}

func TestStore_AppendReadAllRoundTrip(t *testing.T) {
	s := newTestStore(t)
	var want []tracking.TrackedLocation
	for i := 0; i < 5; i++ {
		loc := sample(i)
		if i%2 == 0 {
			loc.Accuracy = tracking.Float(float64(i) * 1.5)
			loc.Altitude = tracking.Float(100)
		}
		require.NoError(t, s.Append(loc))
		want = append(want, loc)
	}

	got, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
		assert.Equal(t, want[i].Latitude, got[i].Latitude)
		assert.Equal(t, want[i].Longitude, got[i].Longitude)
		assert.Equal(t, want[i].Accuracy, got[i].Accuracy)
		assert.Equal(t, want[i].Altitude, got[i].Altitude)
		assert.Equal(t, want[i].Source, got[i].Source)
	}
}

func TestStore_ReadAllMissingIsEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_ReadAllCorruptIsEmpty(t *testing.T) {
	for name, content := range map[string]string{
		"garbage":   "{not json",
		"truncated": `[{"Timestamp":"2026-03-01T12:00:00Z","Latitude":1`,
		"blank":     "  \n",
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.WriteFile(s.Export(), []byte(content), 0o644))

			got, err := s.ReadAll()
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStore_AppendMovesCorruptLogAside(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	require.NoError(t, os.WriteFile(s.Export(), []byte("{not json"), 0o644))

	require.NoError(t, s.Append(sample(1)))

	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Len(t, got, 1)

	aside, err := os.ReadFile(s.Export() + ".corrupt-1700000000")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(aside))
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(sample(0)))

	const n = 25
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Append(sample(i)))
		}(i)
	}
	wg.Wait()

	got, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, n+1)

	seen := map[float64]bool{}
	for _, loc := range got {
		assert.False(t, seen[loc.Latitude], "duplicate record %v", loc.Latitude)
		seen[loc.Latitude] = true
	}
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Clear())

	require.NoError(t, s.Append(sample(1)))
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ExportDoesNotMutate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(sample(1)))
	before, err := os.ReadFile(s.Export())
	require.NoError(t, err)

	path := s.Export()
	assert.Equal(t, path, s.Export())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_ArtifactFormat(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(sample(0)))

	data, err := os.ReadFile(s.Export())
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "[\n  {\n"), "pretty printed: %q", text)
	assert.Contains(t, text, `"Timestamp": "2026-03-01T12:00:00Z"`)
	assert.Contains(t, text, `"Accuracy": null`)
	assert.Contains(t, text, `"Altitude": null`)
	assert.Contains(t, text, `"Source": "A"`)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw[0], 6)
}

func TestStore_AppendFailureWrapsIOFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	// The parent "directory" is a regular file, so nothing can be created.
	s := New(filepath.Join(blocker, "trace.json"), nil)
	err := s.Append(sample(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIOFailure))
}
