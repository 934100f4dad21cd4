package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/theoremus-urban-solutions/location-tracking/internal/atomicfile"
)

// Marker records that a background session holds a continuation
// guarantee. It outlives the process on purpose: a marker found at
// startup means the previous process died while tracking.
type Marker struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Source    string    `json:"source"`
	PID       int       `json:"pid"`
}

// WriteMarker atomically writes m to path.
func WriteMarker(path string, m Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session marker: %w", err)
	}
	data = append(data, '\n')
	return atomicfile.Write(path, data, 0o600)
}

// ReadMarker reads the marker at path. A missing file returns an error
// wrapping os.ErrNotExist.
func ReadMarker(path string) (Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Marker{}, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, fmt.Errorf("parsing session marker %s: %w", path, err)
	}
	return m, nil
}
