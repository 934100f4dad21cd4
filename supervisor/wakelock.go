package supervisor

import (
	"fmt"
	"os"
	"time"

	"github.com/theoremus-urban-solutions/location-tracking/internal/atomicfile"
)

// WakeLock keeps the host from suspending while tracking is active. The
// supervisor calls Acquire and Release strictly in pairs.
type WakeLock interface {
	Acquire() error
	Release() error
}

// NopWakeLock is used on hosts that do not suspend.
type NopWakeLock struct{}

func (NopWakeLock) Acquire() error { return nil }
func (NopWakeLock) Release() error { return nil }

// FileWakeLock signals the guarantee through a lock file, for host
// tooling such as a systemd-inhibit wrapper that watches the path.
type FileWakeLock struct {
	Path string
}

func (l FileWakeLock) Acquire() error {
	content := fmt.Sprintf("pid=%d acquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := atomicfile.Write(l.Path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("acquiring wake lock: %w", err)
	}
	return nil
}

func (l FileWakeLock) Release() error {
	return atomicfile.Remove(l.Path)
}
