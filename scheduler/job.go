package scheduler

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Job is one deferred task. It may run at any point between NotBefore
// and Deadline, or never.
type Job struct {
	ID          string    `cbor:"id"`
	Kind        string    `cbor:"kind"`
	ScheduledAt time.Time `cbor:"scheduled_at"`
	NotBefore   time.Time `cbor:"not_before"`
	Deadline    time.Time `cbor:"deadline"`
}

// Due reports whether the job may run at now.
func (j Job) Due(now time.Time) bool { return !now.Before(j.NotBefore) }

// Expired reports whether the job's window has closed at now.
func (j Job) Expired(now time.Time) bool { return now.After(j.Deadline) }

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("scheduler: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("scheduler: CBOR decoder initialization failed: " + err.Error())
	}
}

// jobFile is the on-disk job store layout.
type jobFile struct {
	Version int   `cbor:"version"`
	Jobs    []Job `cbor:"jobs"`
}

const jobFileVersion = 1

func encodeJobs(jobs []Job) ([]byte, error) {
	return encMode.Marshal(jobFile{Version: jobFileVersion, Jobs: jobs})
}

func decodeJobs(data []byte) ([]Job, error) {
	var f jobFile
	if err := decMode.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Version != jobFileVersion {
		return nil, fmt.Errorf("unsupported job store version %d", f.Version)
	}
	return f.Jobs, nil
}
