package tracking

import "errors"

var (
	// ErrPermissionDenied is returned by Start when location permission
	// is not granted. The session stays stopped.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrRegistrationFailed wraps a fix provider registration error.
	ErrRegistrationFailed = errors.New("fix provider registration failed")

	// ErrStartAborted is returned when Stop was called while Start was
	// still waiting on permission or registration.
	ErrStartAborted = errors.New("start aborted by stop")

	// ErrSessionStopping is returned by Start while a stop is in progress.
	ErrSessionStopping = errors.New("session is stopping")
)
