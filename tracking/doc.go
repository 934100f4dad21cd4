// Package tracking implements the tracking session: the
// Stopped/Starting/Tracking/Stopping state machine, accuracy profile
// resolution, the permission gate and the fix ingestion path.
//
// A Controller registers with a FixProvider, stamps each delivered fix
// with its capture time and moves it through a bounded queue to a single
// ingest goroutine. That goroutine appends to the trace log (when
// internal logging is enabled) and then publishes the fix to live
// observers. Fixes that arrive after a stop has begun are discarded.
package tracking
