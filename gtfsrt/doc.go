// Package gtfsrt connects the tracker to GTFS-Realtime.
//
// It provides:
//   - Provider: a fix provider that polls a VehiclePositions feed (HTTP
//     URL or local file) and reports one vehicle's position
//   - EncodeTrace: renders a recorded trace as a VehiclePositions feed
//     for sharing with transit tooling
package gtfsrt
