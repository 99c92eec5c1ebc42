// Package control
// Author: momentics <momentics@gmail.com>
//
// Measurement and run-control layer shared by engines, client and harness.
//
// Provides concurrent-safe state handling primitives including:
//   - Latency statistics split into client-observed and server-observed domains
//   - A Recorder implementing api.LatencyHooks on top of those statistics
//   - Prometheus collectors labelled by engine kind
//   - A snapshot config store publishing the active run parameters
package control
