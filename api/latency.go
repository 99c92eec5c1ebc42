// File: api/latency.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// LatencyHooks records server-side request timing keyed by request id.
type LatencyHooks interface {
	StartMeasure(id int32)
	EndMeasure(id int32)
}

// NopLatencyHooks discards every measurement.
type NopLatencyHooks struct{}

func (NopLatencyHooks) StartMeasure(int32) {}
func (NopLatencyHooks) EndMeasure(int32)   {}
