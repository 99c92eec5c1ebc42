// control/recorder.go
// Author: momentics <momentics@gmail.com>
//
// Server-side latency hooks keyed by request id.

package control

import (
	"sync"
	"time"

	"github.com/momentics/sortbench/api"
)

var _ api.LatencyHooks = (*Recorder)(nil)

// Recorder implements api.LatencyHooks. StartMeasure remembers when id was
// decoded; EndMeasure adds the elapsed time to the Server domain. Request ids
// must be unique among in-flight requests across all connections.
type Recorder struct {
	stats    *Statistics
	starts   sync.Map // int32 -> time.Time
	now      func() time.Time
	observer func(time.Duration)
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithObserver forwards every completed measurement to fn as well, e.g. a
// Prometheus histogram.
func WithObserver(fn func(time.Duration)) RecorderOption {
	return func(r *Recorder) { r.observer = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates hooks feeding stats.
func NewRecorder(stats *Statistics, opts ...RecorderOption) *Recorder {
	r := &Recorder{stats: stats, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// StartMeasure records the start timestamp of id.
func (r *Recorder) StartMeasure(id int32) {
	r.starts.Store(id, r.now())
}

// EndMeasure completes the measurement of id. Unknown ids are ignored.
func (r *Recorder) EndMeasure(id int32) {
	v, ok := r.starts.LoadAndDelete(id)
	if !ok {
		return
	}
	elapsed := r.now().Sub(v.(time.Time))
	r.stats.AddMeasurementServer(elapsed)
	if r.observer != nil {
		r.observer(elapsed)
	}
}

// InFlight returns the number of started but unfinished measurements.
func (r *Recorder) InFlight() int {
	n := 0
	r.starts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Stats returns the underlying statistics.
func (r *Recorder) Stats() *Statistics {
	return r.stats
}
