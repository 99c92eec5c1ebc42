// control/statistics.go
// Author: momentics <momentics@gmail.com>
//
// Additive latency aggregates for client and server measurement domains.

package control

import (
	"sync/atomic"
	"time"
)

// Domain selects which side observed a latency sample.
type Domain int

const (
	// Client samples span send to matching response on the client.
	Client Domain = iota
	// Server samples span decode to response enqueue on the server.
	Server
	numDomains
)

func (d Domain) String() string {
	switch d {
	case Client:
		return "client"
	case Server:
		return "server"
	}
	return "unknown"
}

type aggregate struct {
	sum   atomic.Int64 // nanoseconds
	count atomic.Int64
}

// Statistics sums and counts latency samples per domain. The zero value is
// ready to use.
type Statistics struct {
	domains [numDomains]aggregate
	stopped atomic.Bool
}

// NewStatistics returns empty statistics accepting samples.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Add records one sample. Samples arriving after Stop are dropped, as are
// samples for unknown domains.
func (s *Statistics) Add(d Domain, elapsed time.Duration) {
	if s.stopped.Load() || d < 0 || d >= numDomains {
		return
	}
	s.domains[d].sum.Add(int64(elapsed))
	s.domains[d].count.Add(1)
}

// AddMeasurementClient records a client-observed sample.
func (s *Statistics) AddMeasurementClient(elapsed time.Duration) {
	s.Add(Client, elapsed)
}

// AddMeasurementServer records a server-observed sample.
func (s *Statistics) AddMeasurementServer(elapsed time.Duration) {
	s.Add(Server, elapsed)
}

// Stop makes every later Add a no-op until Reset.
func (s *Statistics) Stop() {
	s.stopped.Store(true)
}

// Stopped reports whether Stop was called since the last Reset.
func (s *Statistics) Stopped() bool {
	return s.stopped.Load()
}

// Reset clears both domains and resumes accepting samples.
func (s *Statistics) Reset() {
	for i := range s.domains {
		s.domains[i].sum.Store(0)
		s.domains[i].count.Store(0)
	}
	s.stopped.Store(false)
}

// Average returns the mean sample of d, or zero without samples.
func (s *Statistics) Average(d Domain) time.Duration {
	if d < 0 || d >= numDomains {
		return 0
	}
	n := s.domains[d].count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(s.domains[d].sum.Load() / n)
}

// AverageMillis returns Average in fractional milliseconds.
func (s *Statistics) AverageMillis(d Domain) float64 {
	return float64(s.Average(d)) / float64(time.Millisecond)
}

// SampleCount returns the number of samples recorded in d.
func (s *Statistics) SampleCount(d Domain) int64 {
	if d < 0 || d >= numDomains {
		return 0
	}
	return s.domains[d].count.Load()
}
