// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for engine activity, labelled by engine kind.

package control

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "sortbench"

// Metrics holds the collector vectors. One instance is registered per
// registry; engines obtain their labelled view through For.
type Metrics struct {
	connsOpened  *prometheus.CounterVec
	connsClosed  *prometheus.CounterVec
	decoded      *prometheus.CounterVec
	malformed    *prometheus.CounterVec
	enqueued     *prometheus.CounterVec
	bytesRead    *prometheus.CounterVec
	bytesWritten *prometheus.CounterVec
	panics       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. Collectors
// already present on reg are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, []string{"engine"})
	}
	m := &Metrics{
		connsOpened:  counter("connections_opened_total", "Accepted client connections."),
		connsClosed:  counter("connections_closed_total", "Closed client connections."),
		decoded:      counter("requests_decoded_total", "Request frames decoded and dispatched."),
		malformed:    counter("malformed_payloads_total", "Request frames whose payload failed to decode."),
		enqueued:     counter("responses_enqueued_total", "Sorted responses handed to an outbound queue."),
		bytesRead:    counter("read_bytes_total", "Bytes read from client sockets."),
		bytesWritten: counter("written_bytes_total", "Bytes written to client sockets."),
		panics:       counter("worker_panics_total", "Sort tasks that panicked."),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "server_latency_seconds",
			Help:      "Time from request decode to response enqueue.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 18),
		}, []string{"engine"}),
	}
	if reg == nil {
		return m, nil
	}
	if err := register(reg, &m.connsOpened, &m.connsClosed, &m.decoded, &m.malformed,
		&m.enqueued, &m.bytesRead, &m.bytesWritten, &m.panics); err != nil {
		return nil, err
	}
	if err := reg.Register(m.latency); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.latency = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return m, nil
}

func register(reg prometheus.Registerer, vecs ...**prometheus.CounterVec) error {
	for _, v := range vecs {
		if err := reg.Register(*v); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
			*v = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return nil
}

// For returns the view of m for one engine kind. A nil receiver yields a nil
// view whose methods do nothing.
func (m *Metrics) For(engine string) *EngineMetrics {
	if m == nil {
		return nil
	}
	return &EngineMetrics{
		connsOpened:  m.connsOpened.WithLabelValues(engine),
		connsClosed:  m.connsClosed.WithLabelValues(engine),
		decoded:      m.decoded.WithLabelValues(engine),
		malformed:    m.malformed.WithLabelValues(engine),
		enqueued:     m.enqueued.WithLabelValues(engine),
		bytesRead:    m.bytesRead.WithLabelValues(engine),
		bytesWritten: m.bytesWritten.WithLabelValues(engine),
		panics:       m.panics.WithLabelValues(engine),
		latency:      m.latency.WithLabelValues(engine),
	}
}

// EngineMetrics is the per-engine set of collectors. All methods are safe on
// a nil receiver.
type EngineMetrics struct {
	connsOpened  prometheus.Counter
	connsClosed  prometheus.Counter
	decoded      prometheus.Counter
	malformed    prometheus.Counter
	enqueued     prometheus.Counter
	bytesRead    prometheus.Counter
	bytesWritten prometheus.Counter
	panics       prometheus.Counter
	latency      prometheus.Observer
}

func (e *EngineMetrics) ConnOpened() {
	if e != nil {
		e.connsOpened.Inc()
	}
}

func (e *EngineMetrics) ConnClosed() {
	if e != nil {
		e.connsClosed.Inc()
	}
}

func (e *EngineMetrics) Decoded() {
	if e != nil {
		e.decoded.Inc()
	}
}

func (e *EngineMetrics) Malformed() {
	if e != nil {
		e.malformed.Inc()
	}
}

func (e *EngineMetrics) Enqueued() {
	if e != nil {
		e.enqueued.Inc()
	}
}

func (e *EngineMetrics) Read(n int) {
	if e != nil && n > 0 {
		e.bytesRead.Add(float64(n))
	}
}

func (e *EngineMetrics) Wrote(n int) {
	if e != nil && n > 0 {
		e.bytesWritten.Add(float64(n))
	}
}

func (e *EngineMetrics) Panic() {
	if e != nil {
		e.panics.Inc()
	}
}

// ObserveLatency records one server-side latency sample.
func (e *EngineMetrics) ObserveLatency(d time.Duration) {
	if e != nil {
		e.latency.Observe(d.Seconds())
	}
}
