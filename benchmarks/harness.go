// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Parameter sweep harness: one engine, many concurrent clients per step, one
// parameter varied across a range.

package benchmarks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/client"
	"github.com/momentics/sortbench/control"
	"github.com/momentics/sortbench/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Parameter names the swept load dimension.
type Parameter int

const (
	ArraySize Parameter = iota
	NumberOfClients
	TimeBetweenRequests
)

var parameterNames = [...]string{
	ArraySize:           "ArraySize",
	NumberOfClients:     "NumberOfClients",
	TimeBetweenRequests: "TimeBetweenRequests",
}

func (p Parameter) String() string {
	if p >= 0 && int(p) < len(parameterNames) {
		return parameterNames[p]
	}
	return fmt.Sprintf("Parameter(%d)", int(p))
}

// ParseParameter accepts the report names, their lower-case forms and the
// menu numbers 1 to 3.
func ParseParameter(s string) (Parameter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arraysize", "array-size", "1":
		return ArraySize, nil
	case "numberofclients", "clients", "2":
		return NumberOfClients, nil
	case "timebetweenrequests", "delta", "3":
		return TimeBetweenRequests, nil
	}
	return 0, api.WrapError(api.ErrCodeInvalidArgument, "parse parameter", api.ErrInvalidArgument).
		WithContext("value", s)
}

// ParseMetric maps "client"/"server" (or 1/2) to a statistics domain.
func ParseMetric(s string) (control.Domain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client", "1":
		return control.Client, nil
	case "server", "2":
		return control.Server, nil
	}
	return 0, api.WrapError(api.ErrCodeInvalidArgument, "parse metric", api.ErrInvalidArgument).
		WithContext("value", s)
}

// Params configures one sweep.
type Params struct {
	Kind     server.Kind
	Metric   control.Domain
	Requests int // requests per client

	Varying      Parameter
	Lower, Upper int
	Step         int

	// Fixed values of the parameters that are not swept.
	ArraySize int
	Clients   int
	Delta     time.Duration

	Workers       int    // sort workers, 5 when zero
	Host          string // 127.0.0.1 when empty
	Port          int    // 0 selects an ephemeral port
	Logger        *zap.Logger
	Metrics       *control.Metrics
	Config        *control.ConfigStore
	ServerOptions []server.Option
	Verify        bool // clients check response sortedness
}

const defaultWorkers = 5

func (p *Params) validate() error {
	bad := func(msg string, kv ...any) error {
		e := api.NewError(api.ErrCodeInvalidArgument, "benchmark: "+msg)
		for i := 0; i+1 < len(kv); i += 2 {
			e.WithContext(kv[i].(string), kv[i+1])
		}
		return e
	}
	switch {
	case p.Requests < 0:
		return bad("negative request count", "requests", p.Requests)
	case p.Lower < 0:
		return bad("lower bound must be non negative", "lower", p.Lower)
	case p.Upper < p.Lower:
		return bad("upper bound below lower bound", "lower", p.Lower, "upper", p.Upper)
	case p.Step <= 0:
		return bad("step must be positive", "step", p.Step)
	case p.Varying < ArraySize || p.Varying > TimeBetweenRequests:
		return bad("unknown varying parameter", "varying", int(p.Varying))
	case p.Metric != control.Client && p.Metric != control.Server:
		return bad("unknown metric", "metric", int(p.Metric))
	}
	return nil
}

// Point is one measured step.
type Point struct {
	Value         int
	AverageMillis float64
	Samples       int64
}

// Report is the outcome of a sweep.
type Report struct {
	Kind      server.Kind
	Metric    control.Domain
	Requests  int
	ArraySize int
	Clients   int
	Delta     time.Duration
	Varying   Parameter
	Points    []Point
}

// kindTitle is the server type line of the report.
func kindTitle(k server.Kind) string {
	switch k {
	case server.KindBlocking:
		return "Blocking"
	case server.KindMultiplexed:
		return "NonBlocking"
	case server.KindCompletion:
		return "Asynchronous"
	}
	return k.String()
}

// String renders the plain-text format understood by the plotting script:
// the server type, three "Name value" lines, the swept parameter name and one
// "value averageMillis" line per step.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintln(&b, kindTitle(r.Kind))
	fmt.Fprintf(&b, "NumberOfRequestsPerClient %d\n", r.Requests)
	if r.Varying != ArraySize {
		fmt.Fprintf(&b, "%s %d\n", ArraySize, r.ArraySize)
	}
	if r.Varying != NumberOfClients {
		fmt.Fprintf(&b, "%s %d\n", NumberOfClients, r.Clients)
	}
	if r.Varying != TimeBetweenRequests {
		fmt.Fprintf(&b, "%s %d\n", TimeBetweenRequests, r.Delta.Milliseconds())
	}
	fmt.Fprintln(&b, r.Varying)
	for _, p := range r.Points {
		fmt.Fprintf(&b, "%d %d\n", p.Value, int64(p.AverageMillis))
	}
	return b.String()
}

// Run starts the engine, measures every step of the sweep and shuts the
// engine down again.
func Run(ctx context.Context, p Params) (*Report, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if p.Workers <= 0 {
		p.Workers = defaultWorkers
	}
	if p.Host == "" {
		p.Host = "127.0.0.1"
	}

	stats := control.NewStatistics()
	em := p.Metrics.For(p.Kind.String())
	rec := control.NewRecorder(stats, control.WithObserver(em.ObserveLatency))
	opts := append([]server.Option{
		server.WithHost(p.Host),
		server.WithLogger(log),
		server.WithLatencyHooks(rec),
		server.WithMetrics(p.Metrics),
	}, p.ServerOptions...)
	engine, err := server.New(p.Kind, opts...)
	if err != nil {
		return nil, err
	}
	if err := engine.Start(p.Port, p.Workers); err != nil {
		return nil, err
	}
	addr := engine.Addr().String()

	report := &Report{
		Kind:      p.Kind,
		Metric:    p.Metric,
		Requests:  p.Requests,
		ArraySize: p.ArraySize,
		Clients:   p.Clients,
		Delta:     p.Delta,
		Varying:   p.Varying,
	}
	var runErr error
	for v := p.Lower; v <= p.Upper; v += p.Step {
		step := p
		switch p.Varying {
		case ArraySize:
			step.ArraySize = v
		case NumberOfClients:
			step.Clients = v
		case TimeBetweenRequests:
			step.Delta = time.Duration(v) * time.Millisecond
		}
		if p.Config != nil {
			p.Config.SetConfig(map[string]any{
				"server":     p.Kind.String(),
				"metric":     p.Metric.String(),
				"requests":   step.Requests,
				"array_size": step.ArraySize,
				"clients":    step.Clients,
				"delta_ms":   step.Delta.Milliseconds(),
				"varying":    p.Varying.String(),
				"value":      v,
			})
		}
		point, err := measure(ctx, addr, step, stats, log)
		if err != nil {
			runErr = fmt.Errorf("step %s=%d: %w", p.Varying, v, err)
			break
		}
		point.Value = v
		report.Points = append(report.Points, point)
		log.Info("step measured",
			zap.Stringer("varying", p.Varying),
			zap.Int("value", v),
			zap.Float64("avg_ms", point.AverageMillis),
			zap.Int64("samples", point.Samples))
	}
	if err := engine.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return nil, runErr
	}
	return report, nil
}

// measure runs one step: Clients concurrent clients with disjoint id ranges.
func measure(ctx context.Context, addr string, p Params, stats *control.Statistics, log *zap.Logger) (Point, error) {
	stats.Reset()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Clients; i++ {
		cfg := client.Config{
			Addr:      addr,
			StartID:   int32(i * p.Requests),
			ArraySize: p.ArraySize,
			Delta:     p.Delta,
			Cycles:    p.Requests,
			Stats:     stats,
			Logger:    log,
			Verify:    p.Verify,
		}
		g.Go(func() error { return client.Run(gctx, cfg) })
	}
	if err := g.Wait(); err != nil {
		return Point{}, err
	}
	return Point{
		AverageMillis: stats.AverageMillis(p.Metric),
		Samples:       stats.SampleCount(p.Metric),
	}, nil
}
