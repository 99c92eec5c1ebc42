package benchmarks_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/momentics/sortbench/api"
	"github.com/momentics/sortbench/benchmarks"
	"github.com/momentics/sortbench/control"
	"github.com/momentics/sortbench/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunArraySizeSweep(t *testing.T) {
	store := control.NewConfigStore()
	var steps []int
	store.OnReload(func(snap map[string]any) { steps = append(steps, snap["value"].(int)) })

	report, err := benchmarks.Run(context.Background(), benchmarks.Params{
		Kind:     server.KindBlocking,
		Metric:   control.Server,
		Requests: 5,
		Varying:  benchmarks.ArraySize,
		Lower:    10,
		Upper:    30,
		Step:     10,
		Clients:  3,
		Delta:    time.Millisecond,
		Workers:  2,
		Config:   store,
		Verify:   true,
	})
	require.NoError(t, err)
	require.Len(t, report.Points, 3)
	for i, p := range report.Points {
		assert.Equal(t, 10+10*i, p.Value)
		assert.Positive(t, p.Samples)
	}
	assert.Equal(t, []int{10, 20, 30}, steps)

	lines := strings.Split(strings.TrimRight(report.String(), "\n"), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "Blocking", lines[0])
	assert.Equal(t, "NumberOfRequestsPerClient 5", lines[1])
	assert.Equal(t, "NumberOfClients 3", lines[2])
	assert.Equal(t, "TimeBetweenRequests 1", lines[3])
	assert.Equal(t, "ArraySize", lines[4])
	assert.True(t, strings.HasPrefix(lines[5], "10 "))
	assert.True(t, strings.HasPrefix(lines[7], "30 "))
}

func TestRunClientsSweepEveryEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := control.NewMetrics(reg)
	require.NoError(t, err)
	for _, kind := range server.Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			report, err := benchmarks.Run(context.Background(), benchmarks.Params{
				Kind:      kind,
				Metric:    control.Client,
				Requests:  4,
				Varying:   benchmarks.NumberOfClients,
				Lower:     1,
				Upper:     3,
				Step:      2,
				ArraySize: 50,
				Metrics:   m,
				Verify:    true,
			})
			if api.CodeOf(err) == api.ErrCodeNotSupported {
				t.Skip("engine not supported on this platform")
			}
			require.NoError(t, err)
			require.Len(t, report.Points, 2)
			assert.Equal(t, []int{1, 3}, []int{report.Points[0].Value, report.Points[1].Value})
			assert.Contains(t, report.String(), "ArraySize 50\n")
			assert.Contains(t, report.String(), "\nNumberOfClients\n")
		})
	}
}

func TestReportFormat(t *testing.T) {
	r := &benchmarks.Report{
		Kind:      server.KindCompletion,
		Requests:  10,
		ArraySize: 1000,
		Clients:   4,
		Delta:     250 * time.Millisecond,
		Varying:   benchmarks.TimeBetweenRequests,
		Points: []benchmarks.Point{
			{Value: 0, AverageMillis: 12.7},
			{Value: 50, AverageMillis: 3},
		},
	}
	want := "Asynchronous\n" +
		"NumberOfRequestsPerClient 10\n" +
		"ArraySize 1000\n" +
		"NumberOfClients 4\n" +
		"TimeBetweenRequests\n" +
		"0 12\n" +
		"50 3\n"
	assert.Equal(t, want, r.String())
}

func TestRunValidation(t *testing.T) {
	base := benchmarks.Params{Kind: server.KindBlocking, Requests: 1, Lower: 1, Upper: 2, Step: 1, Clients: 1}
	mutate := []func(p *benchmarks.Params){
		func(p *benchmarks.Params) { p.Step = 0 },
		func(p *benchmarks.Params) { p.Lower = -1 },
		func(p *benchmarks.Params) { p.Upper = 0 },
		func(p *benchmarks.Params) { p.Requests = -1 },
		func(p *benchmarks.Params) { p.Varying = benchmarks.Parameter(7) },
		func(p *benchmarks.Params) { p.Metric = control.Domain(5) },
	}
	for i, m := range mutate {
		p := base
		m(&p)
		_, err := benchmarks.Run(context.Background(), p)
		assert.Equal(t, api.ErrCodeInvalidArgument, api.CodeOf(err), "case %d", i)
	}
}

func TestParsers(t *testing.T) {
	p, err := benchmarks.ParseParameter("clients")
	require.NoError(t, err)
	assert.Equal(t, benchmarks.NumberOfClients, p)
	p, err = benchmarks.ParseParameter("TimeBetweenRequests")
	require.NoError(t, err)
	assert.Equal(t, benchmarks.TimeBetweenRequests, p)
	_, err = benchmarks.ParseParameter("latency")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	d, err := benchmarks.ParseMetric("2")
	require.NoError(t, err)
	assert.Equal(t, control.Server, d)
	_, err = benchmarks.ParseMetric("wall")
	assert.Error(t, err)
}
