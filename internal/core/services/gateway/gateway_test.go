package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports/portstest"
	"github.com/melih/lighthouse-console/internal/telemetry"
)

const testTTL = 5 * time.Second

func newTestGateway(t *testing.T) (*Gateway, *portstest.FakeEngine, *clockwork.FakeClock, *telemetry.Metrics) {
	t.Helper()
	engine := portstest.NewFakeEngine()
	clock := clockwork.NewFakeClock()
	metrics := telemetry.New()
	g := New(engine, testTTL, zap.NewNop(), metrics, WithClock(clock))
	return g, engine, clock, metrics
}

func TestListContainers(t *testing.T) {
	ctx := context.Background()

	t.Run("serves fresh cache without engine call", func(t *testing.T) {
		g, engine, clock, _ := newTestGateway(t)
		engine.AddContainer("b1", "web")
		engine.AddContainer("a1", "db")

		first, err := g.ListContainers(ctx, true)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "db", first[0].Name)
		assert.Equal(t, 1, engine.Calls("list"))

		clock.Advance(testTTL - time.Millisecond)
		second, err := g.ListContainers(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, engine.Calls("list"))
	})

	t.Run("refetches after expiry", func(t *testing.T) {
		g, engine, clock, _ := newTestGateway(t)
		engine.AddContainer("a1", "db")

		_, err := g.ListContainers(ctx, true)
		require.NoError(t, err)
		clock.Advance(testTTL)
		_, err = g.ListContainers(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, 2, engine.Calls("list"))
	})

	t.Run("bypass replaces the cache", func(t *testing.T) {
		g, engine, _, _ := newTestGateway(t)
		engine.AddContainer("a1", "db")
		engine.AddContainer("b1", "web")
		_, err := g.ListContainers(ctx, false)
		require.NoError(t, err)

		require.NoError(t, g.RemoveContainer(ctx, "b1", true))
		list, err := g.ListContainers(ctx, false)
		require.NoError(t, err)
		require.Len(t, list, 1)

		cached, err := g.ListContainers(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, list, cached)
		assert.Equal(t, 2, engine.Calls("list"))
	})

	t.Run("unreachable engine", func(t *testing.T) {
		g, engine, _, metrics := newTestGateway(t)
		engine.SetUnreachable(true)

		_, err := g.ListContainers(ctx, true)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrEngineUnreachable))
		assert.False(t, g.IsConnected())
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EngineErrors.WithLabelValues("list")))
	})
}

func TestInspectContainer(t *testing.T) {
	ctx := context.Background()
	g, engine, _, _ := newTestGateway(t)
	engine.AddContainer("a1", "db")

	c, err := g.InspectContainer(ctx, "a1", true)
	require.NoError(t, err)
	assert.Equal(t, "db", c.Name)

	_, err = g.InspectContainer(ctx, "a1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.Calls("inspect"))

	_, err = g.InspectContainer(ctx, "missing", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInspectDoesNotNarrowCachedList(t *testing.T) {
	ctx := context.Background()

	t.Run("inspect before any listing", func(t *testing.T) {
		g, engine, _, _ := newTestGateway(t)
		engine.AddContainer("a1", "db")
		engine.AddContainer("b1", "web")
		engine.AddContainer("c1", "worker")

		_, err := g.InspectContainer(ctx, "b1", true)
		require.NoError(t, err)

		list, err := g.ListContainers(ctx, true)
		require.NoError(t, err)
		assert.Len(t, list, 3)
		assert.Equal(t, 1, engine.Calls("list"))
	})

	t.Run("inspect after the listing expired", func(t *testing.T) {
		g, engine, clock, _ := newTestGateway(t)
		engine.AddContainer("a1", "db")
		engine.AddContainer("b1", "web")

		_, err := g.ListContainers(ctx, true)
		require.NoError(t, err)
		clock.Advance(testTTL)
		_, err = g.InspectContainer(ctx, "b1", true)
		require.NoError(t, err)

		list, err := g.ListContainers(ctx, true)
		require.NoError(t, err)
		assert.Len(t, list, 2)
		assert.Equal(t, 2, engine.Calls("list"))
	})

	t.Run("callers cannot mutate the cached listing", func(t *testing.T) {
		g, engine, _, _ := newTestGateway(t)
		engine.AddContainer("a1", "db")

		first, err := g.ListContainers(ctx, true)
		require.NoError(t, err)
		first[0].Name = "changed"

		second, err := g.ListContainers(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, "db", second[0].Name)
	})
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	g, engine, clock, metrics := newTestGateway(t)
	engine.AddContainer("a1", "db")
	engine.Stats["a1"] = domain.RawStats{
		CPUTotal:       400,
		PreCPUTotal:    200,
		SystemUsage:    2000,
		PreSystemUsage: 1000,
		OnlineCPUs:     2,
		MemoryUsage:    256,
		MemoryLimit:    1024,
	}

	first, err := g.GetStats(ctx, "a1", true)
	require.NoError(t, err)
	assert.Equal(t, 40.0, first.CPUPercent)
	assert.Equal(t, 25.0, first.MemoryPercent)

	clock.Advance(time.Second)
	second, err := g.GetStats(ctx, "a1", true)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, engine.Calls("stats"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("stats", "hit")))

	fresh, err := g.GetStats(ctx, "a1", false)
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, 2, engine.Calls("stats"))
}

func TestComputeStats(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name    string
		raw     domain.RawStats
		wantCPU float64
		wantMem float64
	}{
		{
			name:    "first read has no previous sample",
			raw:     domain.RawStats{CPUTotal: 100, SystemUsage: 0, OnlineCPUs: 4},
			wantCPU: 0,
		},
		{
			name:    "falls back to per-cpu count",
			raw:     domain.RawStats{CPUTotal: 150, PreCPUTotal: 100, SystemUsage: 1100, PreSystemUsage: 100, PerCPUCount: 4},
			wantCPU: 20,
		},
		{
			name:    "rounds to two decimals",
			raw:     domain.RawStats{CPUTotal: 1, SystemUsage: 3, MemoryUsage: 1, MemoryLimit: 3},
			wantCPU: 33.33,
			wantMem: 33.33,
		},
		{
			name:    "zero memory limit",
			raw:     domain.RawStats{MemoryUsage: 512},
			wantMem: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ComputeStats("c", tt.raw, now)
			assert.Equal(t, tt.wantCPU, s.CPUPercent)
			assert.Equal(t, tt.wantMem, s.MemoryPercent)
			assert.Equal(t, now, s.Timestamp)
		})
	}
}

func TestPerformAction(t *testing.T) {
	ctx := context.Background()
	g, engine, _, _ := newTestGateway(t)
	engine.AddContainer("a1", "db")

	require.NoError(t, g.PerformAction(ctx, "a1", domain.ActionRestart))
	assert.Equal(t, []string{"restart:a1"}, engine.Actions())

	err := g.PerformAction(ctx, "a1", domain.Action("explode"))
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	err = g.PerformAction(ctx, "missing", domain.ActionStop)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBatchActions(t *testing.T) {
	ctx := context.Background()
	ops := []domain.BatchOperation{
		{ContainerID: "a1", Action: domain.ActionStop},
		{ContainerID: "missing", Action: domain.ActionStop},
		{ContainerID: "b1", Action: domain.ActionStop},
	}

	t.Run("all settled", func(t *testing.T) {
		g, engine, _, _ := newTestGateway(t)
		engine.AddContainer("a1", "db")
		engine.AddContainer("b1", "web")

		report, err := g.BatchActions(ctx, ops, false)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Succeeded)
		assert.Equal(t, 1, report.Failed)
		assert.Equal(t, 0, report.Skipped)
		require.Len(t, report.Results, 3)
		assert.Equal(t, "missing", report.Results[1].ContainerID)
		assert.False(t, report.Results[1].Success)
		assert.ErrorIs(t, report.Err(), domain.ErrNotFound)
		assert.Len(t, engine.Actions(), 3)
	})

	t.Run("strict stops at first failure", func(t *testing.T) {
		g, engine, _, _ := newTestGateway(t)
		engine.AddContainer("a1", "db")
		engine.AddContainer("b1", "web")

		report, err := g.BatchActions(ctx, ops, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, 1, report.Succeeded)
		assert.Equal(t, 1, report.Failed)
		assert.Equal(t, 1, report.Skipped)
		assert.True(t, report.Results[2].Skipped)
		assert.Equal(t, []string{"stop:a1", "stop:missing"}, engine.Actions())
	})
}

func TestLogsAndProcesses(t *testing.T) {
	ctx := context.Background()
	g, engine, _, _ := newTestGateway(t)
	engine.AddContainer("a1", "db")
	engine.Logs["a1"] = "one\ntwo\nthree\n"
	engine.Top["a1"] = []domain.Process{{PID: "1", User: "root", Command: "postgres"}}

	logs, err := g.Logs(ctx, "a1", domain.LogOptions{Tail: 100})
	require.NoError(t, err)
	assert.Equal(t, 3, logs.Lines)
	assert.Equal(t, "a1", logs.ContainerID)

	procs, err := g.Processes(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "postgres", procs[0].Command)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	g, engine, clock, _ := newTestGateway(t)
	engine.AddContainer("a1", "db")

	_, err := g.ListContainers(ctx, false)
	require.NoError(t, err)
	_, err = g.GetStats(ctx, "a1", false)
	require.NoError(t, err)

	_, err = g.InspectContainer(ctx, "a1", false)
	require.NoError(t, err)

	assert.Equal(t, 0, g.Sweep())
	clock.Advance(testTTL)
	assert.Equal(t, 3, g.Sweep())
}

func TestConnectionState(t *testing.T) {
	ctx := context.Background()
	g, engine, _, _ := newTestGateway(t)
	assert.False(t, g.IsConnected())

	require.NoError(t, g.TestConnection(ctx))
	assert.True(t, g.IsConnected())

	engine.SetUnreachable(true)
	assert.Error(t, g.TestConnection(ctx))
	assert.False(t, g.IsConnected())

	engine.SetUnreachable(false)
	_, err := g.ListContainers(ctx, false)
	require.NoError(t, err)
	assert.True(t, g.IsConnected())
}
