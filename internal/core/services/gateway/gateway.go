// Package gateway fronts the container engine with lifecycle verbs and a
// TTL cache for the frequently polled list and stats paths.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/melih/lighthouse-console/internal/telemetry"
)

// maxLogBytes bounds a single log read held in memory.
const maxLogBytes = 8 << 20

// listKey is the only key of the list cache.
const listKey = "all"

// Gateway implements ports.ContainerGateway.
type Gateway struct {
	engine  ports.ContainerEngine
	logger  *zap.Logger
	metrics *telemetry.Metrics
	clock   clockwork.Clock
	ttl     time.Duration

	// list holds the last full engine listing; snapshots holds per-id
	// inspect results and is never read back as a listing.
	list      *ttlCache[[]domain.ContainerSnapshot]
	snapshots *ttlCache[domain.ContainerSnapshot]
	stats     *ttlCache[*domain.ContainerStats]
	connected atomic.Bool
}

var _ ports.ContainerGateway = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(g *Gateway) { g.clock = clock }
}

// New creates a gateway over engine whose caches keep entries for ttl.
func New(engine ports.ContainerEngine, ttl time.Duration, logger *zap.Logger, metrics *telemetry.Metrics, opts ...Option) *Gateway {
	g := &Gateway{
		engine:  engine,
		logger:  logger.Named("gateway"),
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
		ttl:     ttl,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.list = newTTLCache[[]domain.ContainerSnapshot](ttl, g.clock)
	g.snapshots = newTTLCache[domain.ContainerSnapshot](ttl, g.clock)
	g.stats = newTTLCache[*domain.ContainerStats](ttl, g.clock)
	return g
}

// TestConnection probes the engine and updates IsConnected.
func (g *Gateway) TestConnection(ctx context.Context) error {
	if err := g.engine.Ping(ctx); err != nil {
		g.connected.Store(false)
		g.metrics.EngineErrors.WithLabelValues("ping").Inc()
		g.logger.Error("container engine not available", zap.Error(err))
		return err
	}
	g.connected.Store(true)
	g.logger.Info("container engine connected")
	return nil
}

// IsConnected reports the outcome of the last engine call.
func (g *Gateway) IsConnected() bool {
	return g.connected.Load()
}

// ListContainers returns every container. With useCache a non-empty fresh
// listing is served without touching the engine; otherwise the engine result
// replaces the cached listing wholesale. Inspect results never feed it.
func (g *Gateway) ListContainers(ctx context.Context, useCache bool) ([]domain.ContainerSnapshot, error) {
	if useCache {
		if cached, ok := g.list.Get(listKey); ok && len(cached) > 0 {
			g.metrics.CacheHit("containers")
			return slices.Clone(cached), nil
		}
	}
	g.metrics.CacheMiss("containers")

	list, err := g.engine.ListContainers(ctx)
	if err != nil {
		return nil, g.fail("list", "", err)
	}
	g.connected.Store(true)

	sortSnapshots(list)
	g.list.Set(listKey, slices.Clone(list))
	return list, nil
}

// InspectContainer returns one container's full snapshot. The cached path
// only consults earlier inspect results for the same id.
func (g *Gateway) InspectContainer(ctx context.Context, id string, useCache bool) (domain.ContainerSnapshot, error) {
	if useCache {
		if c, ok := g.snapshots.Get(id); ok {
			g.metrics.CacheHit("containers")
			return c, nil
		}
	}
	g.metrics.CacheMiss("containers")

	c, err := g.engine.InspectContainer(ctx, id)
	if err != nil {
		return domain.ContainerSnapshot{}, g.fail("inspect", id, err)
	}
	g.connected.Store(true)
	g.snapshots.Set(c.ID, c)
	return c, nil
}

// GetStats returns the container's resource usage. A fresh cached entry is
// returned as the same pointer that was stored.
func (g *Gateway) GetStats(ctx context.Context, id string, useCache bool) (*domain.ContainerStats, error) {
	if useCache {
		if s, ok := g.stats.Get(id); ok {
			g.metrics.CacheHit("stats")
			return s, nil
		}
	}
	g.metrics.CacheMiss("stats")

	raw, err := g.engine.ContainerStats(ctx, id)
	if err != nil {
		return nil, g.fail("stats", id, err)
	}
	g.connected.Store(true)

	s := ComputeStats(id, raw, g.clock.Now())
	g.stats.Set(id, s)
	return s, nil
}

// ComputeStats derives percentages from one engine stats read.
func ComputeStats(id string, raw domain.RawStats, now time.Time) *domain.ContainerStats {
	cpus := float64(raw.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(raw.PerCPUCount)
	}
	if cpus == 0 {
		cpus = 1
	}

	cpuPercent := 0.0
	cpuDelta := float64(raw.CPUTotal) - float64(raw.PreCPUTotal)
	systemDelta := float64(raw.SystemUsage) - float64(raw.PreSystemUsage)
	if cpuDelta > 0 && systemDelta > 0 {
		cpuPercent = cpuDelta / systemDelta * cpus * 100
	}

	memPercent := 0.0
	if raw.MemoryLimit > 0 {
		memPercent = float64(raw.MemoryUsage) / float64(raw.MemoryLimit) * 100
	}

	return &domain.ContainerStats{
		ContainerID:   id,
		CPUPercent:    round2(cpuPercent),
		MemoryUsage:   raw.MemoryUsage,
		MemoryLimit:   raw.MemoryLimit,
		MemoryPercent: round2(memPercent),
		NetworkRx:     raw.NetworkRx,
		NetworkTx:     raw.NetworkTx,
		BlockRead:     raw.BlockRead,
		BlockWrite:    raw.BlockWrite,
		PIDs:          raw.PIDs,
		Timestamp:     now,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// PerformAction dispatches a single lifecycle verb. There is no rollback.
func (g *Gateway) PerformAction(ctx context.Context, id string, action domain.Action) error {
	var err error
	switch action {
	case domain.ActionStart:
		err = g.engine.StartContainer(ctx, id)
	case domain.ActionStop:
		err = g.engine.StopContainer(ctx, id)
	case domain.ActionRestart:
		err = g.engine.RestartContainer(ctx, id)
	case domain.ActionPause:
		err = g.engine.PauseContainer(ctx, id)
	case domain.ActionUnpause:
		err = g.engine.UnpauseContainer(ctx, id)
	default:
		return fmt.Errorf("%w: %q", domain.ErrInvalidAction, action)
	}
	if err != nil {
		return g.fail(string(action), id, err)
	}
	g.connected.Store(true)
	g.logger.Info("container action performed", zap.String("action", string(action)), zap.String("container_id", id))
	return nil
}

// RemoveContainer deletes the container, killing it first when force is set.
func (g *Gateway) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := g.engine.RemoveContainer(ctx, id, force); err != nil {
		return g.fail("remove", id, err)
	}
	g.connected.Store(true)
	g.logger.Info("container removed", zap.String("container_id", id), zap.Bool("force", force))
	return nil
}

// BatchActions runs ops. When strict is false every op runs concurrently and
// individual failures are only reported; when strict is true ops run in
// order, the first failure stops the batch and is returned.
func (g *Gateway) BatchActions(ctx context.Context, ops []domain.BatchOperation, strict bool) (domain.BatchReport, error) {
	results := make([]domain.BatchResult, len(ops))

	if strict {
		for i, op := range ops {
			err := ctx.Err()
			if err == nil {
				err = g.PerformAction(ctx, op.ContainerID, op.Action)
			}
			results[i] = domain.NewBatchResult(op, err)
			if err != nil {
				for j := i + 1; j < len(ops); j++ {
					results[j] = domain.SkippedResult(ops[j])
				}
				return domain.NewBatchReport(results), fmt.Errorf("batch stopped at %s %s: %w", op.Action, op.ContainerID, err)
			}
		}
		return domain.NewBatchReport(results), nil
	}

	var eg errgroup.Group
	for i, op := range ops {
		eg.Go(func() error {
			results[i] = domain.NewBatchResult(op, g.PerformAction(ctx, op.ContainerID, op.Action))
			return nil
		})
	}
	_ = eg.Wait()

	report := domain.NewBatchReport(results)
	if err := report.Err(); err != nil {
		g.logger.Warn("batch completed with failures",
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.Error(err))
	}
	return report, nil
}

// Logs reads the container's output, bounded to maxLogBytes.
func (g *Gateway) Logs(ctx context.Context, id string, opts domain.LogOptions) (domain.LogResult, error) {
	rc, err := g.engine.ContainerLogs(ctx, id, opts)
	if err != nil {
		return domain.LogResult{}, g.fail("logs", id, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxLogBytes))
	if err != nil {
		return domain.LogResult{}, g.fail("logs", id, &domain.EngineError{Op: "logs", ContainerID: id, Err: err})
	}
	g.connected.Store(true)

	logs := string(data)
	lines := 0
	if logs != "" {
		lines = strings.Count(strings.TrimSuffix(logs, "\n"), "\n") + 1
	}
	return domain.LogResult{ContainerID: id, Logs: logs, Lines: lines}, nil
}

// Processes lists the processes running inside the container.
func (g *Gateway) Processes(ctx context.Context, id string) ([]domain.Process, error) {
	procs, err := g.engine.ContainerTop(ctx, id)
	if err != nil {
		return nil, g.fail("top", id, err)
	}
	g.connected.Store(true)
	return procs, nil
}

// Sweep evicts expired entries from every cache.
func (g *Gateway) Sweep() int {
	removed := g.list.Sweep() + g.snapshots.Sweep() + g.stats.Sweep()
	if removed > 0 {
		g.logger.Debug("cache sweep", zap.Int("evicted", removed))
	}
	return removed
}

// Run sweeps the caches every TTL until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	ticker := g.clock.NewTicker(g.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			g.Sweep()
		}
	}
}

// fail records an engine failure and returns it as a typed error.
func (g *Gateway) fail(op, id string, err error) error {
	var engineErr *domain.EngineError
	if !errors.As(err, &engineErr) {
		err = &domain.EngineError{Op: op, ContainerID: id, Err: err}
	}
	g.metrics.EngineErrors.WithLabelValues(op).Inc()

	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	if id != "" {
		fields = append(fields, zap.String("container_id", id))
	}
	switch {
	case errors.Is(err, domain.ErrEngineUnreachable):
		g.connected.Store(false)
		g.logger.Error("container engine unreachable", fields...)
	case errors.Is(err, domain.ErrNotFound):
		g.logger.Warn("container not found", fields...)
	default:
		g.logger.Error("engine call failed", fields...)
	}
	return err
}

func sortSnapshots(list []domain.ContainerSnapshot) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
}
