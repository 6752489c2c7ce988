// Package sampler polls host and container metrics on a fixed interval,
// keeps bounded histories and publishes updates to the realtime hub.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/melih/lighthouse-console/internal/telemetry"
)

const (
	// baselineWindow is how many trailing samples a baseline averages.
	baselineWindow = 10
	// maxBackoffTicks caps how many ticks the container stage sits out
	// while the engine is unreachable.
	maxBackoffTicks = 8
	// statsConcurrency bounds parallel container stats reads per tick.
	statsConcurrency = 8

	SeriesSystem = "system"
)

// Deviation limits in percentage points used by DetectAnomaly.
const (
	anomalyCPU    = 30.0
	anomalyMemory = 25.0
	anomalyDisk   = 20.0
)

// ContainerSeries names the store series for one container.
func ContainerSeries(containerID string) string {
	return domain.ContainerTopic(containerID)
}

type Config struct {
	Interval         time.Duration
	Retention        int
	ContainerMetrics bool
	Thresholds       domain.Thresholds
}

// Sampler implements ports.MetricsReader.
type Sampler struct {
	cfg       Config
	probe     ports.HostProbe
	gateway   ports.ContainerGateway
	publisher ports.Publisher
	store     ports.MetricsStore
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *telemetry.Metrics

	mu         sync.RWMutex
	history    []domain.MetricSnapshot
	containers map[string][]domain.ContainerStats
	baseline   *domain.PerformanceBaseline

	// stage state, only touched under stageMu
	stageMu     sync.Mutex
	backoff     int
	skip        int
	engineUp    bool
	engineKnown bool
}

var _ ports.MetricsReader = (*Sampler)(nil)

type Option func(*Sampler)

// WithStore mirrors every sample to a durable store.
func WithStore(store ports.MetricsStore) Option {
	return func(s *Sampler) { s.store = store }
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Sampler) { s.clock = clock }
}

// New returns a sampler that has not started; call Run to begin sampling.
func New(cfg Config, probe ports.HostProbe, gateway ports.ContainerGateway, publisher ports.Publisher, logger *zap.Logger, metrics *telemetry.Metrics, opts ...Option) *Sampler {
	if cfg.Retention <= 0 {
		cfg.Retention = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Thresholds == (domain.Thresholds{}) {
		cfg.Thresholds = domain.DefaultThresholds()
	}
	s := &Sampler{
		cfg:        cfg,
		probe:      probe,
		gateway:    gateway,
		publisher:  publisher,
		clock:      clockwork.NewRealClock(),
		logger:     logger.Named("sampler"),
		metrics:    metrics,
		containers: make(map[string][]domain.ContainerStats),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run samples once per interval until ctx is done. The interval never
// changes, whatever the outcome of a tick.
func (s *Sampler) Run(ctx context.Context) {
	s.logger.Info("metrics sampler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("retention", s.cfg.Retention),
		zap.Bool("container_metrics", s.cfg.ContainerMetrics))

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("metrics sampler stopped")
			return
		case <-ticker.Chan():
			_ = s.SampleOnce(ctx)
		}
	}
}

// SampleOnce runs one tick. It returns the host sampling error, if any; the
// container stage never fails the tick.
func (s *Sampler) SampleOnce(ctx context.Context) error {
	snap, err := s.probe.Sample(ctx)
	if err != nil {
		s.metrics.SampleFailures.Inc()
		s.logger.Warn("host sample failed", zap.Error(err))
	} else {
		s.recordHost(ctx, snap)
	}

	if s.cfg.ContainerMetrics && s.gateway != nil {
		s.sampleContainers(ctx)
	}
	return err
}

func (s *Sampler) recordHost(ctx context.Context, snap domain.MetricSnapshot) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.clock.Now()
	}

	s.mu.Lock()
	s.history = appendBounded(s.history, snap, s.cfg.Retention)
	s.mu.Unlock()

	s.metrics.HostUsage.WithLabelValues("cpu").Set(snap.CPUPercent)
	s.metrics.HostUsage.WithLabelValues("memory").Set(snap.MemoryPercent)
	s.metrics.HostUsage.WithLabelValues("disk").Set(snap.DiskPercent)

	s.mirror(ctx, SeriesSystem, snap.Timestamp, snap)

	if s.publisher == nil {
		return
	}
	s.publisher.Broadcast(domain.TopicSystem, domain.EventSystemMetricsUpdate, snap)
	for _, alert := range s.CheckAlerts(snap) {
		s.publisher.Broadcast(domain.TopicSystem, domain.EventNotification, map[string]any{
			"level":     "warning",
			"message":   alert,
			"timestamp": snap.Timestamp,
		})
	}
}

func (s *Sampler) mirror(ctx context.Context, series string, at time.Time, sample any) {
	if s.store == nil {
		return
	}
	if err := s.store.Record(ctx, series, at, sample, s.cfg.Retention); err != nil {
		s.logger.Warn("failed to mirror sample", zap.String("series", series), zap.Error(err))
	}
}

// sampleContainers reads stats for every running container. The listing
// always goes to the engine so reachability is observed on every attempt.
// While the engine is unreachable the stage sits out 1, 2, 4 and then 8
// ticks between attempts.
func (s *Sampler) sampleContainers(ctx context.Context) {
	s.stageMu.Lock()
	defer s.stageMu.Unlock()

	if s.skip > 0 {
		s.skip--
		return
	}

	list, err := s.gateway.ListContainers(ctx, false)
	if err != nil {
		if errors.Is(err, domain.ErrEngineUnreachable) {
			s.backoff = nextBackoff(s.backoff)
			s.skip = s.backoff
			s.logger.Warn("container engine unreachable, backing off",
				zap.Int("skip_ticks", s.skip))
			s.setEngineState(false)
		}
		return
	}
	s.backoff = 0
	s.setEngineState(true)

	live := make(map[string]struct{}, len(list))
	var eg errgroup.Group
	eg.SetLimit(statsConcurrency)
	for _, c := range list {
		if !c.Running() {
			continue
		}
		live[c.ID] = struct{}{}
		eg.Go(func() error {
			stats, err := s.gateway.GetStats(ctx, c.ID, false)
			if err != nil {
				s.logger.Debug("container stats failed", zap.String("container_id", c.ID), zap.Error(err))
				return nil
			}
			s.recordContainer(ctx, *stats)
			return nil
		})
	}
	_ = eg.Wait()

	s.mu.Lock()
	for id := range s.containers {
		if _, ok := live[id]; !ok {
			delete(s.containers, id)
		}
	}
	s.mu.Unlock()
}

func (s *Sampler) recordContainer(ctx context.Context, stats domain.ContainerStats) {
	s.mu.Lock()
	s.containers[stats.ContainerID] = appendBounded(s.containers[stats.ContainerID], stats, s.cfg.Retention)
	s.mu.Unlock()

	s.mirror(ctx, ContainerSeries(stats.ContainerID), stats.Timestamp, stats)
	if s.publisher != nil {
		s.publisher.Broadcast(domain.ContainerTopic(stats.ContainerID), domain.EventContainerMetricsUpdate, stats)
	}
}

// setEngineState publishes system_status on the first observation and on
// every change of engine reachability.
func (s *Sampler) setEngineState(up bool) {
	if s.engineKnown && s.engineUp == up {
		return
	}
	s.engineKnown = true
	s.engineUp = up
	if s.publisher != nil {
		s.publisher.Broadcast(domain.TopicSystem, domain.EventSystemStatus, map[string]any{
			"engine_connected": up,
			"timestamp":        s.clock.Now(),
		})
	}
}

func nextBackoff(current int) int {
	if current == 0 {
		return 1
	}
	return min(current*2, maxBackoffTicks)
}

func appendBounded[T any](list []T, v T, limit int) []T {
	list = append(list, v)
	if over := len(list) - limit; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}

// CheckAlerts describes every threshold the snapshot exceeds.
func (s *Sampler) CheckAlerts(snap domain.MetricSnapshot) []string {
	t := s.cfg.Thresholds
	var alerts []string
	if snap.CPUPercent > t.CPU {
		alerts = append(alerts, fmt.Sprintf("High CPU usage: %.1f%% (threshold %.0f%%)", snap.CPUPercent, t.CPU))
	}
	if snap.MemoryPercent > t.Memory {
		alerts = append(alerts, fmt.Sprintf("High memory usage: %.1f%% (threshold %.0f%%)", snap.MemoryPercent, t.Memory))
	}
	if snap.DiskPercent > t.Disk {
		alerts = append(alerts, fmt.Sprintf("High disk usage: %.1f%% (threshold %.0f%%)", snap.DiskPercent, t.Disk))
	}
	return alerts
}

// ComputeBaseline averages the trailing samples and stores the result for
// DetectAnomaly.
func (s *Sampler) ComputeBaseline() (domain.PerformanceBaseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return domain.PerformanceBaseline{}, domain.ErrNoSamples
	}
	window := s.history[max(0, len(s.history)-baselineWindow):]

	var b domain.PerformanceBaseline
	for _, snap := range window {
		b.CPU += snap.CPUPercent
		b.Memory += snap.MemoryPercent
		b.Disk += snap.DiskPercent
	}
	n := float64(len(window))
	b.CPU /= n
	b.Memory /= n
	b.Disk /= n
	b.Samples = len(window)
	b.ComputedAt = s.clock.Now()

	s.baseline = &b
	return b, nil
}

// SetBaseline replaces the last computed baseline.
func (s *Sampler) SetBaseline(b domain.PerformanceBaseline) {
	s.mu.Lock()
	s.baseline = &b
	s.mu.Unlock()
}

// DetectAnomaly compares snap with the last computed baseline. It is false
// until a baseline exists.
func (s *Sampler) DetectAnomaly(snap domain.MetricSnapshot) bool {
	s.mu.RLock()
	b := s.baseline
	s.mu.RUnlock()
	if b == nil {
		return false
	}
	return math.Abs(snap.CPUPercent-b.CPU) > anomalyCPU ||
		math.Abs(snap.MemoryPercent-b.Memory) > anomalyMemory ||
		math.Abs(snap.DiskPercent-b.Disk) > anomalyDisk
}

// Latest returns the newest host sample.
func (s *Sampler) Latest() (domain.MetricSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return domain.MetricSnapshot{}, false
	}
	return s.history[len(s.history)-1], true
}

// History returns a copy of the host samples, oldest first.
func (s *Sampler) History() []domain.MetricSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.MetricSnapshot(nil), s.history...)
}

// ContainerHistory returns the retained stats for one container, oldest first.
func (s *Sampler) ContainerHistory(containerID string) []domain.ContainerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ContainerStats(nil), s.containers[containerID]...)
}
