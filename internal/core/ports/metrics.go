package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

// HostProbe samples host-wide resource usage.
type HostProbe interface {
	Sample(ctx context.Context) (domain.MetricSnapshot, error)
}

// MetricsStore is an optional durable mirror of the sampler's history.
// Record appends one sample to a series and trims the series to keep entries.
type MetricsStore interface {
	Record(ctx context.Context, series string, at time.Time, sample any, keep int) error
	Recent(ctx context.Context, series string, limit int) ([]json.RawMessage, error)
}

// MetricsReader is the sampler as seen by the REST and realtime adapters.
type MetricsReader interface {
	Latest() (domain.MetricSnapshot, bool)
	History() []domain.MetricSnapshot
	ContainerHistory(containerID string) []domain.ContainerStats
	CheckAlerts(s domain.MetricSnapshot) []string
	ComputeBaseline() (domain.PerformanceBaseline, error)
	DetectAnomaly(s domain.MetricSnapshot) bool
}

// Publisher pushes an event to every subscriber of a topic.
type Publisher interface {
	Broadcast(topic, event string, payload any) int
}

// Subscriber is one realtime connection known to the hub.
type Subscriber interface {
	ID() string
	SendFrame(frame domain.Frame) error
}
