package hub

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports/portstest"
	"github.com/melih/lighthouse-console/internal/telemetry"
)

type staticStatus struct {
	snap domain.MetricSnapshot
}

func (s staticStatus) Latest() (domain.MetricSnapshot, bool) {
	return s.snap, true
}

func TestRegister(t *testing.T) {
	metrics := telemetry.New()
	h := New(zap.NewNop(), metrics)
	h.UseStatusSource(staticStatus{snap: domain.MetricSnapshot{CPUPercent: 12}})

	sub := portstest.NewFakeSubscriber("c1")
	h.Register(sub)

	assert.Equal(t, []string{domain.TopicSystem}, h.Topics("c1"))
	assert.Equal(t, 1, h.ConnectionCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Connections))

	status := sub.FramesOfType(domain.EventStatus)
	require.Len(t, status, 1)
	data := status[0].Data.(map[string]any)
	assert.Equal(t, 1, data["connections"])
	assert.Equal(t, 12.0, data["metrics"].(domain.MetricSnapshot).CPUPercent)
}

func TestJoinLeave(t *testing.T) {
	h := New(zap.NewNop(), telemetry.New())
	a := portstest.NewFakeSubscriber("a")
	b := portstest.NewFakeSubscriber("b")
	h.Register(a)
	h.Register(b)

	topic := domain.ContainerTopic("x1")
	require.NoError(t, h.Join("a", topic))
	require.NoError(t, h.Join("a", topic))
	require.NoError(t, h.Join("b", topic))
	assert.Equal(t, []string{"a", "b"}, h.Members(topic))
	assert.Equal(t, []string{"container:x1", "system"}, h.Topics("a"))

	h.Leave("a", topic)
	h.Leave("a", topic)
	assert.Equal(t, []string{"b"}, h.Members(topic))

	assert.ErrorIs(t, h.Join("ghost", topic), domain.ErrNotFound)

	h.Unregister(b)
	assert.Empty(t, h.Members(topic))
	assert.Equal(t, []string{"a"}, h.Members(domain.TopicSystem))
	assert.Empty(t, h.Topics("b"))
}

func TestBroadcast(t *testing.T) {
	metrics := telemetry.New()
	h := New(zap.NewNop(), metrics)
	good := portstest.NewFakeSubscriber("good")
	broken := portstest.NewFakeSubscriber("broken")
	broken.SendErr = errors.New("write: broken pipe")
	other := portstest.NewFakeSubscriber("other")
	h.Register(good)
	h.Register(broken)
	h.Register(other)

	topic := domain.ContainerTopic("x1")
	require.NoError(t, h.Join("good", topic))
	require.NoError(t, h.Join("broken", topic))

	delivered := h.Broadcast(topic, domain.EventContainerMetricsUpdate, map[string]float64{"cpu": 3})
	assert.Equal(t, 1, delivered)
	assert.Len(t, good.FramesOfType(domain.EventContainerMetricsUpdate), 1)
	assert.Empty(t, other.FramesOfType(domain.EventContainerMetricsUpdate))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsDelivered.WithLabelValues(domain.EventContainerMetricsUpdate)))

	assert.Equal(t, 2, h.Broadcast(domain.TopicSystem, domain.EventNotification, "hi"))
	assert.Equal(t, 0, h.Broadcast("container:nobody", domain.EventContainerMetricsUpdate, nil))
}
