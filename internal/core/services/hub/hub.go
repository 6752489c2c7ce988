// Package hub keeps the topic membership of realtime connections and fans
// events out to them.
package hub

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
	"github.com/melih/lighthouse-console/internal/telemetry"
)

// StatusSource supplies the latest host sample for the greeting sent to new
// connections.
type StatusSource interface {
	Latest() (domain.MetricSnapshot, bool)
}

// Hub fans events out to subscribers grouped by topic. A subscriber may
// join any number of topics.
type Hub struct {
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	subs    map[string]ports.Subscriber
	members map[string]map[string]struct{} // topic -> subscriber ids
	joined  map[string]map[string]struct{} // subscriber id -> topics
	status  StatusSource
}

var _ ports.Publisher = (*Hub)(nil)

// New returns an empty hub.
func New(logger *zap.Logger, metrics *telemetry.Metrics) *Hub {
	return &Hub{
		logger:  logger.Named("hub"),
		metrics: metrics,
		subs:    make(map[string]ports.Subscriber),
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// UseStatusSource sets where the greeting's metrics come from. The sampler
// publishes through the hub, so it is wired after both exist.
func (h *Hub) UseStatusSource(src StatusSource) {
	h.mu.Lock()
	h.status = src
	h.mu.Unlock()
}

// Register adds sub, joins it to the system topic and greets it with a
// status event.
func (h *Hub) Register(sub ports.Subscriber) {
	id := sub.ID()

	h.mu.Lock()
	h.subs[id] = sub
	h.joinLocked(id, domain.TopicSystem)
	count := len(h.subs)
	src := h.status
	h.mu.Unlock()

	h.metrics.Connections.Set(float64(count))
	h.logger.Debug("connection registered", zap.String("conn_id", id), zap.Int("connections", count))

	status := map[string]any{
		"message":     "Connected to Lighthouse",
		"connections": count,
	}
	if src != nil {
		if latest, ok := src.Latest(); ok {
			status["metrics"] = latest
		}
	}
	if err := sub.SendFrame(domain.Frame{Type: domain.EventStatus, Data: status}); err != nil {
		h.logger.Debug("failed to greet connection", zap.String("conn_id", id), zap.Error(err))
	}
}

// Unregister removes sub from every topic.
func (h *Hub) Unregister(sub ports.Subscriber) {
	id := sub.ID()

	h.mu.Lock()
	for topic := range h.joined[id] {
		h.leaveLocked(id, topic)
	}
	delete(h.joined, id)
	delete(h.subs, id)
	count := len(h.subs)
	h.mu.Unlock()

	h.metrics.Connections.Set(float64(count))
	h.logger.Debug("connection unregistered", zap.String("conn_id", id), zap.Int("connections", count))
}

// Join subscribes a registered connection to topic. Joining twice is a no-op.
func (h *Hub) Join(id, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	h.joinLocked(id, topic)
	return nil
}

// Leave unsubscribes id from topic. Leaving a topic not joined is a no-op.
func (h *Hub) Leave(id, topic string) {
	h.mu.Lock()
	h.leaveLocked(id, topic)
	h.mu.Unlock()
}

func (h *Hub) joinLocked(id, topic string) {
	if h.members[topic] == nil {
		h.members[topic] = make(map[string]struct{})
	}
	h.members[topic][id] = struct{}{}
	if h.joined[id] == nil {
		h.joined[id] = make(map[string]struct{})
	}
	h.joined[id][topic] = struct{}{}
}

func (h *Hub) leaveLocked(id, topic string) {
	if ids, ok := h.members[topic]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(h.members, topic)
		}
	}
	if topics, ok := h.joined[id]; ok {
		delete(topics, topic)
	}
}

// Broadcast sends event to every current member of topic and returns how
// many accepted it. Failed sends are logged and skipped.
func (h *Hub) Broadcast(topic, event string, payload any) int {
	h.mu.RLock()
	targets := make([]ports.Subscriber, 0, len(h.members[topic]))
	for id := range h.members[topic] {
		if sub, ok := h.subs[id]; ok {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	frame := domain.Frame{Type: event, Data: payload}
	delivered := 0
	for _, sub := range targets {
		if err := sub.SendFrame(frame); err != nil {
			h.logger.Debug("dropping event for connection",
				zap.String("conn_id", sub.ID()),
				zap.String("topic", topic),
				zap.String("event", event),
				zap.Error(err))
			continue
		}
		delivered++
	}
	if delivered > 0 {
		h.metrics.EventsDelivered.WithLabelValues(event).Add(float64(delivered))
	}
	return delivered
}

// Members lists the subscriber ids of topic in sorted order.
func (h *Hub) Members(topic string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.members[topic])
}

// Topics lists the topics id has joined in sorted order.
func (h *Hub) Topics(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.joined[id])
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
