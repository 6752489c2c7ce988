package portstest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

// FakeProbe returns queued samples in order, then repeats the last one.
type FakeProbe struct {
	mu      sync.Mutex
	samples []domain.MetricSnapshot
	// Err fails every Sample call while set.
	Err error
}

var _ ports.HostProbe = (*FakeProbe)(nil)

func NewFakeProbe(samples ...domain.MetricSnapshot) *FakeProbe {
	return &FakeProbe{samples: samples}
}

func (p *FakeProbe) Push(s domain.MetricSnapshot) {
	p.mu.Lock()
	p.samples = append(p.samples, s)
	p.mu.Unlock()
}

func (p *FakeProbe) SetErr(err error) {
	p.mu.Lock()
	p.Err = err
	p.mu.Unlock()
}

func (p *FakeProbe) Sample(ctx context.Context) (domain.MetricSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return domain.MetricSnapshot{}, p.Err
	}
	if len(p.samples) == 0 {
		return domain.MetricSnapshot{}, nil
	}
	s := p.samples[0]
	if len(p.samples) > 1 {
		p.samples = p.samples[1:]
	}
	return s, nil
}

// FakeStore keeps series in memory with the same trim rule as the real store.
type FakeStore struct {
	mu     sync.Mutex
	series map[string][]json.RawMessage
}

var _ ports.MetricsStore = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{series: map[string][]json.RawMessage{}}
}

func (s *FakeStore) Record(ctx context.Context, series string, at time.Time, sample any, keep int) error {
	raw, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append(s.series[series], raw)
	if keep > 0 && len(entries) > keep {
		entries = entries[len(entries)-keep:]
	}
	s.series[series] = entries
	return nil
}

// Recent returns up to limit entries, oldest first.
func (s *FakeStore) Recent(ctx context.Context, series string, limit int) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.series[series]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]json.RawMessage(nil), entries...), nil
}

func (s *FakeStore) Len(series string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series[series])
}

// Published is one call recorded by FakePublisher.
type Published struct {
	Topic   string
	Event   string
	Payload any
}

// FakePublisher records broadcasts instead of delivering them.
type FakePublisher struct {
	mu     sync.Mutex
	events []Published
}

var _ ports.Publisher = (*FakePublisher)(nil)

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (p *FakePublisher) Broadcast(topic, event string, payload any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Published{Topic: topic, Event: event, Payload: payload})
	return 1
}

func (p *FakePublisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.events...)
}

// EventsOf filters recorded broadcasts by event name.
func (p *FakePublisher) EventsOf(event string) []Published {
	var out []Published
	for _, e := range p.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
