package portstest

import (
	"bytes"
	"errors"
	"sync"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

var errChannelClosed = errors.New("channel closed")

// FakeChannel records what the server sends to a terminal client.
type FakeChannel struct {
	mu        sync.Mutex
	output    bytes.Buffer
	frames    []domain.Frame
	done      chan struct{}
	closeOnce sync.Once
}

var _ ports.TerminalChannel = (*FakeChannel)(nil)

func NewFakeChannel() *FakeChannel {
	return &FakeChannel{done: make(chan struct{})}
}

func (c *FakeChannel) WriteOutput(p []byte) error {
	if c.Closed() {
		return errChannelClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output.Write(p)
	return nil
}

func (c *FakeChannel) SendFrame(frame domain.Frame) error {
	if c.Closed() {
		return errChannelClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *FakeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *FakeChannel) Done() <-chan struct{} {
	return c.done
}

func (c *FakeChannel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *FakeChannel) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.String()
}

func (c *FakeChannel) Frames() []domain.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Frame(nil), c.frames...)
}

// FakeSubscriber is a hub subscriber that records frames.
type FakeSubscriber struct {
	id string
	// SendErr fails every SendFrame when set.
	SendErr error

	mu     sync.Mutex
	frames []domain.Frame
}

var _ ports.Subscriber = (*FakeSubscriber)(nil)

func NewFakeSubscriber(id string) *FakeSubscriber {
	return &FakeSubscriber{id: id}
}

func (s *FakeSubscriber) ID() string {
	return s.id
}

func (s *FakeSubscriber) SendFrame(frame domain.Frame) error {
	if s.SendErr != nil {
		return s.SendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *FakeSubscriber) Frames() []domain.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Frame(nil), s.frames...)
}

// FramesOfType filters recorded frames by type.
func (s *FakeSubscriber) FramesOfType(typ string) []domain.Frame {
	var out []domain.Frame
	for _, f := range s.Frames() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}
