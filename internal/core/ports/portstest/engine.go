// Package portstest provides in-memory implementations of the core ports for
// tests across the module.
package portstest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

// FakeEngine is a scripted ports.ContainerEngine.
type FakeEngine struct {
	mu sync.Mutex

	Containers map[string]domain.ContainerSnapshot
	Stats      map[string]domain.RawStats
	Logs       map[string]string
	Top        map[string][]domain.Process

	// ActionErrors fails lifecycle calls for the given container ids.
	ActionErrors map[string]error
	// Unreachable makes every call fail with domain.ErrEngineUnreachable.
	Unreachable bool
	// ExecFunc spawns processes; when nil Exec returns a fresh FakeProcess.
	ExecFunc func(containerID string, spec domain.ExecSpec) (ports.ExecProcess, error)

	calls   map[string]int
	actions []string
	execs   []*FakeProcess
}

var _ ports.ContainerEngine = (*FakeEngine)(nil)

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		Containers:   map[string]domain.ContainerSnapshot{},
		Stats:        map[string]domain.RawStats{},
		Logs:         map[string]string{},
		Top:          map[string][]domain.Process{},
		ActionErrors: map[string]error{},
		calls:        map[string]int{},
	}
}

// AddContainer registers a running container with the given id and name.
func (f *FakeEngine) AddContainer(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Containers[id] = domain.ContainerSnapshot{ID: id, ShortID: id, Name: name, State: "running", Status: "Up"}
}

func (f *FakeEngine) SetUnreachable(v bool) {
	f.mu.Lock()
	f.Unreachable = v
	f.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (f *FakeEngine) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Actions returns "action:id" entries in call order.
func (f *FakeEngine) Actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

// Processes returns every process spawned through the default ExecFunc.
func (f *FakeEngine) Processes() []*FakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeProcess(nil), f.execs...)
}

func (f *FakeEngine) begin(op, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.Unreachable {
		return &domain.EngineError{Op: op, ContainerID: id, Kind: domain.ErrEngineUnreachable, Err: io.ErrUnexpectedEOF}
	}
	return nil
}

func (f *FakeEngine) lookup(op, id string) (domain.ContainerSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Containers[id]
	if !ok {
		return domain.ContainerSnapshot{}, &domain.EngineError{Op: op, ContainerID: id, Kind: domain.ErrNotFound, Err: fmt.Errorf("no such container: %s", id)}
	}
	return c, nil
}

func (f *FakeEngine) Ping(ctx context.Context) error {
	return f.begin("ping", "")
}

func (f *FakeEngine) ListContainers(ctx context.Context) ([]domain.ContainerSnapshot, error) {
	if err := f.begin("list", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ContainerSnapshot, 0, len(f.Containers))
	for _, c := range f.Containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FakeEngine) InspectContainer(ctx context.Context, id string) (domain.ContainerSnapshot, error) {
	if err := f.begin("inspect", id); err != nil {
		return domain.ContainerSnapshot{}, err
	}
	return f.lookup("inspect", id)
}

func (f *FakeEngine) ContainerStats(ctx context.Context, id string) (domain.RawStats, error) {
	if err := f.begin("stats", id); err != nil {
		return domain.RawStats{}, err
	}
	if _, err := f.lookup("stats", id); err != nil {
		return domain.RawStats{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Stats[id], nil
}

func (f *FakeEngine) action(op, id string) error {
	if err := f.begin(op, id); err != nil {
		return err
	}
	f.mu.Lock()
	f.actions = append(f.actions, op+":"+id)
	actionErr := f.ActionErrors[id]
	f.mu.Unlock()
	if actionErr != nil {
		return &domain.EngineError{Op: op, ContainerID: id, Err: actionErr}
	}
	_, err := f.lookup(op, id)
	return err
}

func (f *FakeEngine) StartContainer(ctx context.Context, id string) error {
	return f.action("start", id)
}

func (f *FakeEngine) StopContainer(ctx context.Context, id string) error {
	return f.action("stop", id)
}

func (f *FakeEngine) RestartContainer(ctx context.Context, id string) error {
	return f.action("restart", id)
}

func (f *FakeEngine) PauseContainer(ctx context.Context, id string) error {
	return f.action("pause", id)
}

func (f *FakeEngine) UnpauseContainer(ctx context.Context, id string) error {
	return f.action("unpause", id)
}

func (f *FakeEngine) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := f.action("remove", id); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.Containers, id)
	f.mu.Unlock()
	return nil
}

func (f *FakeEngine) ContainerLogs(ctx context.Context, id string, opts domain.LogOptions) (io.ReadCloser, error) {
	if err := f.begin("logs", id); err != nil {
		return nil, err
	}
	if _, err := f.lookup("logs", id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return io.NopCloser(strings.NewReader(f.Logs[id])), nil
}

func (f *FakeEngine) ContainerTop(ctx context.Context, id string) ([]domain.Process, error) {
	if err := f.begin("top", id); err != nil {
		return nil, err
	}
	if _, err := f.lookup("top", id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Top[id], nil
}

func (f *FakeEngine) Exec(ctx context.Context, containerID string, spec domain.ExecSpec) (ports.ExecProcess, error) {
	if err := f.begin("exec", containerID); err != nil {
		return nil, err
	}
	if f.ExecFunc != nil {
		return f.ExecFunc(containerID, spec)
	}
	c, err := f.lookup("exec", containerID)
	if err != nil {
		return nil, err
	}
	if !c.Running() {
		return nil, &domain.EngineError{Op: "exec", ContainerID: containerID, Err: fmt.Errorf("container %s is not running", containerID)}
	}
	p := NewFakeProcess()
	f.mu.Lock()
	f.execs = append(f.execs, p)
	f.mu.Unlock()
	return p, nil
}
