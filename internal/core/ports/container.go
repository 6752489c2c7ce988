package ports

import (
	"context"
	"io"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

// ContainerEngine is the narrow view of the container engine the core needs.
// Implementations return *domain.EngineError for every failure so callers can
// classify with errors.Is against the domain sentinels.
type ContainerEngine interface {
	Ping(ctx context.Context) error
	ListContainers(ctx context.Context) ([]domain.ContainerSnapshot, error)
	InspectContainer(ctx context.Context, id string) (domain.ContainerSnapshot, error)
	ContainerStats(ctx context.Context, id string) (domain.RawStats, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RestartContainer(ctx context.Context, id string) error
	PauseContainer(ctx context.Context, id string) error
	UnpauseContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	ContainerLogs(ctx context.Context, id string, opts domain.LogOptions) (io.ReadCloser, error)
	ContainerTop(ctx context.Context, id string) ([]domain.Process, error)
	Exec(ctx context.Context, containerID string, spec domain.ExecSpec) (ExecProcess, error)
}

// ExecProcess is a running process inside a container with attached stdio.
type ExecProcess interface {
	// Output yields the combined stdout/stderr stream until the process exits.
	Output() io.Reader
	// Write feeds the process's stdin.
	Write(p []byte) (int, error)
	Resize(ctx context.Context, cols, rows uint) error
	// Wait blocks until the process has exited and returns its exit code.
	Wait(ctx context.Context) (int, error)
	// Terminate tears down the attach stream, which hangs up the process's TTY,
	// and signals the process if it is still running. Repeated calls return
	// the first result.
	Terminate() error
}

// ContainerGateway is the cache-backed service the REST layer and the
// sampler consume.
type ContainerGateway interface {
	ListContainers(ctx context.Context, useCache bool) ([]domain.ContainerSnapshot, error)
	InspectContainer(ctx context.Context, id string, useCache bool) (domain.ContainerSnapshot, error)
	GetStats(ctx context.Context, id string, useCache bool) (*domain.ContainerStats, error)
	PerformAction(ctx context.Context, id string, action domain.Action) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	BatchActions(ctx context.Context, ops []domain.BatchOperation, strict bool) (domain.BatchReport, error)
	Logs(ctx context.Context, id string, opts domain.LogOptions) (domain.LogResult, error)
	Processes(ctx context.Context, id string) ([]domain.Process, error)
	IsConnected() bool
}
