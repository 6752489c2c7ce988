package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/config"
	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

// stopTimeout is how long stop and restart wait before the engine kills.
const stopTimeout = 10

// Adapter implements ports.ContainerEngine using the Docker SDK.
type Adapter struct {
	cli     client.APIClient
	timeout time.Duration
	logger  *zap.Logger
}

var _ ports.ContainerEngine = (*Adapter)(nil)

// NewAdapter creates a Docker client for cfg. With an empty host the
// DOCKER_HOST family of environment variables is used.
func NewAdapter(cfg config.EngineConfig, logger *zap.Logger) (*Adapter, error) {
	opts := []client.Opt{client.FromEnv}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.TLS.Enabled() {
		opts = append(opts, client.WithTLSClientConfig(cfg.TLS.CACert, cfg.TLS.Cert, cfg.TLS.Key))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newAdapter(cli, cfg.Timeout, logger), nil
}

func newAdapter(cli client.APIClient, timeout time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{cli: cli, timeout: timeout, logger: logger.Named("docker")}
}

// Close releases the client's idle connections.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// call bounds a non-streaming request by the configured engine timeout.
func (a *Adapter) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// classify turns an SDK error into a *domain.EngineError.
func classify(op, id string, err error) error {
	var kind error
	switch {
	case client.IsErrConnectionFailed(err):
		kind = domain.ErrEngineUnreachable
	case errdefs.IsNotFound(err):
		kind = domain.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.ErrTimeout
	}
	return &domain.EngineError{Op: op, ContainerID: id, Kind: kind, Err: err}
}

func (a *Adapter) Ping(ctx context.Context) error {
	ctx, cancel := a.call(ctx)
	defer cancel()
	ping, err := a.cli.Ping(ctx)
	if err != nil {
		return classify("ping", "", err)
	}
	a.logger.Debug("engine ping", zap.String("api_version", ping.APIVersion), zap.String("os_type", ping.OSType))
	return nil
}

// ListContainers returns all containers, running or not.
func (a *Adapter) ListContainers(ctx context.Context) ([]domain.ContainerSnapshot, error) {
	ctx, cancel := a.call(ctx)
	defer cancel()
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, classify("list", "", err)
	}

	result := make([]domain.ContainerSnapshot, 0, len(containers))
	for _, c := range containers {
		result = append(result, snapshotFromSummary(c))
	}
	return result, nil
}

func (a *Adapter) InspectContainer(ctx context.Context, id string) (domain.ContainerSnapshot, error) {
	ctx, cancel := a.call(ctx)
	defer cancel()
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return domain.ContainerSnapshot{}, classify("inspect", id, err)
	}
	return snapshotFromInspect(info), nil
}

// ContainerStats takes one non-streaming stats read, which includes the
// previous CPU sample needed for a usage percentage.
func (a *Adapter) ContainerStats(ctx context.Context, id string) (domain.RawStats, error) {
	ctx, cancel := a.call(ctx)
	defer cancel()
	resp, err := a.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return domain.RawStats{}, classify("stats", id, err)
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return domain.RawStats{}, classify("stats", id, fmt.Errorf("failed to decode stats: %w", err))
	}
	return rawStats(stats), nil
}

func (a *Adapter) StartContainer(ctx context.Context, id string) error {
	ctx, cancel := a.call(ctx)
	defer cancel()
	if err := a.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return classify("start", id, err)
	}
	return nil
}

func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	ctx, cancel := a.call(ctx)
	defer cancel()
	timeout := stopTimeout
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return classify("stop", id, err)
	}
	return nil
}

func (a *Adapter) RestartContainer(ctx context.Context, id string) error {
	ctx, cancel := a.call(ctx)
	defer cancel()
	timeout := stopTimeout
	if err := a.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return classify("restart", id, err)
	}
	return nil
}

func (a *Adapter) PauseContainer(ctx context.Context, id string) error {
	ctx, cancel := a.call(ctx)
	defer cancel()
	if err := a.cli.ContainerPause(ctx, id); err != nil {
		return classify("pause", id, err)
	}
	return nil
}

func (a *Adapter) UnpauseContainer(ctx context.Context, id string) error {
	ctx, cancel := a.call(ctx)
	defer cancel()
	if err := a.cli.ContainerUnpause(ctx, id); err != nil {
		return classify("unpause", id, err)
	}
	return nil
}

func (a *Adapter) RemoveContainer(ctx context.Context, id string, force bool) error {
	ctx, cancel := a.call(ctx)
	defer cancel()
	if err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return classify("remove", id, err)
	}
	return nil
}

// ContainerLogs returns stdout and stderr as plain text. Non-TTY containers
// multiplex both streams, so they are demultiplexed here.
func (a *Adapter) ContainerLogs(ctx context.Context, id string, opts domain.LogOptions) (io.ReadCloser, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, classify("logs", id, err)
	}

	rc, err := a.cli.ContainerLogs(ctx, id, logsOptions(opts))
	if err != nil {
		return nil, classify("logs", id, err)
	}
	if info.Config != nil && info.Config.Tty {
		return rc, nil
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		rc.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func logsOptions(opts domain.LogOptions) container.LogsOptions {
	out := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: opts.Timestamps,
		Tail:       "all",
	}
	if opts.Tail > 0 {
		out.Tail = strconv.Itoa(opts.Tail)
	}
	if !opts.Since.IsZero() {
		out.Since = strconv.FormatInt(opts.Since.Unix(), 10)
	}
	if !opts.Until.IsZero() {
		out.Until = strconv.FormatInt(opts.Until.Unix(), 10)
	}
	return out
}

// ContainerTop lists processes. A container that is not running has none.
func (a *Adapter) ContainerTop(ctx context.Context, id string) ([]domain.Process, error) {
	ctx, cancel := a.call(ctx)
	defer cancel()
	top, err := a.cli.ContainerTop(ctx, id, []string{"aux"})
	if err != nil {
		if errdefs.IsConflict(err) {
			return []domain.Process{}, nil
		}
		return nil, classify("top", id, err)
	}
	return processesFromTop(top.Titles, top.Processes), nil
}
