package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

const (
	// execPollInterval is how often Wait asks the engine whether the exec ended.
	execPollInterval = 100 * time.Millisecond
	// terminateTimeout bounds the inspect Terminate issues after hanging up.
	terminateTimeout = 2 * time.Second
)

// Exec creates an exec instance in containerID and attaches to its stdio.
func (a *Adapter) Exec(ctx context.Context, containerID string, spec domain.ExecSpec) (ports.ExecProcess, error) {
	var size *[2]uint
	if spec.Tty && spec.Cols > 0 && spec.Rows > 0 {
		size = &[2]uint{spec.Rows, spec.Cols}
	}

	created, err := a.cli.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		Tty:          spec.Tty,
		ConsoleSize:  size,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, classify("exec", containerID, err)
	}

	resp, err := a.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{
		Tty:         spec.Tty,
		ConsoleSize: size,
	})
	if err != nil {
		return nil, classify("exec", containerID, err)
	}

	p := &execProcess{
		cli:         a.cli,
		execID:      created.ID,
		containerID: containerID,
		resp:        resp,
		output:      resp.Reader,
		signal:      unix.Kill,
	}
	if !spec.Tty {
		pr, pw := io.Pipe()
		go func() {
			_, err := stdcopy.StdCopy(pw, pw, resp.Reader)
			pw.CloseWithError(err)
		}()
		p.output = pr
	}

	a.logger.Debug("exec attached",
		zap.String("container_id", containerID),
		zap.String("exec_id", created.ID),
		zap.Bool("tty", spec.Tty))
	return p, nil
}

// execProcess is a process started through the exec API with a hijacked
// stdio connection.
type execProcess struct {
	cli         client.APIClient
	execID      string
	containerID string
	resp        types.HijackedResponse
	output      io.Reader
	// signal delivers a signal to a host pid.
	signal func(pid int, sig unix.Signal) error

	terminateOnce sync.Once
	terminateErr  error
}

func (p *execProcess) Output() io.Reader {
	return p.output
}

func (p *execProcess) Write(b []byte) (int, error) {
	return p.resp.Conn.Write(b)
}

func (p *execProcess) Resize(ctx context.Context, cols, rows uint) error {
	if err := p.cli.ContainerExecResize(ctx, p.execID, container.ResizeOptions{Height: rows, Width: cols}); err != nil {
		return classify("exec resize", p.containerID, err)
	}
	return nil
}

// Wait polls the exec until it is no longer running.
func (p *execProcess) Wait(ctx context.Context) (int, error) {
	ticker := time.NewTicker(execPollInterval)
	defer ticker.Stop()
	for {
		inspect, err := p.cli.ContainerExecInspect(ctx, p.execID)
		if err != nil {
			return -1, classify("exec inspect", p.containerID, err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Terminate closes the attach connection. For a TTY exec the engine then
// hangs up the pseudo terminal. A process that ignores the hangup, or a
// non-TTY exec, is still running afterwards; it is sent SIGHUP through its
// host pid. The pid is only reachable when the engine shares the console's
// pid namespace, otherwise the signal fails and the exec is left to exit on
// its own.
func (p *execProcess) Terminate() error {
	p.terminateOnce.Do(func() {
		p.resp.Close()
		p.terminateErr = p.hangup()
	})
	return p.terminateErr
}

func (p *execProcess) hangup() error {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()

	inspect, err := p.cli.ContainerExecInspect(ctx, p.execID)
	if err != nil {
		return classify("exec inspect", p.containerID, err)
	}
	if !inspect.Running || inspect.Pid <= 0 {
		return nil
	}

	err = p.signal(inspect.Pid, unix.SIGHUP)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal exec %s pid %d: %w", p.execID, inspect.Pid, err)
}
