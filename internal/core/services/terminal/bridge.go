package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/core/domain"
	"github.com/melih/lighthouse-console/internal/core/ports"
)

const (
	outputBufferSize = 32 * 1024
	// exitWaitTimeout bounds how long the pump waits for an exit code after
	// the output stream ended.
	exitWaitTimeout = 5 * time.Second

	defaultTerm = "xterm-256color"
	defaultCols = 80
	defaultRows = 24
)

// BridgeConfig describes the shell started for each session.
type BridgeConfig struct {
	Shell []string
	Term  string
	Cols  uint
	Rows  uint
}

// Bridge connects a terminal channel to an interactive shell running inside
// a container.
type Bridge struct {
	engine ports.ContainerEngine
	cfg    BridgeConfig
	logger *zap.Logger
}

func NewBridge(engine ports.ContainerEngine, cfg BridgeConfig, logger *zap.Logger) *Bridge {
	if len(cfg.Shell) == 0 {
		cfg.Shell = domain.DefaultShell
	}
	if cfg.Term == "" {
		cfg.Term = defaultTerm
	}
	if cfg.Cols == 0 || cfg.Rows == 0 {
		cfg.Cols, cfg.Rows = defaultCols, defaultRows
	}
	return &Bridge{engine: engine, cfg: cfg, logger: logger.Named("bridge")}
}

// Attach spawns the shell in containerID and starts pumping bytes between it
// and ch. onDone runs exactly once when either side goes away.
func (b *Bridge) Attach(ctx context.Context, containerID string, ch ports.TerminalChannel, onDone func()) (*Link, error) {
	proc, err := b.engine.Exec(ctx, containerID, domain.ExecSpec{
		Cmd:  b.cfg.Shell,
		Env:  []string{"TERM=" + b.cfg.Term},
		Tty:  true,
		Cols: b.cfg.Cols,
		Rows: b.cfg.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSpawnFailed, err)
	}

	l := &Link{
		proc:   proc,
		ch:     ch,
		onDone: onDone,
		writes: make(chan writeRequest),
		done:   make(chan struct{}),
		logger: b.logger.With(zap.String("container_id", containerID)),
	}
	go l.pump()
	go l.watch()
	go l.writer()
	return l, nil
}

type writeRequest struct {
	data   []byte
	result chan error
}

// Link is one live channel/process pairing.
type Link struct {
	proc   ports.ExecProcess
	ch     ports.TerminalChannel
	onDone func()
	logger *zap.Logger

	writes   chan writeRequest
	done     chan struct{}
	doneOnce sync.Once
}

// Done is closed once the link has ended.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Write feeds data to the process's stdin. Writes are applied in call order
// by a single writer goroutine; ctx bounds how long the caller waits.
func (l *Link) Write(ctx context.Context, data []byte) error {
	req := writeRequest{data: data, result: make(chan error, 1)}
	select {
	case l.writes <- req:
	case <-l.done:
		return domain.ErrNotConnected
	case <-ctx.Done():
		return writeTimeout(ctx)
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return writeTimeout(ctx)
	}
}

func writeTimeout(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: write to terminal", domain.ErrTimeout)
	}
	return ctx.Err()
}

// Resize sets the terminal window size. When the engine cannot resize the
// exec the size is sent in-band as an xterm window manipulation sequence.
func (l *Link) Resize(ctx context.Context, cols, rows uint) error {
	err := l.proc.Resize(ctx, cols, rows)
	if err == nil {
		return nil
	}
	l.logger.Debug("exec resize failed, sending escape sequence", zap.Error(err))
	return l.Write(ctx, []byte(fmt.Sprintf("\x1b[8;%d;%dt", rows, cols)))
}

// Close terminates the process and closes the channel.
func (l *Link) Close() {
	if err := l.proc.Terminate(); err != nil {
		l.logger.Debug("terminate failed", zap.Error(err))
	}
	_ = l.ch.Close()
}

func (l *Link) finish() {
	l.doneOnce.Do(func() {
		close(l.done)
		if l.onDone != nil {
			l.onDone()
		}
	})
}

func (l *Link) writer() {
	for {
		select {
		case req := <-l.writes:
			_, err := l.proc.Write(req.data)
			req.result <- err
		case <-l.done:
			return
		}
	}
}

// pump copies process output to the channel until the process exits, then
// reports the exit code and closes the channel.
func (l *Link) pump() {
	out := l.proc.Output()
	buf := make([]byte, outputBufferSize)
	for {
		n, err := out.Read(buf)
		if n > 0 {
			if werr := l.ch.WriteOutput(buf[:n]); werr != nil {
				l.logger.Debug("terminal channel gone", zap.Error(werr))
				_ = l.proc.Terminate()
				l.finish()
				return
			}
		}
		if err != nil {
			break
		}
	}

	code := -1
	ctx, cancel := context.WithTimeout(context.Background(), exitWaitTimeout)
	if c, err := l.proc.Wait(ctx); err == nil {
		code = c
	} else {
		l.logger.Debug("no exit code for terminal process", zap.Error(err))
	}
	cancel()

	l.logger.Debug("terminal process exited", zap.Int("exit_code", code))
	_ = l.ch.WriteOutput([]byte(fmt.Sprintf("\r\n[process exited with code %d]\r\n", code)))
	_ = l.ch.Close()
	l.finish()
}

// watch terminates the process when the client side closes first.
func (l *Link) watch() {
	select {
	case <-l.ch.Done():
		l.logger.Debug("terminal channel closed, terminating process")
		_ = l.proc.Terminate()
		l.finish()
	case <-l.done:
	}
}
