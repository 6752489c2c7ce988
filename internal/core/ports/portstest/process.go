package portstest

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/melih/lighthouse-console/internal/core/ports"
)

// HangupExitCode is what a FakeProcess reports after Terminate, matching a
// shell killed by SIGHUP.
const HangupExitCode = 129

// FakeProcess is an in-memory ports.ExecProcess.
type FakeProcess struct {
	outR *io.PipeReader
	outW *io.PipeWriter

	// Respond, when set, produces output for every stdin write.
	Respond func(input []byte) []byte
	// ResizeErr is returned by Resize.
	ResizeErr error

	mu         sync.Mutex
	stdin      bytes.Buffer
	resizes    [][2]uint
	exitCode   int
	exited     chan struct{}
	exitOnce   sync.Once
	terminated chan struct{}
	termOnce   sync.Once
}

var _ ports.ExecProcess = (*FakeProcess)(nil)

func NewFakeProcess() *FakeProcess {
	r, w := io.Pipe()
	return &FakeProcess{
		outR:       r,
		outW:       w,
		exited:     make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

func (p *FakeProcess) Output() io.Reader {
	return p.outR
}

func (p *FakeProcess) Write(b []byte) (int, error) {
	select {
	case <-p.exited:
		return 0, io.ErrClosedPipe
	default:
	}
	p.mu.Lock()
	p.stdin.Write(b)
	respond := p.Respond
	p.mu.Unlock()
	if respond != nil {
		if out := respond(b); len(out) > 0 {
			if _, err := p.outW.Write(out); err != nil {
				return 0, err
			}
		}
	}
	return len(b), nil
}

// Emit writes output as if the process printed it.
func (p *FakeProcess) Emit(b []byte) error {
	_, err := p.outW.Write(b)
	return err
}

// Exit ends the process with code. Later calls are ignored.
func (p *FakeProcess) Exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		_ = p.outW.Close()
		close(p.exited)
	})
}

func (p *FakeProcess) Resize(ctx context.Context, cols, rows uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ResizeErr != nil {
		return p.ResizeErr
	}
	p.resizes = append(p.resizes, [2]uint{cols, rows})
	return nil
}

func (p *FakeProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.exited:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (p *FakeProcess) Terminate() error {
	p.termOnce.Do(func() { close(p.terminated) })
	p.Exit(HangupExitCode)
	return nil
}

// Terminated is closed once Terminate has been called.
func (p *FakeProcess) Terminated() <-chan struct{} {
	return p.terminated
}

// Stdin returns everything written to the process so far.
func (p *FakeProcess) Stdin() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin.String()
}

func (p *FakeProcess) Resizes() [][2]uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]uint(nil), p.resizes...)
}
