package ports

import (
	"context"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

// TerminalChannel is the client-facing end of a terminal session.
type TerminalChannel interface {
	// WriteOutput sends raw terminal bytes to the client.
	WriteOutput(p []byte) error
	SendFrame(frame domain.Frame) error
	// Close closes the client side. It must be safe to call more than once.
	Close() error
	// Done is closed once the client side has gone away for any reason.
	Done() <-chan struct{}
}

// SessionManager is the terminal registry as seen by the transport adapters.
type SessionManager interface {
	CreateSession(containerID, userID string) (string, error)
	Attach(ctx context.Context, sessionID string, ch TerminalChannel) error
	Open(ctx context.Context, containerID, userID string, ch TerminalChannel) (string, error)
	Send(ctx context.Context, sessionID string, data []byte) error
	Resize(ctx context.Context, sessionID string, cols, rows uint) error
	Close(sessionID string) error
	Get(sessionID string) (domain.TerminalSession, bool)
	List() []domain.TerminalSession
}
