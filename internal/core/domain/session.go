package domain

import "time"

// SessionState is the lifecycle position of a terminal session.
type SessionState string

const (
	SessionCreated   SessionState = "created"
	SessionAttaching SessionState = "attaching"
	SessionAttached  SessionState = "attached"
	SessionClosed    SessionState = "closed"
)

// TerminalSession is the read-only view of a registry record.
type TerminalSession struct {
	ID           string       `json:"id"`
	ContainerID  string       `json:"container_id"`
	UserID       string       `json:"user_id,omitempty"`
	State        SessionState `json:"state"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
}

// ExecSpec describes the interactive process spawned for a session.
type ExecSpec struct {
	Cmd  []string
	Env  []string
	Tty  bool
	Cols uint
	Rows uint
}

// DefaultShell is the interactive command a terminal runs unless configured
// otherwise. It prefers bash and falls back to sh.
var DefaultShell = []string{"/bin/sh", "-c", "if command -v bash >/dev/null 2>&1; then exec bash; else exec sh; fi"}
