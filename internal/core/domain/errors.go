package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEngineUnreachable = errors.New("container engine unreachable")
	ErrNotFound          = errors.New("not found")
	ErrSpawnFailed       = errors.New("failed to spawn process")
	ErrTimeout           = errors.New("operation timed out")
	ErrNotConnected      = errors.New("session not connected")
	ErrInvalidAction     = errors.New("invalid action")
	ErrInvalidState      = errors.New("invalid session state")
	ErrSessionLimit      = errors.New("terminal session limit reached")
	ErrNoSamples         = errors.New("no metric samples collected")
)

// EngineError describes a failed call to the container engine. Kind is one
// of the sentinel errors above (or nil when the failure is unclassified) and
// Err is the underlying cause; errors.Is matches either.
type EngineError struct {
	Op          string
	ContainerID string
	Kind        error
	Err         error
}

func (e *EngineError) Error() string {
	target := ""
	if e.ContainerID != "" {
		target = " " + e.ContainerID
	}
	if e.Kind != nil {
		return fmt.Sprintf("engine %s%s: %v: %v", e.Op, target, e.Kind, e.Err)
	}
	return fmt.Sprintf("engine %s%s: %v", e.Op, target, e.Err)
}

func (e *EngineError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}
