package domain

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Action is a lifecycle verb understood by the engine.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionPause   Action = "pause"
	ActionUnpause Action = "unpause"
)

// ParseAction validates a user supplied verb.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStart, ActionStop, ActionRestart, ActionPause, ActionUnpause:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

type BatchOperation struct {
	ContainerID string `json:"container_id"`
	Action      Action `json:"action"`
}

type BatchResult struct {
	ContainerID string `json:"container_id"`
	Action      Action `json:"action"`
	Success     bool   `json:"success"`
	Skipped     bool   `json:"skipped,omitempty"`
	Error       string `json:"error,omitempty"`

	err error
}

// NewBatchResult records the outcome of one operation.
func NewBatchResult(op BatchOperation, err error) BatchResult {
	r := BatchResult{ContainerID: op.ContainerID, Action: op.Action, Success: err == nil, err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// SkippedResult marks an operation that a strict batch never ran.
func SkippedResult(op BatchOperation) BatchResult {
	return BatchResult{ContainerID: op.ContainerID, Action: op.Action, Skipped: true}
}

// BatchReport summarizes a batch call. Results keep the order of the request.
type BatchReport struct {
	Results   []BatchResult `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
}

func NewBatchReport(results []BatchResult) BatchReport {
	report := BatchReport{Results: results}
	for _, r := range results {
		switch {
		case r.Skipped:
			report.Skipped++
		case r.Success:
			report.Succeeded++
		default:
			report.Failed++
		}
	}
	return report
}

// Err folds every failed operation into one error, or nil if none failed.
func (r BatchReport) Err() error {
	var result *multierror.Error
	for _, res := range r.Results {
		if res.Success || res.Skipped {
			continue
		}
		err := res.err
		if err == nil {
			err = fmt.Errorf("%s", res.Error)
		}
		result = multierror.Append(result, fmt.Errorf("%s %s: %w", res.Action, res.ContainerID, err))
	}
	return result.ErrorOrNil()
}
