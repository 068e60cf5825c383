// Package audit provides an append-only trail of orchestrator actions.
package audit

import (
	"fmt"
	"time"
)

// Event represents one auditable orchestrator phase (load, plan, vm-create,
// default-path, qos-install, qos-teardown, flow-install, vm-delete,
// telemetry).
type Event struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	User        string        `json:"user"`
	Document    string        `json:"document"`
	Phase       string        `json:"phase"`
	Delta       []string      `json:"delta,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	DryRun      bool          `json:"dry_run"`
	Duration    time.Duration `json:"duration"`
	SessionID   string        `json:"session_id,omitempty"`
}

// Filter defines criteria for querying audit events.
type Filter struct {
	Document    string
	User        string
	Phase       string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// Phase names used across the C9 pipeline.
const (
	PhaseLoad        = "load"
	PhasePlan        = "plan"
	PhaseVMCreate    = "vm-create"
	PhaseVMDelete    = "vm-delete"
	PhaseDefaultPath = "default-path"
	PhaseQoSInstall  = "qos-install"
	PhaseQoSTeardown = "qos-teardown"
	PhaseFlowInstall = "flow-install"
	PhaseTelemetry   = "telemetry"
)

// NewEvent creates a new audit event for one pipeline phase.
func NewEvent(user, document, phase string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		User:      user,
		Document:  document,
		Phase:     phase,
	}
}

// WithDelta records the explicit list of what this phase installed or removed.
func (e *Event) WithDelta(delta []string) *Event {
	e.Delta = delta
	return e
}

// WithSuccess marks the event as successful.
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the phase duration.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithDryRun marks whether the phase ran without side effects (deploy-sim).
func (e *Event) WithDryRun(dryRun bool) *Event {
	e.DryRun = dryRun
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
