// Package sdcerr defines the error kinds used throughout the provisioner:
// NotFound, Unreachable, Conflict, VerificationFailed, Unplaceable and
// PartialTeardown. Components wrap one of the sentinel errors below so
// callers can classify a failure with errors.Is/errors.As without parsing
// message text.
package sdcerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, one per error kind.
var (
	ErrNotFound           = errors.New("not found")
	ErrUnreachable        = errors.New("collaborator unreachable")
	ErrConflict           = errors.New("conflicting resource")
	ErrVerificationFailed = errors.New("operational state verification failed")
	ErrUnplaceable        = errors.New("one or more VMs could not be placed")
	ErrPartialTeardown    = errors.New("teardown step failed")
)

// NotFoundError reports a missing image, flavor, network, host or VM.
type NotFoundError struct {
	Kind string // "flavor", "host", "vm", "image", "network", ...
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name}
}

// UnreachableError reports a collaborator HTTP call that timed out or
// returned a 5xx status.
type UnreachableError struct {
	Collaborator string
	URL          string
	Cause        error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s unreachable at %s: %v", e.Collaborator, e.URL, e.Cause)
}

func (e *UnreachableError) Unwrap() error { return ErrUnreachable }

// NewUnreachable builds an UnreachableError.
func NewUnreachable(collaborator, url string, cause error) *UnreachableError {
	return &UnreachableError{Collaborator: collaborator, URL: url, Cause: cause}
}

// ConflictError reports a mutation rejected because of an existing
// conflicting resource on the collaborator side.
type ConflictError struct {
	Resource string
	Detail   string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("conflict installing %s", e.Resource)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflict builds a ConflictError.
func NewConflict(resource, detail string) *ConflictError {
	return &ConflictError{Resource: resource, Detail: detail}
}

// VerificationError reports that an operational view never appeared
// within the retry budget.
type VerificationError struct {
	Resource string
	Attempts int
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s not observed operationally after %d attempts", e.Resource, e.Attempts)
}

func (e *VerificationError) Unwrap() error { return ErrVerificationFailed }

// NewVerificationFailed builds a VerificationError.
func NewVerificationFailed(resource string, attempts int) *VerificationError {
	return &VerificationError{Resource: resource, Attempts: attempts}
}

// UnplaceableError reports that the planner could not place every VM.
// It is not fatal. It carries only the names of the unplaced VMs; the
// planner returns the partial map alongside it.
type UnplaceableError struct {
	Unplaced []string
}

func (e *UnplaceableError) Error() string {
	return fmt.Sprintf("unplaceable VMs: %s", strings.Join(e.Unplaced, ", "))
}

func (e *UnplaceableError) Unwrap() error { return ErrUnplaceable }

// NewUnplaceable builds an UnplaceableError.
func NewUnplaceable(names []string) *UnplaceableError {
	return &UnplaceableError{Unplaced: names}
}

// TeardownError reports one failed step of a (best-effort) teardown.
// It is logged, never re-raised.
type TeardownError struct {
	Step  string
	Cause error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown step %q failed: %v", e.Step, e.Cause)
}

func (e *TeardownError) Unwrap() error { return ErrPartialTeardown }

// NewPartialTeardown builds a TeardownError.
func NewPartialTeardown(step string, cause error) *TeardownError {
	return &TeardownError{Step: step, Cause: cause}
}

// ValidationBuilder accumulates document-validation errors before a parse
// is rejected outright.
type ValidationBuilder struct {
	errors []string
}

// Add records message if condition is false.
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf records a formatted message unconditionally.
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors reports whether any message was recorded.
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns an aggregate error, or nil if nothing was recorded.
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(v.errors, "\n  - "))
}
