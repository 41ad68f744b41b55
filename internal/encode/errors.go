package encode

import (
	"errors"
	"fmt"
)

// ErrorKind classifies terminal job failures.
type ErrorKind string

const (
	// ErrConfiguration marks bad job parameters, caught before any
	// process is spawned.
	ErrConfiguration ErrorKind = "configuration"
	// ErrLaunch marks a missing or unspawnable executable.
	ErrLaunch ErrorKind = "launch"
	// ErrNonZeroExit marks a process that ran and failed; Message
	// carries the classified log excerpt.
	ErrNonZeroExit ErrorKind = "exit"
	// ErrStageValidation marks a stage artifact missing or empty after
	// a reported success.
	ErrStageValidation ErrorKind = "validation"
	// ErrCancelled marks a user-initiated stop; intentional, not a
	// failure.
	ErrCancelled ErrorKind = "cancelled"
	// ErrCrashed marks an unexpected orchestration error, such as a
	// filesystem failure while clearing stale artifacts.
	ErrCrashed ErrorKind = "crashed"
)

// Error is a stage-aware pipeline error with a terminal classification.
type Error struct {
	Kind     ErrorKind
	Stage    string
	Message  string
	ExitCode int
	Err      error
}

// Error formats pipeline failures for logs and UI.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s: %s (exit=%d)", e.Stage, e.Message, e.ExitCode)
	}
	if e.Stage == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsCancelled reports whether err represents user-initiated
// cancellation rather than a failure.
func IsCancelled(err error) bool {
	var pErr *Error
	return errors.As(err, &pErr) && pErr.Kind == ErrCancelled
}
