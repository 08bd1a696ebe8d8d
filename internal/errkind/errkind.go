// Package errkind implements the error taxonomy shared by the queue service
// and the task worker runtime: every error that crosses a stage or job
// boundary is classified into one of a small set of kinds rather than by
// inspecting error strings. The retry notes on each kind below describe its
// class; the queue engine records a reported kind on the job (lastErrorKind)
// but does not retry or requeue a failed job on it, and HTTP status mapping
// does not use it.
package errkind

import "fmt"

// Kind classifies an error into one retry class of the taxonomy.
type Kind string

const (
	// Validation marks malformed input; never retried.
	Validation Kind = "validation"
	// Auth marks missing or invalid credentials; retried only after operator action.
	Auth Kind = "auth"
	// Conflict marks a lease/artifact/terminal idempotency collision; treated
	// as success by idempotent callers.
	Conflict Kind = "conflict"
	// Transient marks a recoverable I/O or network error; retried with backoff
	// within a stage.
	Transient Kind = "transient"
	// Tool marks a non-zero exit from an external CLI; retried unless declared
	// terminal.
	Tool Kind = "tool"
	// Capability marks a required tool or skill absent on this worker; the job
	// is requeued so another worker may claim it.
	Capability Kind = "capability"
	// Policy marks a disallowed skill or repository; never retried on this worker.
	Policy Kind = "policy"
	// Integrity marks a skill hash/signature mismatch; never retried.
	Integrity Kind = "integrity"
	// Cancelled marks an operator-initiated terminal cancel.
	Cancelled Kind = "cancelled"
)

// terminalOnFirstOccurrence are the kinds that make a job fail permanently
// regardless of remaining attempts.
var terminalOnFirstOccurrence = map[Kind]bool{
	Validation: true,
	Policy:     true,
	Integrity:  true,
}

// TerminalOnFirstOccurrence reports whether a job-level error of this kind is
// terminal even when attemptCount has not yet reached maxAttempts.
func TerminalOnFirstOccurrence(k Kind) bool {
	return terminalOnFirstOccurrence[k]
}

// recoverableAtStage are the kinds a stage may recover from locally (retry
// within the stage) rather than escalate to a stage failure.
var recoverableAtStage = map[Kind]bool{
	Transient: true,
	Tool:      true,
}

// RecoverableAtStage reports whether a stage may retry locally on this kind.
func RecoverableAtStage(k Kind) bool {
	return recoverableAtStage[k]
}

// Error is an error annotated with a Kind, an offending subject (e.g. a
// skill name, a tool name), and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Subject string
	Msg     string
	Cause   error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Msg, e.Subject, e.Cause)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.Subject)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a kinded error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a kinded error around a cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithSubject builds a kinded error naming the offending subject (a skill,
// a tool, a repository).
func WithSubject(kind Kind, subject, msg string) *Error {
	return &Error{Kind: kind, Subject: subject, Msg: msg}
}

// As extracts the Kind of err if it (or something it wraps) is an *Error.
// Unclassified errors are treated as Transient, the safest default for retry
// purposes.
func As(err error) Kind {
	if err == nil {
		return ""
	}
	type kinder interface{ Kind() Kind }
	for e := err; e != nil; {
		if ke, ok := e.(*Error); ok {
			return ke.Kind
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return Transient
}
