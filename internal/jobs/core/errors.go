package core

import "fmt"

// Error taxonomy for the execution core (spec.md §7). Submission-path errors
// (NotCallable, ExecutorNotRunning, ExecutorAlreadyRunning, ProgrammingError)
// are returned to the caller. Execution-path failures (ActionFailure,
// PersistenceFailure) never propagate out of the worker: they are captured
// as status records on the owning procedure, which waiters then inspect.
type ErrorKind string

const (
	KindNotCallable            ErrorKind = "not_callable"
	KindExecutorNotRunning     ErrorKind = "executor_not_running"
	KindExecutorAlreadyRunning ErrorKind = "executor_already_running"
	KindProgrammingError       ErrorKind = "programming_error"
	KindActionFailure          ErrorKind = "action_failure"
	KindPersistenceFailure     ErrorKind = "persistence_failure"
)

// Error is the concrete error type used across the execution core. Callers
// that need to distinguish a kind use errors.As and read the Kind field, or
// IsKind below, which matches only an error that is itself an *Error (it
// does not unwrap).
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapErr(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// ErrNotCallable is returned by job construction when the supplied action
// does not satisfy the Action contract (e.g. nil, or an empty FQN).
func ErrNotCallable(msg string) *Error { return newErr(KindNotCallable, msg) }

// ErrExecutorNotRunning is returned by submission calls made before Start
// or after Shutdown.
func ErrExecutorNotRunning(msg string) *Error { return newErr(KindExecutorNotRunning, msg) }

// ErrExecutorAlreadyRunning is returned by a second Start call.
func ErrExecutorAlreadyRunning(msg string) *Error { return newErr(KindExecutorAlreadyRunning, msg) }

// ErrProgrammingError is returned for the illegal within_procedure
// combinations in spec.md §4.6, and for WaitForProcedure called from the
// worker goroutine.
func ErrProgrammingError(msg string) *Error { return newErr(KindProgrammingError, msg) }

// ErrActionFailure wraps a panic or error raised by an action body. It is
// never returned to a submitter; it only ever appears inside a job's status
// log (diagnosis field) and as the reason a procedure's result is false.
func ErrActionFailure(msg string, cause error) *Error {
	return wrapErr(KindActionFailure, msg, cause)
}

// ErrPersistenceFailure wraps a begin/commit/rollback or checkpoint error.
// It is logged and never aborts the worker.
func ErrPersistenceFailure(msg string, cause error) *Error {
	return wrapErr(KindPersistenceFailure, msg, cause)
}

func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if err == nil {
		return false
	}
	if ae, ok := err.(*Error); ok {
		e = ae
	} else {
		return false
	}
	return e.Kind == kind
}
