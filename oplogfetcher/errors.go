package oplogfetcher

import (
	"errors"
	"fmt"
)

// Code classifies a fetcher error into the taxonomy from spec.md §7.
type Code string

const (
	// CodeTransient errors are retriable by the Restart Policy.
	CodeTransient Code = "transient"
	// CodeSemantic errors are fatal: the remote's log is not a valid
	// continuation of what has already been fetched.
	CodeSemantic Code = "semantic"
	// CodeLocalMisuse errors are returned synchronously from Start and
	// never reach the shutdown callback.
	CodeLocalMisuse Code = "local-misuse"
	// CodeShutdown marks the cooperative cancellation path.
	CodeShutdown Code = "shutdown"
)

// FetchError wraps an underlying error with the taxonomy Code the Restart
// Policy and Driver use to decide whether to reconnect or stop.
type FetchError struct {
	Code Code
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func newTransientError(err error) error {
	return &FetchError{Code: CodeTransient, Err: err}
}

func newSemanticError(err error) error {
	return &FetchError{Code: CodeSemantic, Err: err}
}

func newShutdownError(err error) error {
	return &FetchError{Code: CodeShutdown, Err: err}
}

// CodeOf returns the Code of err if it (or something it wraps) is a
// *FetchError, and CodeTransient otherwise — an error of unknown shape from
// a collaborator is treated as transient so it is subject to the restart
// budget rather than silently ignored or immediately fatal.
func CodeOf(err error) Code {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeTransient
}

// Sentinel semantic errors. These are always wrapped in a *FetchError with
// Code == CodeSemantic before being surfaced, so errors.Is still matches
// through the wrapping.
var (
	// ErrOplogStartMissing is returned when the first document of a
	// cursor's first batch does not equal the cursor's starting
	// LastFetched.
	ErrOplogStartMissing = errors.New("sync source's oplog does not contain our last known position")

	// ErrOplogOutOfOrder is returned when a batch's entries are not
	// strictly increasing in OpTime.
	ErrOplogOutOfOrder = errors.New("oplog entries in batch are out of order")

	// ErrInvalidSyncSource is returned when the source has no ops newer
	// than lastFetched while a fresher source was required, or when the
	// external replication state judges the source ineligible.
	ErrInvalidSyncSource = errors.New("sync source is not valid")

	// ErrNoSuchKey is returned when a required field is absent or
	// mistyped in an oplog entry.
	ErrNoSuchKey = errors.New("required field missing from oplog entry")

	// ErrInvalidReplicaSetConfig names an invalid replica-set config
	// snapshot. No code path in this package returns it; the Fetcher does
	// not check its config snapshot for validity.
	ErrInvalidReplicaSetConfig = errors.New("invalid replica set configuration")

	// ErrRollbackIDChanged is returned when the remote's rollback ID no
	// longer matches the required one supplied at construction.
	ErrRollbackIDChanged = errors.New("sync source's rollback ID changed")

	// ErrAlreadyStarted is returned by Start if called more than once.
	ErrAlreadyStarted = errors.New("oplog fetcher already started")

	// ErrShutdownInProgress is returned by Start if shutdown has already
	// been requested.
	ErrShutdownInProgress = errors.New("oplog fetcher shutdown in progress")

	// ErrShutdown is the status the shutdown callback receives when the
	// fetcher is cancelled cooperatively rather than failing.
	ErrShutdown = errors.New("oplog fetcher shut down")
)

// IsFatal reports whether err must stop the Driver regardless of the
// restart budget. The restart policies in this package return false from
// ShouldContinue for such errors.
func IsFatal(err error) bool {
	code := CodeOf(err)
	return code == CodeSemantic || code == CodeLocalMisuse
}
