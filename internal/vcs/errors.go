package vcs

import "errors"

// Common errors returned by repository operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrTimeout) {
//	    // the git subprocess did not finish in time
//	}
var (
	// ErrNotInVCS is returned when the operation requires being inside
	// a git repository but none was found.
	ErrNotInVCS = errors.New("not in a git repository")

	// ErrVCSNotAvailable is returned when the git binary is not installed
	// or not in PATH.
	ErrVCSNotAvailable = errors.New("git binary not available")

	// ErrUnknownBackend is returned by Open for an unregistered backend.
	ErrUnknownBackend = errors.New("unknown repository backend")

	// ErrObjectNotFound is returned when a blob hash cannot be resolved.
	ErrObjectNotFound = errors.New("object not found")

	// ErrUnexpectedOutput is returned when git prints something the
	// output parsers do not recognise.
	ErrUnexpectedOutput = errors.New("unexpected git output")

	// ErrUnsupportedMerge is returned when a path's unmerged stages are not
	// the ancestor/ours/theirs triple (add/add, modify/delete, ...).
	ErrUnsupportedMerge = errors.New("unsupported merge shape")

	// ErrTimeout is returned when a repository operation exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
)

// IsFatal returns true if the error indicates that no repository
// operation can succeed in the current environment.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// Not in VCS means we can't do anything
	if errors.Is(err, ErrNotInVCS) {
		return true
	}

	// Binary not available means we can't execute commands
	if errors.Is(err, ErrVCSNotAvailable) {
		return true
	}

	return false
}
