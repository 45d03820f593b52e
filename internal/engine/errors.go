package engine

import (
	"errors"
	"fmt"

	"github.com/mxgit/mxgit/internal/vcs"
)

// Kind classifies an engine error.
type Kind int

const (
	KindInternal Kind = iota
	KindEnvironment
	KindStateConflict
	KindSubprocess
	KindValidation
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindEnvironment:
		return "environment"
	case KindStateConflict:
		return "state conflict"
	case KindSubprocess:
		return "subprocess"
	case KindValidation:
		return "validation"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Process exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitNoArtifact       = 2
	ExitInvalidConfig    = 3
	ExitNoRepository     = 7
	ExitForeignShadow    = 8
	ExitLocked           = 9
	ExitMergeMarker      = 10
	ExitBadProjectID     = 11
	ExitMergeArgs        = 12
	ExitUnsupportedMerge = 13
	ExitTimeout          = 14
	ExitConcurrentRun    = 15
	ExitBadVersion       = 16
)

// Error is the error type every engine step returns. Code is the process
// exit code the CLI uses for it.
type Error struct {
	Kind Kind
	Code int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, code int, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// subprocessError wraps a failed git call. Timeouts get their own kind.
func subprocessError(err error, format string, args ...any) *Error {
	if errors.Is(err, vcs.ErrTimeout) {
		return newError(KindTimeout, ExitTimeout, err, format, args...)
	}
	return newError(KindSubprocess, ExitFailure, err, format, args...)
}

// ExitCode returns the exit code for err: 0 for nil, the engine code for an
// *Error anywhere in the chain, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ExitFailure
}

// IsKind reports whether err carries an engine error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
