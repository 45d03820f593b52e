package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// ===================
// Command Execution Utilities
// ===================

// ExecContext executes a command with timeout and context support and
// returns its stdout. A deadline hit is reported as ErrTimeout.
//
// Example:
//
//	output, err := ExecContext(ctx, 30*time.Second, repoRoot, "git", "status", "--porcelain")
func ExecContext(ctx context.Context, timeout time.Duration, workDir string, name string, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	if err := ExecToWriter(ctx, timeout, workDir, &stdout, name, args...); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// ExecToWriter is like ExecContext but streams stdout to w instead of
// buffering it. Used for blobs, which can be large.
func ExecToWriter(ctx context.Context, timeout time.Duration, workDir string, w io.Writer, name string, args ...string) error {
	// Create context with timeout if specified
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	cmd.WaitDelay = time.Second

	var stderr bytes.Buffer
	cmd.Stdout = w
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w after %s", name, strings.Join(args, " "), ErrTimeout, timeout)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s: %w", name, ErrVCSNotAvailable)
	}

	// Include stderr in error message for debugging
	if stderr.Len() > 0 {
		return fmt.Errorf("%s %s failed: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return fmt.Errorf("%s %s failed: %w", name, strings.Join(args, " "), err)
}

// ===================
// Output Parsing Utilities
// ===================

// TrimOutput trims whitespace and trailing newlines from command output.
func TrimOutput(output []byte) string {
	return strings.TrimSpace(string(output))
}

// ConflictSides picks the ancestor (stage 1) and incoming (stage 3) entries
// out of a path's unmerged stages. Anything other than exactly one entry for
// each of stages 1, 2 and 3 is ErrUnsupportedMerge.
func ConflictSides(stages []StageEntry) (ancestor, theirs StageEntry, err error) {
	if len(stages) != 3 {
		return StageEntry{}, StageEntry{}, fmt.Errorf("%w: %d unmerged stages, want 3", ErrUnsupportedMerge, len(stages))
	}

	var seen [4]bool
	for _, s := range stages {
		if s.Stage < 1 || s.Stage > 3 || seen[s.Stage] {
			return StageEntry{}, StageEntry{}, fmt.Errorf("%w: unexpected stage %d", ErrUnsupportedMerge, s.Stage)
		}
		seen[s.Stage] = true

		switch s.Stage {
		case 1:
			ancestor = s
		case 3:
			theirs = s
		}
	}

	return ancestor, theirs, nil
}

// ===================
// Error Utilities
// ===================

// GetExitCode returns the exit code carried by err, or -1 if err does not
// wrap an exit error.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
