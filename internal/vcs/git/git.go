package git

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"time"

	"github.com/mxgit/mxgit/internal/vcs"
)

// hashPattern matches full or abbreviated hex object names (SHA-1 or SHA-256).
var hashPattern = regexp.MustCompile(`^[0-9a-f]{4,64}$`)

// Git implements vcs.Repo by running git commands.
type Git struct {
	// repoRoot is the working tree root all commands run in
	repoRoot string

	// binary is the git executable
	binary string

	// timeout bounds each command
	timeout time.Duration
}

// New creates a git CLI backend for the working tree at root.
func New(root string, opts vcs.Options) (*Git, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	binary := opts.Binary
	if binary == "" {
		binary = "git"
	}
	if !vcs.IsGitAvailable(binary) {
		return nil, fmt.Errorf("%s: %w", binary, vcs.ErrVCSNotAvailable)
	}

	return &Git{
		repoRoot: absRoot,
		binary:   binary,
		timeout:  opts.Timeout,
	}, nil
}

// Backend returns vcs.BackendCLI
func (g *Git) Backend() vcs.Backend {
	return vcs.BackendCLI
}

// Root returns the working tree root
func (g *Git) Root() string {
	return g.repoRoot
}

// exec runs git with the backend's timeout and returns stdout. Reads never
// refresh the index, so watch mode does not wake itself up.
func (g *Git) exec(ctx context.Context, args ...string) ([]byte, error) {
	args = append([]string{"--no-optional-locks"}, args...)
	return vcs.ExecContext(ctx, g.timeout, g.repoRoot, g.binary, args...)
}

// WriteBlob streams the blob named by hash to w using git cat-file.
func (g *Git) WriteBlob(ctx context.Context, hash string, w io.Writer) error {
	if !hashPattern.MatchString(hash) {
		return fmt.Errorf("%w: invalid object name %q", vcs.ErrUnexpectedOutput, hash)
	}

	// cat-file -e exits 1 without output when the object is missing
	if _, err := g.exec(ctx, "cat-file", "-e", hash); err != nil {
		if vcs.GetExitCode(err) == 1 {
			return fmt.Errorf("blob %s: %w", hash, vcs.ErrObjectNotFound)
		}
		return err
	}

	return vcs.ExecToWriter(ctx, g.timeout, g.repoRoot, w, g.binary, "cat-file", "blob", hash)
}

// HashFile returns the blob hash of the file at path without writing it to
// the object database. Filters are bypassed so the hash matches bytes that
// were written by WriteBlob.
func (g *Git) HashFile(ctx context.Context, path string) (string, error) {
	output, err := g.exec(ctx, "hash-object", "--no-filters", "--", path)
	if err != nil {
		return "", err
	}

	hash := vcs.TrimOutput(output)
	if !hashPattern.MatchString(hash) {
		return "", fmt.Errorf("%w: hash-object printed %q", vcs.ErrUnexpectedOutput, hash)
	}
	return hash, nil
}
