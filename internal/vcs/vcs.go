// Package vcs provides the narrow view of a git repository that mxgit needs
// to keep the shadow working copy in sync.
//
// mxgit only ever looks at one path, the tracked artifact. Everything here is
// phrased in terms of that single path: where it sits in HEAD's tree, what
// its working-tree status is, which unmerged index stages it has, and how to
// get a blob's bytes onto disk.
//
// # Backends
//
//   - internal/vcs/git: shells out to the git binary (default, "cli")
//   - internal/vcs/gogit: reads the repository natively with go-git ("gogit")
//
// Backends register themselves with Register and are created with Open:
//
//	repo, err := vcs.Open(vcs.BackendCLI, root, vcs.Options{Timeout: 30 * time.Second})
//	if err != nil {
//	    return err
//	}
//	entry, ok, err := repo.HeadEntry(ctx, "project.mpr")
package vcs

import (
	"context"
	"io"
	"time"
)

// Backend names a Repo implementation.
type Backend string

const (
	// BackendCLI runs the git binary as a subprocess.
	BackendCLI Backend = "cli"

	// BackendGoGit reads the repository in-process using go-git.
	BackendGoGit Backend = "gogit"
)

// String returns the string representation of the backend
func (b Backend) String() string {
	return string(b)
}

// FileState classifies a single path's working-tree status.
type FileState int

const (
	// StateClean means the path matches HEAD and the index.
	StateClean FileState = iota

	// StateModified means the path differs from HEAD (staged, unstaged or
	// untracked) but has no unmerged index stages.
	StateModified

	// StateUnresolved means the path has unmerged index stages.
	StateUnresolved
)

// String returns a human-readable representation of the state.
func (s FileState) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateModified:
		return "locally-modified"
	case StateUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// TreeEntry is one entry of a committed tree.
type TreeEntry struct {
	Mode string
	Type string
	Hash string
	Path string
}

// StageEntry is one unmerged index entry of a path.
//
// Stage 1 is the common ancestor, stage 2 is ours and stage 3 is theirs.
type StageEntry struct {
	Mode  string
	Hash  string
	Stage int
	Path  string
}

// Options configures a backend.
type Options struct {
	// Binary is the git executable used by the cli backend (default "git").
	Binary string

	// Timeout bounds every single repository operation. Zero means no bound.
	Timeout time.Duration
}

// Repo is the repository view used by the synchronization engine.
// Paths are relative to Root and use forward slashes.
type Repo interface {
	// Backend returns which implementation this is.
	Backend() Backend

	// Root returns the working tree root.
	Root() string

	// HeadEntry looks up path in HEAD's tree. The boolean is false when the
	// path is not committed or HEAD does not exist yet (unborn branch).
	HeadEntry(ctx context.Context, path string) (TreeEntry, bool, error)

	// FileState classifies path's working-tree status.
	FileState(ctx context.Context, path string) (FileState, error)

	// UnmergedStages lists the unmerged index stages of path, ordered by
	// stage number. The result is empty when path is not in conflict.
	UnmergedStages(ctx context.Context, path string) ([]StageEntry, error)

	// WriteBlob streams the blob with the given hash to w.
	WriteBlob(ctx context.Context, hash string, w io.Writer) error

	// HashFile computes the blob hash the repository would assign to the
	// file at path (relative to Root, or absolute).
	HashFile(ctx context.Context, path string) (string, error)
}
