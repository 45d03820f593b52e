package gogit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/mxgit/mxgit/internal/vcs"
)

var fullHashPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// mergedStage is the stage of a resolved index entry. go-git's index.Merged
// constant is 1, not the on-disk 0.
const mergedStage index.Stage = 0

// GoGit implements vcs.Repo on top of a go-git Repository.
//
// go-git calls are not cancellable; the context is checked between steps so
// an expired deadline still surfaces as vcs.ErrTimeout.
type GoGit struct {
	// repoRoot is the working tree root
	repoRoot string

	repo *gogit.Repository

	// timeout bounds each operation when positive
	timeout time.Duration
}

// New opens the repository whose working tree is root.
func New(root string, opts vcs.Options) (*GoGit, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	repo, err := gogit.PlainOpenWithOptions(absRoot, &gogit.PlainOpenOptions{
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, vcs.ErrNotInVCS
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	return &GoGit{repoRoot: absRoot, repo: repo, timeout: opts.Timeout}, nil
}

// Backend returns vcs.BackendGoGit
func (g *GoGit) Backend() vcs.Backend {
	return vcs.BackendGoGit
}

// Root returns the working tree root
func (g *GoGit) Root() string {
	return g.repoRoot
}

// withTimeout applies the configured per-operation timeout to ctx.
func (g *GoGit) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// checkContext maps an expired context to the vcs error vocabulary.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return vcs.ErrTimeout
		}
		return err
	}
	return nil
}

// headTree returns HEAD's tree, or nil on an unborn branch.
func (g *GoGit) headTree() (*object.Tree, error) {
	ref, err := g.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	commit, err := g.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD commit: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD tree: %w", err)
	}
	return tree, nil
}

// HeadEntry looks up path in HEAD's tree.
func (g *GoGit) HeadEntry(ctx context.Context, path string) (vcs.TreeEntry, bool, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := checkContext(ctx); err != nil {
		return vcs.TreeEntry{}, false, err
	}

	tree, err := g.headTree()
	if err != nil || tree == nil {
		return vcs.TreeEntry{}, false, err
	}

	entry, err := tree.FindEntry(path)
	if err != nil {
		if errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return vcs.TreeEntry{}, false, nil
		}
		return vcs.TreeEntry{}, false, fmt.Errorf("failed to look up %s: %w", path, err)
	}

	if !entry.Mode.IsFile() {
		return vcs.TreeEntry{}, false, fmt.Errorf("%w: %s is not a file in HEAD", vcs.ErrUnexpectedOutput, path)
	}

	return vcs.TreeEntry{
		Mode: entry.Mode.String(),
		Type: "blob",
		Hash: entry.Hash.String(),
		Path: path,
	}, true, nil
}

// indexEntries returns every index entry for path, all stages included.
func (g *GoGit) indexEntries(path string) ([]*index.Entry, error) {
	idx, err := g.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var entries []*index.Entry
	for _, e := range idx.Entries {
		if e.Name == path {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// UnmergedStages lists path's unmerged index entries.
func (g *GoGit) UnmergedStages(ctx context.Context, path string) ([]vcs.StageEntry, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	entries, err := g.indexEntries(path)
	if err != nil {
		return nil, err
	}

	var stages []vcs.StageEntry
	for _, e := range entries {
		if e.Stage == mergedStage {
			continue
		}
		stages = append(stages, vcs.StageEntry{
			Mode:  e.Mode.String(),
			Hash:  e.Hash.String(),
			Stage: int(e.Stage),
			Path:  path,
		})
	}

	sort.Slice(stages, func(i, j int) bool { return stages[i].Stage < stages[j].Stage })
	return stages, nil
}

// FileState compares HEAD, the index and the working file for path.
func (g *GoGit) FileState(ctx context.Context, path string) (vcs.FileState, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := checkContext(ctx); err != nil {
		return vcs.StateClean, err
	}

	entries, err := g.indexEntries(path)
	if err != nil {
		return vcs.StateClean, err
	}

	var staged *index.Entry
	for _, e := range entries {
		if e.Stage != mergedStage {
			return vcs.StateUnresolved, nil
		}
		staged = e
	}

	head, inHead, err := g.HeadEntry(ctx, path)
	if err != nil {
		return vcs.StateClean, err
	}

	workHash, onDisk, err := g.hashWorkingFile(path)
	if err != nil {
		return vcs.StateClean, err
	}

	switch {
	case staged == nil && !inHead:
		if onDisk {
			// untracked
			return vcs.StateModified, nil
		}
		return vcs.StateClean, nil
	case staged == nil || !inHead:
		return vcs.StateModified, nil
	case staged.Hash.String() != head.Hash:
		return vcs.StateModified, nil
	case !onDisk || workHash != staged.Hash:
		return vcs.StateModified, nil
	default:
		return vcs.StateClean, nil
	}
}

// hashWorkingFile hashes path under the working tree; the boolean is false
// when the file does not exist.
func (g *GoGit) hashWorkingFile(path string) (plumbing.Hash, bool, error) {
	full := filepath.Join(g.repoRoot, filepath.FromSlash(path))
	hash, err := hashFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return plumbing.ZeroHash, false, nil
		}
		return plumbing.ZeroHash, false, err
	}
	return hash, true, nil
}

// hashFile computes the git blob hash of a file by streaming it.
func hashFile(path string) (plumbing.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	hasher := plumbing.NewHasher(plumbing.BlobObject, info.Size())
	if _, err := io.Copy(hasher, f); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hasher.Sum(), nil
}

// HashFile returns the blob hash of the file at path.
func (g *GoGit) HashFile(ctx context.Context, path string) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := checkContext(ctx); err != nil {
		return "", err
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(g.repoRoot, filepath.FromSlash(path))
	}
	hash, err := hashFile(path)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// WriteBlob streams the blob named by hash to w.
func (g *GoGit) WriteBlob(ctx context.Context, hash string, w io.Writer) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := checkContext(ctx); err != nil {
		return err
	}
	if !fullHashPattern.MatchString(hash) {
		return fmt.Errorf("%w: invalid object name %q", vcs.ErrUnexpectedOutput, hash)
	}

	blob, err := g.repo.BlobObject(plumbing.NewHash(hash))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return fmt.Errorf("blob %s: %w", hash, vcs.ErrObjectNotFound)
		}
		return fmt.Errorf("failed to read blob %s: %w", hash, err)
	}

	r, err := blob.Reader()
	if err != nil {
		return fmt.Errorf("failed to open blob %s: %w", hash, err)
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("failed to copy blob %s: %w", hash, err)
	}
	return checkContext(ctx)
}
