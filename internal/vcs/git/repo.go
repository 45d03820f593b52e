package git

import (
	"context"
	"fmt"
	"sort"

	"github.com/mxgit/mxgit/internal/vcs"
)

// hasHead reports whether HEAD resolves to a commit. An unborn branch is
// not an error.
func (g *Git) hasHead(ctx context.Context) (bool, error) {
	_, err := g.exec(ctx, "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	if err == nil {
		return true, nil
	}
	if vcs.GetExitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

// HeadEntry looks up path in HEAD's tree with git ls-tree.
func (g *Git) HeadEntry(ctx context.Context, path string) (vcs.TreeEntry, bool, error) {
	ok, err := g.hasHead(ctx)
	if err != nil || !ok {
		return vcs.TreeEntry{}, false, err
	}

	output, err := g.exec(ctx, "ls-tree", "-z", "--full-tree", "HEAD", "--", path)
	if err != nil {
		return vcs.TreeEntry{}, false, err
	}

	for _, record := range splitNUL(output) {
		entry, err := parseTreeEntry(record)
		if err != nil {
			return vcs.TreeEntry{}, false, err
		}
		if entry.Path != path {
			continue
		}
		if entry.Type != "blob" {
			return vcs.TreeEntry{}, false, fmt.Errorf("%w: %s is a %s in HEAD, not a blob", vcs.ErrUnexpectedOutput, path, entry.Type)
		}
		return entry, true, nil
	}

	return vcs.TreeEntry{}, false, nil
}

// FileState classifies path using git status --porcelain=v1.
func (g *Git) FileState(ctx context.Context, path string) (vcs.FileState, error) {
	output, err := g.exec(ctx, "status", "--porcelain=v1", "-z", "--untracked-files=all", "--", path)
	if err != nil {
		return vcs.StateClean, err
	}

	return classifyStatus(splitNUL(output), path)
}

// UnmergedStages lists path's unmerged index entries with git ls-files -u.
func (g *Git) UnmergedStages(ctx context.Context, path string) ([]vcs.StageEntry, error) {
	output, err := g.exec(ctx, "ls-files", "-u", "-z", "--", path)
	if err != nil {
		return nil, err
	}

	var stages []vcs.StageEntry
	for _, record := range splitNUL(output) {
		entry, err := parseStageEntry(record)
		if err != nil {
			return nil, err
		}
		if entry.Path == path {
			stages = append(stages, entry)
		}
	}

	sort.Slice(stages, func(i, j int) bool { return stages[i].Stage < stages[j].Stage })
	return stages, nil
}
