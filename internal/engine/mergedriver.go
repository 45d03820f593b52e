package engine

import (
	"context"
	"path/filepath"
)

// RunMergeDriver handles `mxgit --merge %O %A %B`. It records the ancestor
// and incoming versions as conflict sides and always returns exit code 1,
// so git leaves the artifact unmerged until the developer stages it.
func RunMergeDriver(ctx context.Context, s *Session, args []string) (Outcome, error) {
	if len(args) != 3 {
		return Outcome{}, newError(KindInternal, ExitMergeArgs, nil,
			"merge driver expects exactly three arguments <base> <mine> <theirs>, got %d", len(args))
	}
	ancestor, theirs := s.resolve(args[0]), s.resolve(args[2])
	s.Logger.Debug("processing merge", "ancestor", ancestor, "ours", args[1], "theirs", theirs)

	if err := copyFile(ancestor, filepath.Join(s.Root, s.LeftName())); err != nil {
		return Outcome{}, newError(KindInternal, ExitFailure, err, "failed to store common ancestor")
	}
	if err := copyFile(theirs, filepath.Join(s.Root, s.RightName())); err != nil {
		return Outcome{}, newError(KindInternal, ExitFailure, err, "failed to store incoming version")
	}

	if err := recordConflict(ctx, s, "merge conflict recorded by merge driver"); err != nil {
		return Outcome{}, err
	}

	return Outcome{ExitCode: ExitFailure}, nil
}
