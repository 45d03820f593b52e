package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/mxgit/mxgit/internal/shadow"
	"github.com/mxgit/mxgit/internal/vcs"
)

// conflictRecord is the record mirrored for the session's artifact.
func conflictRecord(s *Session) shadow.ConflictRecord {
	return shadow.ConflictRecord{Path: s.Artifact, Left: s.LeftName(), Right: s.RightName()}
}

// ReconcileConflictState mirrors git's conflict state for the artifact into
// the shadow store. It must run after RefreshBase.
func ReconcileConflictState(ctx context.Context, s *Session) error {
	state, err := s.Repo.FileState(ctx, s.Artifact)
	if err != nil {
		return subprocessError(err, "failed to read the status of %s", s.Artifact)
	}
	s.Logger.Debug("artifact status", "state", state)

	store, err := s.Shadow()
	if err != nil {
		return err
	}

	if state != vcs.StateUnresolved {
		removed, err := store.DeleteConflict(ctx, s.Artifact)
		if err != nil {
			return newError(KindInternal, ExitFailure, err, "failed to clear conflict record")
		}
		if removed {
			s.Logger.Info("conflict resolved, record cleared")
			s.RequireReload("merge conflict resolved")
		}
		return nil
	}

	stages, err := s.Repo.UnmergedStages(ctx, s.Artifact)
	if err != nil {
		return subprocessError(err, "failed to list unmerged stages of %s", s.Artifact)
	}
	ancestor, theirs, err := vcs.ConflictSides(stages)
	if err != nil {
		return newError(KindStateConflict, ExitUnsupportedMerge, err,
			"cannot handle the current conflict on %s, please resolve it with another tool", s.Artifact)
	}

	want := conflictRecord(s)
	existing, found, err := store.Conflict(ctx, s.Artifact)
	if err != nil {
		return newError(KindInternal, ExitFailure, err, "failed to read conflict record")
	}
	if found && existing == want {
		same, err := sidesMatch(ctx, s, ancestor.Hash, theirs.Hash)
		if err != nil {
			return err
		}
		if same {
			s.Logger.Debug("conflict already recorded")
			return nil
		}
	}

	s.Logger.Info("merge conflict detected, writing merge information")
	if err := retrieveBlob(ctx, s.Repo, ancestor.Hash, filepath.Join(s.Root, want.Left)); err != nil {
		return subprocessError(err, "failed to retrieve common ancestor of %s", s.Artifact)
	}
	if err := retrieveBlob(ctx, s.Repo, theirs.Hash, filepath.Join(s.Root, want.Right)); err != nil {
		return subprocessError(err, "failed to retrieve incoming version of %s", s.Artifact)
	}

	return recordConflict(ctx, s, "merge conflict recorded")
}

// recordConflict replaces the conflict record and tells the developer.
func recordConflict(ctx context.Context, s *Session, reason string) error {
	store, err := s.Shadow()
	if err != nil {
		return err
	}
	if err := store.ReplaceConflict(ctx, conflictRecord(s)); err != nil {
		return newError(KindInternal, ExitFailure, err, "failed to write conflict record")
	}
	s.RequireReload(reason)
	s.Notifier.MergeConflict(s.Artifact)
	return nil
}

// sidesMatch reports whether both conflict sides on disk hold the given
// blobs.
func sidesMatch(ctx context.Context, s *Session, leftHash, rightHash string) (bool, error) {
	for _, side := range []struct{ name, hash string }{
		{s.LeftName(), leftHash},
		{s.RightName(), rightHash},
	} {
		if _, err := os.Stat(filepath.Join(s.Root, side.name)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, newError(KindInternal, ExitFailure, err, "failed to inspect %s", side.name)
		}
		got, err := s.Repo.HashFile(ctx, side.name)
		if err != nil {
			return false, subprocessError(err, "failed to hash %s", side.name)
		}
		if got != side.hash {
			return false, nil
		}
	}
	return true, nil
}
