package engine

import (
	"context"
	"errors"
	"io"

	"github.com/mxgit/mxgit/internal/basecache"
	"github.com/mxgit/mxgit/internal/mpr"
)

// RefreshResult reports what RefreshBase did.
type RefreshResult struct {
	Updated bool

	// Hash is the committed blob hash of the artifact, empty when the
	// artifact is not committed
	Hash    string
	Version string
}

// RefreshBase makes the base cache match the artifact as committed in HEAD.
// An artifact missing from HEAD uses the working file as its base. Nothing is
// written when the recorded hash already matches.
func RefreshBase(ctx context.Context, s *Session) (RefreshResult, error) {
	entry, committed, err := s.Repo.HeadEntry(ctx, s.Artifact)
	if err != nil {
		return RefreshResult{}, subprocessError(err, "failed to look up %s in HEAD", s.Artifact)
	}
	hash := ""
	if committed {
		hash = entry.Hash
	}

	prev, err := s.Cache.Load()
	switch {
	case err == nil:
		if prev.Hash == hash && s.Cache.HasData() {
			s.Logger.Debug("base is up to date", "hash", hash)
			return RefreshResult{Hash: hash, Version: prev.Version}, nil
		}
	case errors.Is(err, basecache.ErrNoRecord):
		s.Logger.Debug("no base recorded yet")
	case errors.Is(err, basecache.ErrUnknownFormat):
		s.Logger.Warn("ignoring base record in unknown format", "error", err)
	default:
		return RefreshResult{}, newError(KindInternal, ExitFailure, err, "failed to read base record")
	}

	if committed {
		err = s.Cache.ReplaceData(func(w io.Writer) error {
			return s.Repo.WriteBlob(ctx, hash, w)
		})
		if err != nil {
			return RefreshResult{}, subprocessError(err, "failed to retrieve base of %s", s.Artifact)
		}
	} else {
		s.Logger.Info("artifact is not committed, using the working file as base")
		if err := s.Cache.CopyData(s.ArtifactPath()); err != nil {
			return RefreshResult{}, newError(KindInternal, ExitFailure, err, "failed to copy %s", s.Artifact)
		}
	}

	// base_data no longer matches the record; drop the record if the
	// pass cannot finish so the next run starts over
	fail := func(err error) (RefreshResult, error) {
		if ierr := s.Cache.Invalidate(); ierr != nil {
			s.Logger.Warn("failed to invalidate base record", "error", ierr)
		}
		return RefreshResult{}, err
	}

	version, err := mpr.ProductVersion(ctx, s.Cache.DataPath())
	if err != nil {
		return fail(newError(KindValidation, ExitBadVersion, err, "cannot read the product version of the base of %s", s.Artifact))
	}

	if s.Config.Shadow.SyncPristine {
		store, err := s.Shadow()
		if err != nil {
			return fail(err)
		}
		if _, err := store.UpdatePristine(ctx, s.Config.ShadowDir(), s.Artifact, s.Cache.DataPath()); err != nil {
			return fail(newError(KindInternal, ExitFailure, err, "failed to update pristine copy"))
		}
	}

	// the record goes last; a failed pass above is retried next time
	if err := s.Cache.Save(basecache.Record{Hash: hash, Version: version}); err != nil {
		return fail(newError(KindInternal, ExitFailure, err, "failed to save base record"))
	}

	s.Logger.Info("base updated", "hash", shortHash(hash), "version", version)
	s.RequireReload("base revision changed")
	return RefreshResult{Updated: true, Hash: hash, Version: version}, nil
}

func shortHash(hash string) string {
	if hash == "" {
		return "(uncommitted)"
	}
	if len(hash) > 10 {
		return hash[:10]
	}
	return hash
}
