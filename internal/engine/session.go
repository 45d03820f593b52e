package engine

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mxgit/mxgit/internal/basecache"
	"github.com/mxgit/mxgit/internal/config"
	"github.com/mxgit/mxgit/internal/shadow"
	"github.com/mxgit/mxgit/internal/vcs"
)

// Notifier receives the messages a developer has to act on.
type Notifier interface {
	ReloadRequired(reasons []string)
	MergeConflict(artifact string)
	Warn(msg string)
}

type nopNotifier struct{}

func (nopNotifier) ReloadRequired([]string) {}
func (nopNotifier) MergeConflict(string)    {}
func (nopNotifier) Warn(string)             {}

// Session is the state of one mxgit invocation. It is built once by the
// orchestrator and passed to every step.
type Session struct {
	Config   *config.Config
	Root     string
	Artifact string
	Repo     vcs.Repo
	Cache    *basecache.Cache
	Logger   *slog.Logger
	Notifier Notifier

	store         *shadow.Store
	reloadReasons []string
}

// ArtifactPath returns the absolute path of the tracked artifact.
func (s *Session) ArtifactPath() string {
	return filepath.Join(s.Root, s.Artifact)
}

// LeftName is the conflict side holding the common ancestor.
func (s *Session) LeftName() string {
	return s.Artifact + ".left"
}

// RightName is the conflict side holding the incoming version.
func (s *Session) RightName() string {
	return s.Artifact + ".right"
}

// LockPath returns the path of the modeler's lock file for the artifact.
func (s *Session) LockPath() string {
	return s.ArtifactPath() + ".lock"
}

// RequireReload flags that the modeler must reopen the project.
func (s *Session) RequireReload(reason string) {
	s.Logger.Debug("modeler reload required", "reason", reason)
	s.reloadReasons = append(s.reloadReasons, reason)
}

// ReloadRequired reports whether any step flagged a reload.
func (s *Session) ReloadRequired() bool {
	return len(s.reloadReasons) > 0
}

func (s *Session) clearReload() {
	s.reloadReasons = nil
}

// ReloadReasons returns why a reload was flagged, in order.
func (s *Session) ReloadReasons() []string {
	return s.reloadReasons
}

// Shadow returns the shadow store, opening it on first use.
func (s *Session) Shadow() (*shadow.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	store, err := shadow.Open(filepath.Join(s.Config.ShadowDir(), shadow.DBName))
	if err != nil {
		return nil, newError(KindInternal, ExitFailure, err, "failed to open shadow store")
	}
	s.Logger.Debug("shadow store opened", "path", store.Path())
	s.store = store
	return store, nil
}

// Close releases the shadow store.
func (s *Session) Close() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// resolve makes a path given on the command line absolute. git runs hooks
// and merge drivers from the working tree root.
func (s *Session) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.Root, path)
}
