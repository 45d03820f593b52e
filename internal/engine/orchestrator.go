package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/mxgit/mxgit/internal/basecache"
	"github.com/mxgit/mxgit/internal/config"
	"github.com/mxgit/mxgit/internal/install"
	"github.com/mxgit/mxgit/internal/shadow"
	"github.com/mxgit/mxgit/internal/vcs"
	"github.com/mxgit/mxgit/internal/watch"
)

// RunLockName is the flock file in the cache dir serializing mxgit runs.
const RunLockName = "mxgit.lock"

// Mode selects what one invocation does.
type Mode int

const (
	// ModeSync is the default pass: refresh the base and mirror conflicts.
	ModeSync Mode = iota
	// ModePostUpdate runs after git changed the tree; an open model only
	// produces a warning.
	ModePostUpdate
	// ModePreCommit refuses commits while the model is open or being merged.
	ModePreCommit
	ModeMerge
	ModeInstall
	ModeReset
	ModeSetProjectID
	ModeWatch
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModePostUpdate:
		return "postupdate"
	case ModePreCommit:
		return "precommit"
	case ModeMerge:
		return "merge"
	case ModeInstall:
		return "install"
	case ModeReset:
		return "reset"
	case ModeSetProjectID:
		return "setprojectid"
	case ModeWatch:
		return "watch"
	default:
		return "unknown"
	}
}

// Request is one invocation.
type Request struct {
	Mode Mode

	// Args are the merge driver arguments <base> <mine> <theirs>
	Args []string

	ProjectID string
}

// Outcome is the result of a successful invocation.
type Outcome struct {
	// ExitCode is non-zero only for the merge driver, which reports a
	// recorded conflict with exit code 1
	ExitCode int

	ReloadRequired bool
	ReloadReasons  []string

	// Message summarizes install, reset and setprojectid for the user
	Message string
}

// RepoOpener opens the repository at root.
type RepoOpener func(cfg *config.Config, root string) (vcs.Repo, error)

func openRepo(cfg *config.Config, root string) (vcs.Repo, error) {
	return vcs.Open(vcs.Backend(cfg.Git.Backend), root, vcs.Options{
		Binary:  cfg.Git.Binary,
		Timeout: cfg.Git.Timeout,
	})
}

// Engine runs mxgit invocations for one repository.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	notifier Notifier
	openRepo RepoOpener
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNotifier sets where banners go.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRepoOpener replaces the registered vcs backends, mainly for tests.
func WithRepoOpener(open RepoOpener) Option {
	return func(e *Engine) { e.openRepo = open }
}

// New creates an Engine for cfg.Root.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		logger:   slog.Default(),
		notifier: nopNotifier{},
		openRepo: openRepo,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes req. Steps run in a fixed order and stop at the first error:
// repository check, artifact discovery, shadow legitimacy, guards, shadow
// bootstrap, run lock, then the mode itself.
func (e *Engine) Run(ctx context.Context, req Request) (Outcome, error) {
	log := e.logger.With("mode", req.Mode.String())
	log.Debug("starting", "root", e.cfg.Root)

	det, err := vcs.Detect(e.cfg.Root)
	if err != nil {
		return Outcome{}, newError(KindEnvironment, ExitNoRepository, err,
			"%s is not the root of a git repository, run mxgit from the directory holding .git", e.cfg.Root)
	}

	if req.Mode == ModeReset {
		if err := e.checkShadow(ctx); err != nil {
			return Outcome{}, err
		}
		return e.reset(det)
	}

	artifact, err := FindArtifact(det.RepoRoot, e.cfg.Artifact.Extension, e.cfg.Artifact.Path)
	if err != nil {
		return Outcome{}, err
	}
	log = log.With("artifact", artifact)

	if err := e.checkShadow(ctx); err != nil {
		return Outcome{}, err
	}

	repo, err := e.openRepo(e.cfg, det.RepoRoot)
	if err != nil {
		switch {
		case errors.Is(err, vcs.ErrUnknownBackend):
			return Outcome{}, newError(KindValidation, ExitInvalidConfig, err, "invalid git.backend")
		case errors.Is(err, vcs.ErrNotInVCS):
			return Outcome{}, newError(KindEnvironment, ExitNoRepository, err, "cannot open the git repository")
		case vcs.IsFatal(err):
			return Outcome{}, newError(KindEnvironment, ExitFailure, err,
				"git is not usable here, install git or set git.backend = \"gogit\"")
		default:
			return Outcome{}, newError(KindEnvironment, ExitFailure, err, "cannot open the git repository")
		}
	}

	s := &Session{
		Config:   e.cfg,
		Root:     det.RepoRoot,
		Artifact: artifact,
		Repo:     repo,
		Cache:    basecache.New(e.cfg.CacheDir()),
		Logger:   log,
		Notifier: e.notifier,
	}
	defer s.Close()

	if req.Mode == ModeWatch {
		return e.watch(ctx, s, det)
	}
	return e.pass(ctx, s, req, det)
}

// checkShadow refuses to touch a shadow directory mxgit did not create.
func (e *Engine) checkShadow(ctx context.Context) error {
	dir := e.cfg.ShadowDir()
	if !shadow.Exists(dir) {
		return nil
	}

	store, err := shadow.Open(filepath.Join(dir, shadow.DBName))
	if err != nil {
		return newError(KindEnvironment, ExitForeignShadow, err,
			"%s exists but is not an mxgit shadow store, remove it or use a real Subversion client", dir)
	}
	defer store.Close()

	root, err := store.RepositoryRoot(ctx)
	if err != nil {
		return newError(KindEnvironment, ExitForeignShadow, err,
			"%s exists but is not an mxgit shadow store, remove it or use a real Subversion client", dir)
	}
	if root != e.cfg.Shadow.Sentinel {
		return newError(KindEnvironment, ExitForeignShadow, nil,
			"%s is a Subversion working copy of %s, not an mxgit shadow store", dir, root)
	}
	return nil
}

// guard runs the modeler checks that must pass before the shadow store is
// touched.
func (e *Engine) guard(s *Session, mode Mode) error {
	if err := CheckMergeMarker(s); err != nil {
		return err
	}
	switch mode {
	case ModeSync, ModePreCommit:
		return CheckLock(s, false)
	case ModePostUpdate, ModeInstall:
		return CheckLock(s, true)
	}
	return nil
}

// ensureShadow creates the shadow tree when it is missing.
func (e *Engine) ensureShadow(ctx context.Context, s *Session) error {
	dir := e.cfg.ShadowDir()
	if shadow.Exists(dir) {
		return nil
	}
	err := shadow.Bootstrap(ctx, shadow.BootstrapOptions{
		Dir:      dir,
		Artifact: s.Artifact,
		Sentinel: e.cfg.Shadow.Sentinel,
		Template: e.cfg.ShadowTemplate(),
	})
	if err != nil {
		return newError(KindInternal, ExitFailure, err, "failed to create shadow store in %s", dir)
	}
	// a store opened before the tree was recreated points at a deleted file
	if err := s.Close(); err != nil {
		s.Logger.Warn("failed to close previous shadow store", "error", err)
	}
	s.Logger.Info("shadow store created", "dir", dir)
	return nil
}

// lockRun takes the run lock, waiting up to lock.wait for another mxgit
// process to finish.
func (e *Engine) lockRun(ctx context.Context, s *Session) (func(), error) {
	if err := s.Cache.Ensure(); err != nil {
		return nil, newError(KindInternal, ExitFailure, err, "failed to create %s", s.Cache.Dir())
	}

	lock := flock.New(filepath.Join(s.Cache.Dir(), RunLockName))

	var (
		locked bool
		err    error
	)
	if e.cfg.Lock.Wait == 0 {
		locked, err = lock.TryLock()
	} else {
		lockCtx, cancel := context.WithTimeout(ctx, e.cfg.Lock.Wait)
		locked, err = lock.TryLockContext(lockCtx, 100*time.Millisecond)
		cancel()
	}

	switch {
	case err != nil && !errors.Is(err, context.DeadlineExceeded):
		return nil, newError(KindInternal, ExitFailure, err, "failed to take run lock")
	case !locked:
		return nil, newError(KindStateConflict, ExitConcurrentRun, err,
			"another mxgit run is in progress (waited %s)", e.cfg.Lock.Wait)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			s.Logger.Warn("failed to release run lock", "error", err)
		}
	}, nil
}

// pass runs one non-watch mode with the run lock held.
func (e *Engine) pass(ctx context.Context, s *Session, req Request, det *vcs.DetectionResult) (Outcome, error) {
	if err := e.guard(s, req.Mode); err != nil {
		return Outcome{}, err
	}
	if err := e.ensureShadow(ctx, s); err != nil {
		return Outcome{}, err
	}

	unlock, err := e.lockRun(ctx, s)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	var out Outcome
	switch req.Mode {
	case ModeSync, ModePostUpdate:
		if err := statusPass(ctx, s); err != nil {
			return Outcome{}, err
		}

	case ModePreCommit:
		s.Logger.Debug("pre-commit checks passed")

	case ModeMerge:
		out, err = RunMergeDriver(ctx, s, req.Args)
		if err != nil {
			return Outcome{}, err
		}

	case ModeSetProjectID:
		store, err := s.Shadow()
		if err != nil {
			return Outcome{}, err
		}
		if err := store.SetProjectID(ctx, req.ProjectID); err != nil {
			if errors.Is(err, shadow.ErrInvalidProjectID) {
				return Outcome{}, newError(KindValidation, ExitBadProjectID, err, "invalid project id")
			}
			return Outcome{}, newError(KindInternal, ExitFailure, err, "failed to set project id")
		}
		s.RequireReload("project id changed")
		out.Message = fmt.Sprintf("project id set to %s", req.ProjectID)

	case ModeInstall:
		if det.IsWorktree {
			s.Logger.Info("linked worktree, installing into the common git directory", "dir", det.CommonDir)
		}
		report, err := install.Install(install.Options{
			Root:   s.Root,
			GitDir: det.CommonDir,
			Config: e.cfg,
			Logger: s.Logger,
		})
		if err != nil {
			return Outcome{}, newError(KindInternal, ExitFailure, err, "install failed")
		}
		if err := statusPass(ctx, s); err != nil {
			return Outcome{}, err
		}
		if !report.Changed() {
			out.Message = fmt.Sprintf("mxgit is already installed, config saved to %s", report.ConfigFile)
			break
		}
		out.Message = fmt.Sprintf("mxgit installed: %d hooks written, %d skipped, config saved to %s",
			len(report.HooksWritten), len(report.HooksSkipped), report.ConfigFile)

	default:
		return Outcome{}, newError(KindInternal, ExitFailure, nil, "unsupported mode %s", req.Mode)
	}

	out.ReloadRequired = s.ReloadRequired()
	out.ReloadReasons = s.ReloadReasons()
	return out, nil
}

// statusPass brings the shadow store in line with the repository: ignore
// block, base revision, then conflict state.
func statusPass(ctx context.Context, s *Session) error {
	added, err := install.EnsureIgnore(s.Root, s.Config)
	if err != nil {
		return newError(KindInternal, ExitFailure, err, "failed to update .gitignore")
	}
	if len(added) > 0 {
		s.Logger.Info("added ignore rules", "patterns", added)
	}

	if _, err := RefreshBase(ctx, s); err != nil {
		return err
	}
	return ReconcileConflictState(ctx, s)
}

func (e *Engine) reset(det *vcs.DetectionResult) (Outcome, error) {
	report, err := install.Reset(install.Options{
		Root:   det.RepoRoot,
		GitDir: det.CommonDir,
		Config: e.cfg,
		Logger: e.logger,
	})
	if err != nil {
		return Outcome{}, newError(KindInternal, ExitFailure, err, "reset failed")
	}
	return Outcome{
		Message: fmt.Sprintf("mxgit removed: %d paths deleted, %d files cleaned", len(report.Removed), len(report.Stripped)),
	}, nil
}

// watch runs a post-update pass now and after every settled burst of
// changes until ctx is done.
func (e *Engine) watch(ctx context.Context, s *Session, det *vcs.DetectionResult) (Outcome, error) {
	runPass := func(ctx context.Context) error {
		s.clearReload()
		out, err := e.pass(ctx, s, Request{Mode: ModePostUpdate}, det)
		if err != nil {
			e.notifier.Warn(err.Error())
			return err
		}
		if out.ReloadRequired {
			e.notifier.ReloadRequired(out.ReloadReasons)
		}
		return nil
	}

	if err := runPass(ctx); err != nil {
		s.Logger.Error("initial pass failed", "error", err)
	}

	w, err := watch.New(watch.Options{
		Root:     s.Root,
		GitDir:   det.GitDir,
		Names:    []string{s.Artifact, filepath.Base(s.LockPath()), filepath.Base(e.cfg.MergeMarkerPath())},
		Debounce: e.cfg.Watch.Debounce,
		Logger:   s.Logger,
	})
	if err != nil {
		return Outcome{}, newError(KindInternal, ExitFailure, err, "cannot start watching")
	}
	defer w.Close()

	err = w.Run(ctx, func(ctx context.Context, changed []string) error {
		s.Logger.Debug("running pass", "changed", changed)
		return runPass(ctx)
	})
	if err != nil {
		return Outcome{}, newError(KindInternal, ExitFailure, err, "watch failed")
	}
	return Outcome{}, nil
}
