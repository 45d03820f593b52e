package engine

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxgit/mxgit/internal/basecache"
	"github.com/mxgit/mxgit/internal/config"
	"github.com/mxgit/mxgit/internal/logging"
	"github.com/mxgit/mxgit/internal/shadow"
	"github.com/mxgit/mxgit/internal/vcs"
)

const testArtifact = "proj.mpr"

// fakeRepo is an in-memory vcs.Repo. Blob hashes are the sha1 of the
// content unless a test stores a blob under a name of its choice.
type fakeRepo struct {
	root   string
	head   map[string]vcs.TreeEntry
	blobs  map[string][]byte
	state  vcs.FileState
	stages []vcs.StageEntry
	err    error

	blobWrites int
}

func newFakeRepo(root string) *fakeRepo {
	return &fakeRepo{
		root:  root,
		head:  make(map[string]vcs.TreeEntry),
		blobs: make(map[string][]byte),
	}
}

func blobHash(data []byte) string {
	return fmt.Sprintf("%x", sha1.Sum(data))
}

// addBlob stores data and returns its hash.
func (r *fakeRepo) addBlob(data []byte) string {
	h := blobHash(data)
	r.blobs[h] = data
	return h
}

// commit makes data the artifact's content in HEAD.
func (r *fakeRepo) commit(data []byte) string {
	h := r.addBlob(data)
	r.head[testArtifact] = vcs.TreeEntry{Mode: "100644", Type: "blob", Hash: h, Path: testArtifact}
	return h
}

// conflict puts the artifact in conflict with the given sides.
func (r *fakeRepo) conflict(ancestor, ours, theirs []byte) {
	r.state = vcs.StateUnresolved
	r.stages = []vcs.StageEntry{
		{Mode: "100644", Hash: r.addBlob(ancestor), Stage: 1, Path: testArtifact},
		{Mode: "100644", Hash: r.addBlob(ours), Stage: 2, Path: testArtifact},
		{Mode: "100644", Hash: r.addBlob(theirs), Stage: 3, Path: testArtifact},
	}
}

func (r *fakeRepo) Backend() vcs.Backend { return "fake" }
func (r *fakeRepo) Root() string         { return r.root }

func (r *fakeRepo) HeadEntry(_ context.Context, path string) (vcs.TreeEntry, bool, error) {
	if r.err != nil {
		return vcs.TreeEntry{}, false, r.err
	}
	e, ok := r.head[path]
	return e, ok, nil
}

func (r *fakeRepo) FileState(context.Context, string) (vcs.FileState, error) {
	return r.state, r.err
}

func (r *fakeRepo) UnmergedStages(context.Context, string) ([]vcs.StageEntry, error) {
	return r.stages, r.err
}

func (r *fakeRepo) WriteBlob(_ context.Context, hash string, w io.Writer) error {
	data, ok := r.blobs[hash]
	if !ok {
		return fmt.Errorf("%w: %s", vcs.ErrObjectNotFound, hash)
	}
	r.blobWrites++
	_, err := w.Write(data)
	return err
}

func (r *fakeRepo) HashFile(_ context.Context, path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return blobHash(data), nil
}

type recordingNotifier struct {
	reloads   [][]string
	conflicts []string
	warnings  []string
}

func (n *recordingNotifier) ReloadRequired(reasons []string) { n.reloads = append(n.reloads, reasons) }
func (n *recordingNotifier) MergeConflict(artifact string)   { n.conflicts = append(n.conflicts, artifact) }
func (n *recordingNotifier) Warn(msg string)                 { n.warnings = append(n.warnings, msg) }

// projectBytes returns the bytes of a minimal project file carrying version.
func projectBytes(t *testing.T, version string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.mpr")
	db, err := sqlx.Open("sqlite3", "file:"+path)
	require.NoError(t, err)
	db.MustExec(`CREATE TABLE _MetaData (_ProductVersion TEXT, _BuildVersion TEXT)`)
	db.MustExec(`INSERT INTO _MetaData (_ProductVersion, _BuildVersion) VALUES (?, ?)`, version, version+".1")
	require.NoError(t, db.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

type testEnv struct {
	root     string
	cfg      *config.Config
	repo     *fakeRepo
	notifier *recordingNotifier
	engine   *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))

	cfg := config.Default(root)
	cfg.Lock.Wait = 0

	env := &testEnv{
		root:     root,
		cfg:      cfg,
		repo:     newFakeRepo(root),
		notifier: &recordingNotifier{},
	}
	env.engine = New(cfg,
		WithLogger(logging.Discard()),
		WithNotifier(env.notifier),
		WithRepoOpener(func(*config.Config, string) (vcs.Repo, error) { return env.repo, nil }),
	)
	return env
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.root, name)
}

func (e *testEnv) writeArtifact(t *testing.T, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.path(testArtifact), data, 0644))
}

func (e *testEnv) run(mode Mode) (Outcome, error) {
	return e.engine.Run(context.Background(), Request{Mode: mode})
}

func (e *testEnv) store(t *testing.T) *shadow.Store {
	t.Helper()
	store, err := shadow.Open(filepath.Join(e.cfg.ShadowDir(), shadow.DBName))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func (e *testEnv) baseRecord(t *testing.T) basecache.Record {
	t.Helper()
	rec, err := basecache.New(e.cfg.CacheDir()).Load()
	require.NoError(t, err)
	return rec
}

func TestRun_NoRepository(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.Remove(env.path(".git")))
	env.writeArtifact(t, []byte("x"))

	_, err := env.run(ModeSync)
	require.Error(t, err)
	assert.Equal(t, ExitNoRepository, ExitCode(err))
	assert.True(t, IsKind(err, KindEnvironment))
}

func TestRun_NoArtifact(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(ModeSync)
	assert.Equal(t, ExitNoArtifact, ExitCode(err))
	assert.NoDirExists(t, env.cfg.ShadowDir())
}

func TestRun_FirstSyncThenIdempotent(t *testing.T) {
	env := newTestEnv(t)
	data := projectBytes(t, "9.24.0")
	hash := env.repo.commit(data)
	env.writeArtifact(t, data)

	out, err := env.run(ModeSync)
	require.NoError(t, err)
	assert.Equal(t, ExitOK, out.ExitCode)
	assert.True(t, out.ReloadRequired)

	assert.FileExists(t, filepath.Join(env.cfg.ShadowDir(), shadow.DBName))
	rec := env.baseRecord(t)
	assert.Equal(t, hash, rec.Hash)
	assert.Equal(t, "9.24.0", rec.Version)

	base, err := os.ReadFile(basecache.New(env.cfg.CacheDir()).DataPath())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, base))

	exists, err := env.store(t).NodeExists(context.Background(), testArtifact)
	require.NoError(t, err)
	assert.True(t, exists)

	writes := env.repo.blobWrites
	out, err = env.run(ModeSync)
	require.NoError(t, err)
	assert.False(t, out.ReloadRequired, "unchanged repository needs no reload")
	assert.Equal(t, writes, env.repo.blobWrites, "base is not rewritten")
}

func TestRun_FreshScenario(t *testing.T) {
	env := newTestEnv(t)
	data := projectBytes(t, "10.6.0")
	env.repo.blobs["abc123"] = data
	env.repo.head[testArtifact] = vcs.TreeEntry{Mode: "100644", Type: "blob", Hash: "abc123", Path: testArtifact}
	env.writeArtifact(t, data)

	out, err := env.run(ModePostUpdate)
	require.NoError(t, err)
	assert.True(t, out.ReloadRequired)
	assert.Equal(t, "abc123", env.baseRecord(t).Hash)

	_, found, err := env.store(t).Conflict(context.Background(), testArtifact)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRun_RevisionChange(t *testing.T) {
	env := newTestEnv(t)
	first := projectBytes(t, "9.24.0")
	env.repo.commit(first)
	env.writeArtifact(t, first)
	_, err := env.run(ModeSync)
	require.NoError(t, err)

	second := projectBytes(t, "9.24.1")
	hash := env.repo.commit(second)
	env.writeArtifact(t, second)

	out, err := env.run(ModePostUpdate)
	require.NoError(t, err)
	assert.True(t, out.ReloadRequired)
	assert.Contains(t, out.ReloadReasons, "base revision changed")

	rec := env.baseRecord(t)
	assert.Equal(t, hash, rec.Hash)
	assert.Equal(t, "9.24.1", rec.Version)
}

func TestRun_UncommittedArtifact(t *testing.T) {
	env := newTestEnv(t)
	env.writeArtifact(t, projectBytes(t, "9.18.3"))

	out, err := env.run(ModeSync)
	require.NoError(t, err)
	assert.True(t, out.ReloadRequired)

	rec := env.baseRecord(t)
	assert.Equal(t, "", rec.Hash)
	assert.Equal(t, "9.18.3", rec.Version)

	out, err = env.run(ModeSync)
	require.NoError(t, err)
	assert.False(t, out.ReloadRequired)
}

func TestRun_BadProductVersion(t *testing.T) {
	env := newTestEnv(t)
	env.repo.commit([]byte("not a project file"))
	env.writeArtifact(t, []byte("not a project file"))

	_, err := env.run(ModeSync)
	assert.Equal(t, ExitBadVersion, ExitCode(err))
	assert.True(t, IsKind(err, KindValidation))

	_, err = basecache.New(env.cfg.CacheDir()).Load()
	assert.ErrorIs(t, err, basecache.ErrNoRecord, "record is only written after a successful refresh")
}

func TestRun_Timeout(t *testing.T) {
	env := newTestEnv(t)
	env.writeArtifact(t, projectBytes(t, "9.24.0"))
	env.repo.err = fmt.Errorf("git ls-tree: %w", vcs.ErrTimeout)

	_, err := env.run(ModeSync)
	assert.Equal(t, ExitTimeout, ExitCode(err))
	assert.True(t, IsKind(err, KindTimeout))
}

func TestRun_ConflictMirror(t *testing.T) {
	env := newTestEnv(t)
	ours := projectBytes(t, "9.24.0")
	env.repo.commit(ours)
	env.writeArtifact(t, ours)

	ancestor := projectBytes(t, "9.23.0")
	theirs := projectBytes(t, "9.24.2")
	env.repo.conflict(ancestor, ours, theirs)

	out, err := env.run(ModePostUpdate)
	require.NoError(t, err)
	assert.True(t, out.ReloadRequired)
	assert.Equal(t, []string{testArtifact}, env.notifier.conflicts)

	left, err := os.ReadFile(env.path(testArtifact + ".left"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(ancestor, left))
	right, err := os.ReadFile(env.path(testArtifact + ".right"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(theirs, right))

	rec, found, err := env.store(t).Conflict(context.Background(), testArtifact)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, shadow.ConflictRecord{Path: testArtifact, Left: "proj.mpr.left", Right: "proj.mpr.right"}, rec)

	// a second pass over the same conflict changes nothing
	out, err = env.run(ModePostUpdate)
	require.NoError(t, err)
	assert.False(t, out.ReloadRequired)
	assert.Len(t, env.notifier.conflicts, 1)

	// the developer resolves and stages the artifact
	env.repo.state = vcs.StateModified
	env.repo.stages = nil
	out, err = env.run(ModePostUpdate)
	require.NoError(t, err)
	assert.Contains(t, out.ReloadReasons, "merge conflict resolved")

	_, found, err = env.store(t).Conflict(context.Background(), testArtifact)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRun_ConflictSideChangedOnDisk(t *testing.T) {
	env := newTestEnv(t)
	ours := projectBytes(t, "9.24.0")
	env.repo.commit(ours)
	env.writeArtifact(t, ours)
	theirs := projectBytes(t, "9.24.2")
	env.repo.conflict(projectBytes(t, "9.23.0"), ours, theirs)

	_, err := env.run(ModePostUpdate)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.path(testArtifact+".right"), []byte("edited"), 0644))

	out, err := env.run(ModePostUpdate)
	require.NoError(t, err)
	assert.True(t, out.ReloadRequired)

	right, err := os.ReadFile(env.path(testArtifact + ".right"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(theirs, right))
}

func TestRun_UnsupportedMerge(t *testing.T) {
	env := newTestEnv(t)
	ours := projectBytes(t, "9.24.0")
	env.repo.commit(ours)
	env.writeArtifact(t, ours)

	// add/add: no common ancestor
	env.repo.state = vcs.StateUnresolved
	env.repo.stages = []vcs.StageEntry{
		{Mode: "100644", Hash: env.repo.addBlob(ours), Stage: 2, Path: testArtifact},
		{Mode: "100644", Hash: env.repo.addBlob([]byte("theirs")), Stage: 3, Path: testArtifact},
	}

	_, err := env.run(ModePostUpdate)
	assert.Equal(t, ExitUnsupportedMerge, ExitCode(err))
	assert.True(t, IsKind(err, KindStateConflict))
}

func TestRun_LockPrecedence(t *testing.T) {
	env := newTestEnv(t)
	data := projectBytes(t, "9.24.0")
	env.repo.commit(data)
	env.writeArtifact(t, data)
	require.NoError(t, os.WriteFile(env.path(testArtifact+".lock"), nil, 0644))

	_, err := env.run(ModePreCommit)
	assert.Equal(t, ExitLocked, ExitCode(err))
	assert.NoDirExists(t, env.cfg.ShadowDir(), "nothing is touched while the model is open")

	_, err = env.run(ModeSync)
	assert.Equal(t, ExitLocked, ExitCode(err))

	out, err := env.run(ModePostUpdate)
	require.NoError(t, err)
	assert.True(t, out.ReloadRequired)
	assert.Contains(t, out.ReloadReasons, "project was open in the modeler during the update")
	assert.Len(t, env.notifier.warnings, 1)
}

func TestRun_MergeMarker(t *testing.T) {
	env := newTestEnv(t)
	env.writeArtifact(t, projectBytes(t, "9.24.0"))
	require.NoError(t, os.WriteFile(env.cfg.MergeMarkerPath(), nil, 0644))

	for _, mode := range []Mode{ModeSync, ModePostUpdate, ModePreCommit, ModeMerge} {
		_, err := env.engine.Run(context.Background(), Request{Mode: mode, Args: []string{"a", "b", "c"}})
		assert.Equal(t, ExitMergeMarker, ExitCode(err), mode.String())
	}
	assert.NoDirExists(t, env.cfg.ShadowDir())
}

func TestRun_MergeDriver(t *testing.T) {
	env := newTestEnv(t)
	env.writeArtifact(t, projectBytes(t, "9.24.0"))

	tmp := t.TempDir()
	args := make([]string, 3)
	for i, content := range []string{"ancestor", "mine", "theirs"} {
		args[i] = filepath.Join(tmp, content)
		require.NoError(t, os.WriteFile(args[i], []byte(content), 0644))
	}

	out, err := env.engine.Run(context.Background(), Request{Mode: ModeMerge, Args: args})
	require.NoError(t, err)
	assert.Equal(t, ExitFailure, out.ExitCode)
	assert.True(t, out.ReloadRequired)

	left, err := os.ReadFile(env.path(testArtifact + ".left"))
	require.NoError(t, err)
	assert.Equal(t, "ancestor", string(left))
	right, err := os.ReadFile(env.path(testArtifact + ".right"))
	require.NoError(t, err)
	assert.Equal(t, "theirs", string(right))

	_, found, err := env.store(t).Conflict(context.Background(), testArtifact)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{testArtifact}, env.notifier.conflicts)
}

func TestRun_MergeDriverArgs(t *testing.T) {
	env := newTestEnv(t)
	env.writeArtifact(t, projectBytes(t, "9.24.0"))

	_, err := env.engine.Run(context.Background(), Request{Mode: ModeMerge, Args: []string{"a", "b"}})
	assert.Equal(t, ExitMergeArgs, ExitCode(err))
}

func TestRun_ForeignShadow(t *testing.T) {
	env := newTestEnv(t)
	env.writeArtifact(t, projectBytes(t, "9.24.0"))
	require.NoError(t, os.MkdirAll(env.cfg.ShadowDir(), 0755))

	ctx := context.Background()
	store, err := shadow.Create(ctx, filepath.Join(env.cfg.ShadowDir(), shadow.DBName))
	require.NoError(t, err)
	require.NoError(t, store.Seed(ctx, "https://svn.example.com/repos/app/trunk", "5f1c0d2e-0000-4000-8000-000000000000"))
	require.NoError(t, store.Close())

	_, err = env.run(ModeSync)
	assert.Equal(t, ExitForeignShadow, ExitCode(err))

	_, err = env.run(ModeReset)
	assert.Equal(t, ExitForeignShadow, ExitCode(err))
	assert.DirExists(t, env.cfg.ShadowDir(), "a foreign working copy is never removed")
}

func TestRun_ShadowWithoutStore(t *testing.T) {
	env := newTestEnv(t)
	env.writeArtifact(t, projectBytes(t, "9.24.0"))
	require.NoError(t, os.MkdirAll(env.cfg.ShadowDir(), 0755))

	_, err := env.run(ModeSync)
	assert.Equal(t, ExitForeignShadow, ExitCode(err))
}

func TestRun_SetProjectID(t *testing.T) {
	env := newTestEnv(t)
	env.writeArtifact(t, projectBytes(t, "9.24.0"))

	out, err := env.engine.Run(context.Background(), Request{Mode: ModeSetProjectID, ProjectID: "a1b2-c3_d4"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Message)

	id, err := env.store(t).ProjectID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a1b2-c3_d4", id)

	_, err = env.engine.Run(context.Background(), Request{Mode: ModeSetProjectID, ProjectID: "x'); DROP TABLE NODES; --"})
	assert.Equal(t, ExitBadProjectID, ExitCode(err))
}

func TestRun_InstallAndReset(t *testing.T) {
	env := newTestEnv(t)
	data := projectBytes(t, "9.24.0")
	env.repo.commit(data)
	env.writeArtifact(t, data)

	out, err := env.run(ModeInstall)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Message)
	assert.FileExists(t, env.path(".git/hooks/pre-commit"))
	assert.FileExists(t, env.path(".git/"+config.FileName))
	assert.FileExists(t, basecache.New(env.cfg.CacheDir()).DataPath())

	out, err = env.run(ModeReset)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Message)
	assert.NoDirExists(t, env.cfg.ShadowDir())
	assert.NoDirExists(t, env.cfg.CacheDir())
	assert.NoFileExists(t, env.path(".git/hooks/pre-commit"))
}

func TestRun_ConcurrentRun(t *testing.T) {
	env := newTestEnv(t)
	data := projectBytes(t, "9.24.0")
	env.repo.commit(data)
	env.writeArtifact(t, data)
	_, err := env.run(ModeSync)
	require.NoError(t, err)

	s := &Session{Config: env.cfg, Cache: basecache.New(env.cfg.CacheDir()), Logger: env.engine.logger}
	unlock, err := env.engine.lockRun(context.Background(), s)
	require.NoError(t, err)
	defer unlock()

	// a second file descriptor on the same lock file does not share the lock
	_, err = env.run(ModeSync)
	assert.Equal(t, ExitConcurrentRun, ExitCode(err))
}

// cancelOnReload stops watch mode after the first reload banner.
type cancelOnReload struct {
	*recordingNotifier
	cancel context.CancelFunc
}

func (n cancelOnReload) ReloadRequired(reasons []string) {
	n.recordingNotifier.ReloadRequired(reasons)
	n.cancel()
}

func TestRun_WatchRunsInitialPass(t *testing.T) {
	env := newTestEnv(t)
	data := projectBytes(t, "9.24.0")
	hash := env.repo.commit(data)
	env.writeArtifact(t, data)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng := New(env.cfg,
		WithLogger(env.engine.logger),
		WithNotifier(cancelOnReload{recordingNotifier: env.notifier, cancel: cancel}),
		WithRepoOpener(func(*config.Config, string) (vcs.Repo, error) { return env.repo, nil }),
	)

	_, err := eng.Run(ctx, Request{Mode: ModeWatch})
	require.NoError(t, err)
	assert.Equal(t, hash, env.baseRecord(t).Hash)
	require.NotEmpty(t, env.notifier.reloads)
	assert.Contains(t, env.notifier.reloads[0], "base revision changed")
}

func TestFindArtifact(t *testing.T) {
	root := t.TempDir()

	_, err := FindArtifact(root, ".mpr", "")
	assert.Equal(t, ExitNoArtifact, ExitCode(err))

	require.NoError(t, os.WriteFile(filepath.Join(root, "App.mpr"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "App.mpr.lock"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir.mpr"), 0755))

	name, err := FindArtifact(root, ".mpr", "")
	require.NoError(t, err)
	assert.Equal(t, "App.mpr", name)

	require.NoError(t, os.WriteFile(filepath.Join(root, "Other.mpr"), nil, 0644))
	_, err = FindArtifact(root, ".mpr", "")
	assert.Equal(t, ExitNoArtifact, ExitCode(err))
	assert.Contains(t, err.Error(), "App.mpr, Other.mpr")

	name, err = FindArtifact(root, ".mpr", "Other.mpr")
	require.NoError(t, err)
	assert.Equal(t, "Other.mpr", name)

	_, err = FindArtifact(root, ".mpr", "Missing.mpr")
	assert.Equal(t, ExitNoArtifact, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(io.EOF))

	err := fmt.Errorf("wrapped: %w", newError(KindStateConflict, ExitLocked, nil, "locked"))
	assert.Equal(t, ExitLocked, ExitCode(err))
	assert.True(t, IsKind(err, KindStateConflict))
	assert.False(t, IsKind(err, KindTimeout))

	assert.Equal(t, ExitTimeout, ExitCode(subprocessError(vcs.ErrTimeout, "git")))
	assert.Equal(t, ExitFailure, ExitCode(subprocessError(vcs.ErrObjectNotFound, "git")))
}

func TestRun_BackendUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.writeArtifact(t, []byte("x"))
	eng := New(env.cfg,
		WithLogger(logging.Discard()),
		WithRepoOpener(func(*config.Config, string) (vcs.Repo, error) {
			return nil, fmt.Errorf("git: %w", vcs.ErrVCSNotAvailable)
		}),
	)

	_, err := eng.Run(context.Background(), Request{Mode: ModeSync})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.True(t, IsKind(err, KindEnvironment))
	assert.Contains(t, err.Error(), "gogit")
}

func TestRun_RetrievalFailure(t *testing.T) {
	env := newTestEnv(t)
	data := projectBytes(t, "9.24.0")
	hash := env.repo.commit(data)
	delete(env.repo.blobs, hash)
	env.writeArtifact(t, data)

	_, err := env.run(ModeSync)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSubprocess))
	assert.ErrorIs(t, err, vcs.ErrObjectNotFound)

	cache := basecache.New(env.cfg.CacheDir())
	assert.False(t, cache.HasData())
	_, err = cache.Load()
	assert.ErrorIs(t, err, basecache.ErrNoRecord)
}

func TestRun_BadVersionDropsRecord(t *testing.T) {
	env := newTestEnv(t)
	first := projectBytes(t, "9.24.0")
	env.repo.commit(first)
	env.writeArtifact(t, first)
	_, err := env.run(ModeSync)
	require.NoError(t, err)

	env.repo.commit([]byte("not a project file"))
	_, err = env.run(ModeSync)
	assert.Equal(t, ExitBadVersion, ExitCode(err))

	_, err = basecache.New(env.cfg.CacheDir()).Load()
	assert.ErrorIs(t, err, basecache.ErrNoRecord, "base_data was replaced, the old record must not survive")
}

func TestRun_SyncPristine(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Shadow.SyncPristine = true
	first := projectBytes(t, "9.24.0")
	env.repo.commit(first)
	env.writeArtifact(t, first)

	_, err := env.run(ModeSync)
	require.NoError(t, err)
	info, ok, err := env.store(t).Pristine(context.Background(), testArtifact)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "$sha1$"+blobHash(first), info.Checksum)

	second := projectBytes(t, "9.24.1")
	env.repo.commit(second)
	_, err = env.run(ModeSync)
	require.NoError(t, err)
	info, ok, err = env.store(t).Pristine(context.Background(), testArtifact)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "$sha1$"+blobHash(second), info.Checksum)
}

func TestRun_ArtifactLoggedOnce(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	eng := New(env.cfg,
		WithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithNotifier(env.notifier),
		WithRepoOpener(func(*config.Config, string) (vcs.Repo, error) { return env.repo, nil }),
	)
	data := projectBytes(t, "9.24.0")
	env.repo.commit(data)
	env.writeArtifact(t, data)

	_, err := eng.Run(context.Background(), Request{Mode: ModeSync})
	require.NoError(t, err)

	var checked int
	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.Contains(line, "base updated") && !strings.Contains(line, "artifact status") {
			continue
		}
		checked++
		assert.Equal(t, 1, strings.Count(line, "artifact="+testArtifact), line)
	}
	assert.Equal(t, 2, checked)
}

func TestEnsureShadow_DropsStaleStore(t *testing.T) {
	env := newTestEnv(t)
	data := projectBytes(t, "9.24.0")
	env.repo.commit(data)
	env.writeArtifact(t, data)
	_, err := env.run(ModeSync)
	require.NoError(t, err)

	s := &Session{Config: env.cfg, Root: env.root, Artifact: testArtifact, Logger: logging.Discard()}
	defer s.Close()
	stale, err := s.Shadow()
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(env.cfg.ShadowDir()))
	require.NoError(t, env.engine.ensureShadow(context.Background(), s))

	fresh, err := s.Shadow()
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	exists, err := fresh.NodeExists(context.Background(), testArtifact)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_InstallTwice(t *testing.T) {
	env := newTestEnv(t)
	data := projectBytes(t, "9.24.0")
	env.repo.commit(data)
	env.writeArtifact(t, data)

	_, err := env.run(ModeInstall)
	require.NoError(t, err)
	out, err := env.run(ModeInstall)
	require.NoError(t, err)
	assert.Contains(t, out.Message, "already installed")
}
