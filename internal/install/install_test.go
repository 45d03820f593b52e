package install

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxgit/mxgit/internal/config"
	"github.com/mxgit/mxgit/internal/logging"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(gitDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "config"), []byte("[core]\n\tbare = false\n"), 0644))

	return Options{
		Root:   root,
		GitDir: gitDir,
		Config: config.Default(root),
		Logger: logging.Discard(),
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestEnsureBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attributes")

	added, err := EnsureBlock(path, []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, added)
	assert.Equal(t, "\n#mxgit-marker-start\na\nb\n#mxgit-marker-end\n", readFile(t, path))

	added, err = EnsureBlock(path, []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Empty(t, added, "second run is a no-op")

	added, err = EnsureBlock(path, []string{"a", "c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, added, "only missing lines are appended")
}

func TestEnsureBlock_MultiLineItem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	item := "[merge \"mxgit\"]\n\tdriver = mxgit --merge %O %A %B"

	_, err := EnsureBlock(path, []string{item}, nil)
	require.NoError(t, err)
	added, err := EnsureBlock(path, []string{item}, nil)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, 1, strings.Count(readFile(t, path), "[merge \"mxgit\"]"))
}

func TestStripBlocks_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".gitignore")
	original := "node_modules\n*.log\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0644))

	_, err := EnsureBlock(path, []string{"/.svn"}, nil)
	require.NoError(t, err)
	_, err = EnsureBlock(path, []string{"/.mendix-cache"}, nil)
	require.NoError(t, err)

	changed, err := StripBlocks(path)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, original, readFile(t, path))

	changed, err = StripBlocks(path)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = StripBlocks(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestEnsureIgnore_RespectsExistingRules(t *testing.T) {
	opts := testOptions(t)
	gitignore := filepath.Join(opts.Root, ".gitignore")
	require.NoError(t, os.WriteFile(gitignore, []byte(".svn\n*.launch\ndeployment\n"), 0644))

	added, err := EnsureIgnore(opts.Root, opts.Config)
	require.NoError(t, err)
	assert.NotContains(t, added, "/.svn")
	assert.NotContains(t, added, "/*.launch")
	assert.NotContains(t, added, "/deployment")
	assert.Contains(t, added, "/.mendix-cache")
	assert.Contains(t, added, "/*.mpr.lock")

	added, err = EnsureIgnore(opts.Root, opts.Config)
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestInstall(t *testing.T) {
	opts := testOptions(t)

	report, err := Install(opts)
	require.NoError(t, err)
	assert.True(t, report.Changed())
	assert.Len(t, report.HooksWritten, len(Hooks))

	hook := readFile(t, filepath.Join(opts.GitDir, "hooks", "pre-commit"))
	assert.Contains(t, hook, "exec mxgit --precommit")
	assert.Contains(t, hook, hookSignature)
	assert.Contains(t, readFile(t, filepath.Join(opts.GitDir, "hooks", "post-merge")), "exec mxgit --postupdate")

	info, err := os.Stat(filepath.Join(opts.GitDir, "hooks", "post-checkout"))
	require.NoError(t, err)
	if info.Mode()&0111 == 0 && runtime.GOOS != "windows" {
		t.Errorf("hook is not executable: %v", info.Mode())
	}

	assert.Contains(t, readFile(t, filepath.Join(opts.GitDir, "info", "attributes")), "/*.mpr merge=mxgit")
	gitConfig := readFile(t, filepath.Join(opts.GitDir, "config"))
	assert.Contains(t, gitConfig, "[merge \"mxgit\"]")
	assert.Contains(t, gitConfig, "driver = mxgit --merge %O %A %B")
	assert.FileExists(t, report.ConfigFile)

	// a second install changes nothing
	report, err = Install(opts)
	require.NoError(t, err)
	assert.Empty(t, report.IgnoreAdded)
	assert.Empty(t, report.Attributes)
	assert.Empty(t, report.GitConfig)
	assert.Empty(t, report.HooksWritten)
	assert.False(t, report.Changed())

	// a new command rewrites our own hooks
	opts.Config.Install.Command = "/opt/mxgit/mxgit"
	report, err = Install(opts)
	require.NoError(t, err)
	assert.True(t, report.Changed())
	assert.Len(t, report.HooksWritten, len(Hooks))
	assert.Contains(t, readFile(t, filepath.Join(opts.GitDir, "hooks", "pre-commit")), "exec /opt/mxgit/mxgit --precommit")
}

func TestInstall_ForeignHook(t *testing.T) {
	opts := testOptions(t)
	hooksDir := filepath.Join(opts.GitDir, "hooks")
	require.NoError(t, os.MkdirAll(hooksDir, 0755))
	foreign := "#!/bin/sh\nnpm test\n"
	require.NoError(t, os.WriteFile(filepath.Join(hooksDir, "pre-commit"), []byte(foreign), 0755))

	report, err := Install(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"pre-commit"}, report.HooksSkipped)
	assert.Equal(t, foreign, readFile(t, filepath.Join(hooksDir, "pre-commit")))

	resetReport, err := Reset(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"pre-commit"}, resetReport.HooksSkipped)
	assert.Equal(t, foreign, readFile(t, filepath.Join(hooksDir, "pre-commit")))
	assert.NoFileExists(t, filepath.Join(hooksDir, "post-merge"))
}

func TestReset(t *testing.T) {
	opts := testOptions(t)
	gitignore := filepath.Join(opts.Root, ".gitignore")
	require.NoError(t, os.WriteFile(gitignore, []byte("bin/\n"), 0644))
	configBefore := readFile(t, filepath.Join(opts.GitDir, "config"))

	_, err := Install(opts)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(opts.Config.CacheDir(), 0755))
	require.NoError(t, os.MkdirAll(opts.Config.ShadowDir(), 0755))

	report, err := Reset(opts)
	require.NoError(t, err)
	assert.Len(t, report.Stripped, 3)

	assert.NoDirExists(t, opts.Config.CacheDir())
	assert.NoDirExists(t, opts.Config.ShadowDir())
	assert.NoFileExists(t, filepath.Join(opts.GitDir, config.FileName))
	for name := range Hooks {
		assert.NoFileExists(t, filepath.Join(opts.GitDir, "hooks", name))
	}
	assert.Equal(t, "bin/\n", readFile(t, gitignore))
	assert.Equal(t, configBefore, readFile(t, filepath.Join(opts.GitDir, "config")))
	assert.NotContains(t, readFile(t, filepath.Join(opts.GitDir, "info", "attributes")), "merge=mxgit")
}

func TestIsOwnHook_Legacy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "post-commit")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho 'git -> mxgit: running hook post-commit'\nexec mxgit postupdate"), 0755))

	own, err := isOwnHook(path)
	require.NoError(t, err)
	assert.True(t, own)
}
