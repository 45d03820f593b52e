package install

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/mxgit/mxgit/internal/config"
)

// IgnoreEntries returns the .gitignore patterns mxgit needs: its own state,
// the modeler's transient files and the modeler's build output.
func IgnoreEntries(cfg *config.Config) []string {
	ext := cfg.Artifact.Extension
	return []string{
		"/" + cfg.Shadow.Dir,
		"/" + cfg.Modeler.MergeMarker,
		"/" + cfg.Cache.Dir,
		"/*" + ext + ".lock",
		"/*" + ext + ".bak",
		"/*" + ext + ".left*",
		"/*" + ext + ".right*",
		"/.settings",
		"/deployment",
		"/releases",
		"proxies",
		"/*.launch",
		"/.classpath",
		"/.project",
	}
}

// samplePath turns a pattern into a path the pattern matches, used to ask
// the existing ignore rules whether they already cover it.
func samplePath(pattern string) string {
	return strings.ReplaceAll(strings.TrimPrefix(pattern, "/"), "*", "x")
}

// ignoreCoverage returns a predicate telling whether the existing .gitignore
// already ignores what a pattern is meant to ignore.
func ignoreCoverage(path string) (func(string) bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	existing := gitignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)
	return func(pattern string) bool {
		return existing.MatchesPath(samplePath(pattern))
	}, nil
}

// EnsureIgnore adds the missing IgnoreEntries to <root>/.gitignore and
// returns the patterns it added.
func EnsureIgnore(root string, cfg *config.Config) ([]string, error) {
	path := filepath.Join(root, ".gitignore")
	covered, err := ignoreCoverage(path)
	if err != nil {
		return nil, err
	}
	return EnsureBlock(path, IgnoreEntries(cfg), covered)
}
