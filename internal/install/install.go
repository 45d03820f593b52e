// Package install wires mxgit into a git repository and removes it again.
//
// Install writes the git hooks that run mxgit after every operation that can
// change the artifact, registers mxgit as the merge driver for the artifact
// extension, and adds the ignore block. Every text change is made inside a
// marker block so Reset can remove exactly what Install added.
package install

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/mxgit/mxgit/internal/config"
)

const (
	// hookSignature marks a hook as written by mxgit.
	hookSignature = "# installed by mxgit, removed by mxgit --reset"

	// legacyHookLine identifies hooks written by earlier mxgit releases.
	legacyHookLine = "git -> mxgit: running hook"

	// DriverName is the merge driver name used in .git/config and attributes.
	DriverName = "mxgit"
)

// Hooks maps each git hook to the mxgit mode it runs.
var Hooks = map[string]string{
	"pre-commit":    "--precommit",
	"post-commit":   "--postupdate",
	"post-update":   "--postupdate",
	"post-checkout": "--postupdate",
	"post-merge":    "--postupdate",
}

// Options locates the repository to install into.
type Options struct {
	// Root is the working tree root
	Root string

	// GitDir is the directory holding hooks, config and info; for a linked
	// worktree this is the common directory
	GitDir string

	Config *config.Config
	Logger *slog.Logger
}

// Report lists what Install changed.
type Report struct {
	IgnoreAdded  []string
	HooksWritten []string
	HooksSkipped []string
	Attributes   []string
	GitConfig    []string
	ConfigFile   string
}

// Changed reports whether Install modified anything besides the config file.
func (r Report) Changed() bool {
	return len(r.IgnoreAdded)+len(r.HooksWritten)+len(r.Attributes)+len(r.GitConfig) > 0
}

func hookNames() []string {
	names := make([]string, 0, len(Hooks))
	for name := range Hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// hookScript returns the script of hook name running mxgit in mode.
func hookScript(name, command, mode string) string {
	return fmt.Sprintf("#!/bin/sh\n%s\necho '%s %s'\nexec %s %s\n", hookSignature, legacyHookLine, name, command, mode)
}

// isOwnHook reports whether the hook at path was written by mxgit.
func isOwnHook(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	s := string(data)
	return strings.Contains(s, hookSignature) || strings.Contains(s, legacyHookLine), nil
}

// hookCurrent reports whether the hook at path already holds script with
// the executable bit set.
func hookCurrent(path, script string) bool {
	info, err := os.Stat(path)
	if err != nil || (runtime.GOOS != "windows" && info.Mode().Perm()&0111 == 0) {
		return false
	}
	data, err := os.ReadFile(path)
	return err == nil && string(data) == script
}

func attributeItems(cfg *config.Config) []string {
	return []string{fmt.Sprintf("/*%s merge=%s", cfg.Artifact.Extension, DriverName)}
}

func gitConfigItems(cfg *config.Config) []string {
	return []string{fmt.Sprintf("[merge \"%s\"]\n\tname = mxgit merge driver for %s files\n\tdriver = %s --merge %%O %%A %%B",
		DriverName, strings.TrimPrefix(cfg.Artifact.Extension, "."), cfg.Install.Command)}
}

// Install sets up hooks, merge driver, ignore block and config file.
func Install(opts Options) (Report, error) {
	var report Report
	log := opts.Logger

	added, err := EnsureIgnore(opts.Root, opts.Config)
	if err != nil {
		return report, fmt.Errorf("failed to update .gitignore: %w", err)
	}
	report.IgnoreAdded = added
	log.Debug("ignore block", "added", added)

	hooksDir := filepath.Join(opts.GitDir, "hooks")
	if err := os.MkdirAll(hooksDir, 0755); err != nil {
		return report, fmt.Errorf("failed to create hooks directory: %w", err)
	}
	for _, name := range hookNames() {
		path := filepath.Join(hooksDir, name)
		own, err := isOwnHook(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return report, fmt.Errorf("failed to inspect hook %s: %w", name, err)
		case !own:
			log.Warn("git hook already exists, skipping", "hook", path)
			report.HooksSkipped = append(report.HooksSkipped, name)
			continue
		}

		script := hookScript(name, opts.Config.Install.Command, Hooks[name])
		if own && hookCurrent(path, script) {
			log.Debug("git hook up to date", "hook", path)
			continue
		}
		if err := os.WriteFile(path, []byte(script), 0755); err != nil {
			return report, fmt.Errorf("failed to write hook %s: %w", name, err)
		}
		if runtime.GOOS != "windows" {
			// WriteFile keeps the mode of an existing file
			if err := os.Chmod(path, 0755); err != nil {
				return report, fmt.Errorf("failed to make hook %s executable: %w", name, err)
			}
		}
		report.HooksWritten = append(report.HooksWritten, name)
	}

	report.Attributes, err = EnsureBlock(filepath.Join(opts.GitDir, "info", "attributes"), attributeItems(opts.Config), nil)
	if err != nil {
		return report, fmt.Errorf("failed to register merge driver attributes: %w", err)
	}
	report.GitConfig, err = EnsureBlock(filepath.Join(opts.GitDir, "config"), gitConfigItems(opts.Config), nil)
	if err != nil {
		return report, fmt.Errorf("failed to register merge driver: %w", err)
	}

	report.ConfigFile = filepath.Join(opts.GitDir, config.FileName)
	if err := opts.Config.Save(report.ConfigFile); err != nil {
		return report, err
	}

	log.Info("installed", "hooks", len(report.HooksWritten), "ignore_entries", len(report.IgnoreAdded))
	return report, nil
}

// ResetReport lists what Reset removed.
type ResetReport struct {
	Removed      []string
	HooksSkipped []string
	Stripped     []string
}

// Reset removes the cache and shadow directories, mxgit's hooks, its config
// file and every marker block. The caller must have checked that the shadow
// directory belongs to mxgit.
func Reset(opts Options) (ResetReport, error) {
	var report ResetReport
	log := opts.Logger

	remove := func(path string) error {
		if _, err := os.Lstat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		report.Removed = append(report.Removed, path)
		return nil
	}

	for _, path := range []string{
		opts.Config.CacheDir(),
		opts.Config.ShadowDir(),
		filepath.Join(opts.GitDir, config.FileName),
	} {
		if err := remove(path); err != nil {
			return report, err
		}
	}

	for _, name := range hookNames() {
		path := filepath.Join(opts.GitDir, "hooks", name)
		own, err := isOwnHook(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return report, fmt.Errorf("failed to inspect hook %s: %w", name, err)
		case !own:
			log.Warn("leaving foreign git hook in place", "hook", path)
			report.HooksSkipped = append(report.HooksSkipped, name)
			continue
		}
		if err := remove(path); err != nil {
			return report, err
		}
	}

	for _, path := range []string{
		filepath.Join(opts.Root, ".gitignore"),
		filepath.Join(opts.GitDir, "config"),
		filepath.Join(opts.GitDir, "info", "attributes"),
	} {
		changed, err := StripBlocks(path)
		if err != nil {
			return report, err
		}
		if changed {
			report.Stripped = append(report.Stripped, path)
		}
	}

	log.Info("reset complete", "removed", len(report.Removed), "stripped", len(report.Stripped))
	return report, nil
}
