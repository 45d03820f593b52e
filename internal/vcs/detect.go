package vcs

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DetectionResult contains information about the detected repository
type DetectionResult struct {
	// RepoRoot is the working tree root directory path
	RepoRoot string

	// GitDir is the git metadata directory path. For worktrees this is the
	// per-worktree directory the .git file points to.
	GitDir string

	// CommonDir holds hooks, config and info/ (differs from GitDir for worktrees)
	CommonDir string

	// IsWorktree indicates this is a linked git worktree (not main repo)
	IsWorktree bool
}

// Detect checks that dir itself is the root of a git working tree.
//
// Unlike git, mxgit does not walk up to parent directories: the tracked
// artifact and the shadow store live next to .git, so the tool has to be run
// from the repository root.
//
// Returns ErrNotInVCS if dir has no .git entry.
func Detect(dir string) (*DetectionResult, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	gitPath := filepath.Join(absPath, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return nil, ErrNotInVCS
	}

	result := &DetectionResult{RepoRoot: absPath}

	switch {
	case info.IsDir():
		result.GitDir = gitPath
		result.CommonDir = gitPath
	case info.Mode().IsRegular():
		// .git is a file - this is a worktree
		result.IsWorktree = true
		result.GitDir = resolveGitFile(absPath, gitPath)
		result.CommonDir = resolveCommonDir(result.GitDir)
	default:
		return nil, ErrNotInVCS
	}

	return result, nil
}

// resolveGitFile reads a worktree's .git file.
//
// Git worktrees have a .git file (not directory) containing:
//
//	gitdir: /path/to/main/.git/worktrees/worktree-name
func resolveGitFile(worktreePath, gitFile string) string {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return gitFile
	}

	line := strings.TrimSpace(string(content))
	if !strings.HasPrefix(line, "gitdir: ") {
		return gitFile
	}

	gitDir := strings.TrimPrefix(line, "gitdir: ")

	// Handle relative paths
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(worktreePath, gitDir)
	}

	return filepath.Clean(gitDir)
}

// resolveCommonDir follows a worktree git dir's commondir file back to the
// main repository's .git directory.
func resolveCommonDir(gitDir string) string {
	content, err := os.ReadFile(filepath.Join(gitDir, "commondir"))
	if err != nil {
		return gitDir
	}

	commonDir := strings.TrimSpace(string(content))
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(gitDir, commonDir)
	}
	return filepath.Clean(commonDir)
}

// IsGitAvailable checks if the named git binary can be found.
func IsGitAvailable(binary string) bool {
	if binary == "" {
		binary = "git"
	}
	_, err := exec.LookPath(binary)
	return err == nil
}
