// Package gogit provides a read-only vcs.Repo implementation that opens the
// repository in-process with go-git instead of running the git binary.
//
// It is useful where git is not on PATH (hooks launched from GUI clients on
// Windows, minimal containers). It never writes to the repository.
//
// Usage:
//
//	import _ "github.com/mxgit/mxgit/internal/vcs/gogit" // Auto-registers via init()
//
//	repo, err := vcs.Open(vcs.BackendGoGit, root, vcs.Options{})
package gogit

import "github.com/mxgit/mxgit/internal/vcs"

// init registers the go-git backend.
// This is called automatically when the package is imported.
func init() {
	vcs.Register(vcs.BackendGoGit, func(root string, opts vcs.Options) (vcs.Repo, error) {
		return New(root, opts)
	})
}
