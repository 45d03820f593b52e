// Package git provides the default vcs.Repo implementation, which runs the
// git binary as a subprocess.
//
// Every call is a single git plumbing command bounded by the configured
// timeout, and every output shape has its own small parser that rejects
// lines it does not understand instead of indexing into them blindly.
//
// Usage:
//
//	import _ "github.com/mxgit/mxgit/internal/vcs/git" // Auto-registers via init()
//
//	repo, err := vcs.Open(vcs.BackendCLI, root, vcs.Options{})
package git

import "github.com/mxgit/mxgit/internal/vcs"

// init registers the git CLI backend.
// This is called automatically when the package is imported.
func init() {
	vcs.Register(vcs.BackendCLI, func(root string, opts vcs.Options) (vcs.Repo, error) {
		return New(root, opts)
	})
}
