// Package engine keeps the shadow Subversion working copy in line with git.
//
// The modeler only understands Subversion working copies. mxgit maintains a
// minimal one next to .git so the modeler can show what changed since the
// last commit and can resolve model merge conflicts. Each invocation runs
// the same pipeline (see Engine.Run); git hooks, the merge driver and watch
// mode only differ in the mode they request.
//
// # Steps
//
//   - RefreshBase copies the committed artifact into the base cache when HEAD
//     moved.
//   - ReconcileConflictState mirrors git's unmerged stages into the shadow
//     store's conflict record.
//   - RunMergeDriver records a conflict from git's merge driver arguments.
//   - CheckMergeMarker and CheckLock keep mxgit away from a model the
//     modeler has open or is merging.
//
// Every failure is an *Error whose Code is the process exit code.
package engine
