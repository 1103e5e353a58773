// Package archiver compares scan results to the index's latest-known
// state and records changes, implementing spec.md §4.4.
package archiver

import (
	"serac/internal/index"
	"serac/internal/scan"
)

// Plan is the differ's output: files that need hashing (and possibly
// uploading) because they're new or have changed metadata, and paths
// that were present in the index but are now absent from the scan.
type Plan struct {
	ToHash       []scan.File
	DeletedPaths []string
}

// Classify compares scanned (this run's filesystem observation) to
// latest (the index's most recent non-deleted version of every known
// path) and produces a Plan. Per spec.md §4.4, a path is Unchanged —
// and skipped entirely, without rehashing — only if every observed
// attribute (size, mtime, mode, owner, group) matches; any difference
// makes it Changed, which always recomputes the hash.
func Classify(scanned []scan.File, latest map[string]index.FileVersion) Plan {
	var plan Plan

	seen := make(map[string]bool, len(scanned))
	for _, f := range scanned {
		seen[f.Path] = true
		prev, ok := latest[f.Path]
		if !ok {
			plan.ToHash = append(plan.ToHash, f)
			continue
		}
		if unchanged(prev, f) {
			continue
		}
		plan.ToHash = append(plan.ToHash, f)
	}

	for path := range latest {
		if !seen[path] {
			plan.DeletedPaths = append(plan.DeletedPaths, path)
		}
	}

	return plan
}

func unchanged(prev index.FileVersion, f scan.File) bool {
	return prev.Size == f.Size &&
		prev.ModTime.Equal(f.ModTime) &&
		prev.Mode == f.Mode &&
		prev.Owner == f.Owner &&
		prev.Group == f.Group
}
