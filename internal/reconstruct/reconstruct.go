// Package reconstruct computes the filesystem state visible at an
// arbitrary instant, implementing spec.md §4.5's `ls` algorithm.
package reconstruct

import (
	"context"
	"fmt"
	"time"

	"serac/internal/index"
)

// Reconstructor answers "what did the archived tree look like at
// time T" queries against the index, grounded directly on
// original_source/serac/index/index.py's State.at/by_path: find the
// latest ArchiveRun at or before T, take each path's latest
// FileVersion at or before that run, excluding DELETED markers, sorted
// by path.
type Reconstructor struct {
	Index index.Database
}

// At returns the FileVersions visible at instant t, restricted to
// paths matching pattern ("" matches everything). Returns an empty
// (nil) slice, not an error, if t precedes the first ArchiveRun or if
// pattern matches nothing.
func (r *Reconstructor) At(ctx context.Context, t time.Time, pattern string) ([]index.FileVersion, error) {
	versions, err := r.Index.StateAt(ctx, t, pattern)
	if err != nil {
		return nil, fmt.Errorf("reconstructing state at %s: %w", t, err)
	}
	return versions, nil
}
