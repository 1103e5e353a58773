// Package scan walks the configured source tree and yields file
// metadata for the differ, implementing spec.md §4.3.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// File is one entry the scanner observed: a regular file or a symlink
// recorded by path but not followed. ModTime is truncated to whole
// seconds, matching the precision the index stores it at, so a
// reloaded FileVersion's mtime compares equal to a freshly scanned
// one when nothing actually changed.
type File struct {
	Path      string
	Size      int64
	ModTime   time.Time
	Mode      os.FileMode
	Owner     string
	Group     string
	IsSymlink bool
}

// Warning reports a non-fatal problem encountered while scanning:
// permission-denied entries and non-regular files are skipped rather
// than aborting the scan.
type Warning struct {
	Path string
	Err  error
}

// Config is the scanner's input: the include roots to walk and the
// exclude patterns to apply against every absolute path visited.
type Config struct {
	IncludeRoots    []string
	ExcludePatterns []string
}

// Scanner enumerates a Config's include roots in deterministic
// (lexicographic) order, grounded on the teacher's
// fs.OSFilesystemManager.FindFiles (filepath.WalkDir), generalized to
// multiple roots and literal-prefix excludes.
type Scanner struct {
	cfg    Config
	owners *ownerCache
}

// New validates cfg's exclude patterns and returns a ready Scanner.
func New(cfg Config) (*Scanner, error) {
	if err := ValidateExcludePatterns(cfg.ExcludePatterns); err != nil {
		return nil, err
	}
	return &Scanner{cfg: cfg, owners: newOwnerCache()}, nil
}

// Scan walks every include root, calling onWarning for each skipped
// permission-denied or non-regular entry, and returns the observed
// files in walk order. filepath.WalkDir visits each directory's
// entries in the sorted order os.ReadDir returns, so the order within
// one root is deterministic; roots are walked in the order given, and
// the combined result is not re-sorted.
func (s *Scanner) Scan(ctx context.Context, onWarning func(Warning)) ([]File, error) {
	var files []File

	for _, root := range s.cfg.IncludeRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				if os.IsPermission(err) {
					onWarning(Warning{Path: path, Err: err})
					return nil
				}
				return fmt.Errorf("walking %s: %w", path, err)
			}

			if excluded(path, s.cfg.ExcludePatterns) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				if os.IsPermission(err) {
					onWarning(Warning{Path: path, Err: err})
					return nil
				}
				return fmt.Errorf("stat %s: %w", path, err)
			}

			mode := info.Mode()
			isSymlink := mode&os.ModeSymlink != 0

			if !isSymlink && !mode.IsRegular() {
				onWarning(Warning{Path: path, Err: fmt.Errorf("non-regular file (mode %v) skipped", mode)})
				return nil
			}

			owner, group := s.resolveOwnership(info)
			files = append(files, File{
				Path:      path,
				Size:      info.Size(),
				ModTime:   info.ModTime().Truncate(time.Second),
				Mode:      mode,
				Owner:     owner,
				Group:     group,
				IsSymlink: isSymlink,
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}

func (s *Scanner) resolveOwnership(info fs.FileInfo) (owner, group string) {
	uid, gid, ok := statOwnership(info.Sys())
	if !ok {
		return "", ""
	}
	return s.owners.userName(uid), s.owners.groupName(gid)
}
