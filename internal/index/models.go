// Package index is the durable, transactional record of archive runs
// and per-path file versions, grounded on the teacher's
// internal/database SQLite store but against serac's own schema.
package index

import (
	"os"
	"time"
)

// Hash is a lowercase hex-encoded SHA-256 digest of a file's plaintext.
type Hash string

// ArchiveRun is one successful archive invocation.
type ArchiveRun struct {
	ID            int64
	StartedAt     time.Time
	FilesAdded    int
	FilesRemoved  int
	BytesUploaded int64
}

// FileVersion is one observation of a path at a point in time. Hash is
// the zero value for a DELETED row; Deleted is the authoritative marker.
type FileVersion struct {
	ID      int64
	RunID   int64
	Path    string
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
	Owner   string
	Group   string
	Hash    Hash
	Deleted bool
}
