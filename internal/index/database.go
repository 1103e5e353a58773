package index

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyInitialized is returned by Init when the index schema has
// already been applied.
var ErrAlreadyInitialized = errors.New("index: already initialized")

// Database is the durable store of ArchiveRuns and FileVersions that
// the archiver, reconstructor, and restorer consume.
type Database interface {
	// Init creates the schema. Returns ErrAlreadyInitialized if a
	// previous Init has already run.
	Init(ctx context.Context) error

	// Ping verifies the database is reachable and the schema is
	// current, for the `test` subcommand.
	Ping(ctx context.Context) error

	// LatestState returns, for every path whose most recent FileVersion
	// is not DELETED, that most recent version. Paths whose latest row is
	// DELETED are omitted. This is the differ's comparison baseline.
	LatestState(ctx context.Context) (map[string]FileVersion, error)

	// CommitRun writes run.StartedAt and every buffered FileVersion in
	// run in a single transaction, assigning the new ArchiveRun's id to
	// each version's RunID. The transaction does not begin until the
	// caller has durably uploaded every blob those versions reference.
	CommitRun(ctx context.Context, run *PendingRun) (ArchiveRun, error)

	// StateAt returns the set of FileVersions visible at instant t,
	// restricted to paths matching pattern (pattern == "" matches
	// everything), sorted by path. DELETED versions are excluded.
	StateAt(ctx context.Context, t time.Time, pattern string) ([]FileVersion, error)

	// Meta reads a value from the small key/value table holding the
	// crypto version and salt. ok is false if the key is unset.
	Meta(ctx context.Context, key string) (value string, ok bool, err error)

	// SetMeta writes a value into the meta table, overwriting any
	// previous value for the same key.
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}

// PendingRun buffers FileVersion rows for one archive run. The
// coordinator appends to it as uploads complete and hands it to
// CommitRun once, at the end of the run.
type PendingRun struct {
	StartedAt     time.Time
	Versions      []FileVersion
	FilesAdded    int
	FilesRemoved  int
	BytesUploaded int64
}

// NewPendingRun starts a new buffer for an archive run beginning at startedAt.
func NewPendingRun(startedAt time.Time) *PendingRun {
	return &PendingRun{StartedAt: startedAt}
}

// AddVersion buffers v for insertion when the run commits.
func (p *PendingRun) AddVersion(v FileVersion) {
	p.Versions = append(p.Versions, v)
	if v.Deleted {
		p.FilesRemoved++
	} else {
		p.FilesAdded++
	}
}

// AddBytesUploaded accumulates the summary counter for the run.
func (p *PendingRun) AddBytesUploaded(n int64) {
	p.BytesUploaded += n
}
