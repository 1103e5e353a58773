// Package store defines the object store interface the core archival
// engine consumes, and provides local-filesystem, S3, and in-memory
// implementations. Names are always the hex content hash of the
// plaintext the stored object wraps.
package store

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when no object exists under the given name.
var ErrNotFound = errors.New("store: object not found")

// ErrRetrievalPending reports that an object is in cold storage and not
// yet readable — the caller must poll or wait before Get will succeed.
// S3.Get returns it for an object that has not been restored yet;
// RequestRetrieval itself reports this state as a handle with
// Ready=false and a nil error.
var ErrRetrievalPending = errors.New("store: retrieval pending")

// RetrievalHandle describes the state of an in-progress cold-storage
// retrieval request.
type RetrievalHandle struct {
	// Name is the object's hex content hash.
	Name string
	// Ready reports whether the object is immediately readable.
	Ready bool
	// Err is non-nil if the retrieval request itself could not be issued.
	Err error
}

// Backend is the interface the core consumes to store and retrieve
// opaque, content-addressed blobs. Implementations MUST make Put
// idempotent: writing the same name with the same bytes more than once
// is a no-op success. The core never writes different bytes under an
// existing name, since names are derived from content.
type Backend interface {
	// Put stores size bytes read from r under name. Calling Put again
	// with a name that already exists is a no-op.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get returns a reader for the object named name. Returns
	// ErrNotFound if it doesn't exist.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Exists reports whether an object with the given name is present.
	Exists(ctx context.Context, name string) (bool, error)

	// RequestRetrieval asks a cold backend to stage an object for
	// reading. Backends where every object is always immediately
	// readable (local, memory) return a handle with Ready=true.
	RequestRetrieval(ctx context.Context, name string) (RetrievalHandle, error)

	// String names the backend, for logging.
	String() string
}
