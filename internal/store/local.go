package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local is a filesystem-based Backend. Objects live at
// <root>/<first two hex chars>/<full hex hash>, matching the layout the
// local and S3 backends share.
type Local struct {
	root string
}

// NewLocal creates a Local backend rooted at the given directory,
// creating it if necessary.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) String() string { return "local:" + l.root }

func (l *Local) objectPath(name string) (string, error) {
	if len(name) < 2 {
		return "", fmt.Errorf("store: object name %q too short", name)
	}
	return filepath.Join(l.root, name[:2], name), nil
}

// Put stores size bytes under name via a temp-file-then-rename so a
// concurrent reader never sees a partially written object. Idempotent:
// if the object already exists, the input is drained and discarded.
func (l *Local) Put(_ context.Context, name string, r io.Reader, size int64) error {
	dest, err := l.objectPath(name)
	if err != nil {
		return err
	}

	if _, err := os.Stat(dest); err == nil {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return fmt.Errorf("draining already-stored content: %w", err)
		}
		return nil
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("store: size mismatch writing %s: expected %d, got %d", name, size, written)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming object into place: %w", err)
	}
	success = true
	return nil
}

func (l *Local) Get(_ context.Context, name string) (io.ReadCloser, error) {
	path, err := l.objectPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening object: %w", err)
	}
	return f, nil
}

func (l *Local) Exists(_ context.Context, name string) (bool, error) {
	path, err := l.objectPath(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object: %w", err)
}

// RequestRetrieval is a no-op for local storage: everything is always
// immediately readable.
func (l *Local) RequestRetrieval(ctx context.Context, name string) (RetrievalHandle, error) {
	ok, err := l.Exists(ctx, name)
	if err != nil {
		return RetrievalHandle{}, err
	}
	if !ok {
		return RetrievalHandle{Name: name}, ErrNotFound
	}
	return RetrievalHandle{Name: name, Ready: true}, nil
}

var _ Backend = (*Local)(nil)
