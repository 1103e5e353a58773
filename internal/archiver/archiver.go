package archiver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"serac/internal/crypto"
	"serac/internal/index"
	"serac/internal/scan"
	"serac/internal/store"
)

// DefaultWorkers is the suggested default parallelism for hashing and
// uploading, per spec.md §5.
const DefaultWorkers = 4

// Archiver scans a source tree, diffs it against the index, and
// uploads new or changed content, implementing spec.md §4.4's commit
// discipline: every referenced blob is durably stored before the
// index transaction that records it is opened.
type Archiver struct {
	Scanner   *scan.Scanner
	Store     store.Backend
	Index     index.Database
	Key       []byte
	Salt      []byte
	Workers   int
	OnWarning func(scan.Warning)
}

// Result summarizes one archive run for the caller (e.g. the CLI).
type Result struct {
	Run ArchiveRunSummary
}

// ArchiveRunSummary mirrors index.ArchiveRun for callers that don't
// want to import internal/index directly.
type ArchiveRunSummary struct {
	ID            int64
	FilesAdded    int
	FilesRemoved  int
	BytesUploaded int64
}

// Run performs one full archive pass. It respects ctx cancellation at
// every I/O boundary; on cancellation before the final commit, the
// index is left untouched per spec.md §5.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	onWarning := a.OnWarning
	if onWarning == nil {
		onWarning = func(scan.Warning) {}
	}

	scanned, err := a.Scanner.Scan(ctx, onWarning)
	if err != nil {
		return Result{}, fmt.Errorf("scanning: %w", err)
	}

	latest, err := a.Index.LatestState(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loading latest index state: %w", err)
	}

	plan := Classify(scanned, latest)

	run := index.NewPendingRun(time.Now())
	for _, path := range plan.DeletedPaths {
		run.AddVersion(index.FileVersion{Path: path, Deleted: true})
	}

	versions, bytesUploaded, err := a.hashAndUpload(ctx, plan.ToHash)
	if err != nil {
		return Result{}, err
	}
	for _, v := range versions {
		run.AddVersion(v)
	}
	run.AddBytesUploaded(bytesUploaded)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	committed, err := a.Index.CommitRun(ctx, run)
	if err != nil {
		return Result{}, fmt.Errorf("committing run: %w", err)
	}

	return Result{Run: ArchiveRunSummary{
		ID:            committed.ID,
		FilesAdded:    committed.FilesAdded,
		FilesRemoved:  committed.FilesRemoved,
		BytesUploaded: committed.BytesUploaded,
	}}, nil
}

// hashAndUpload runs files through a bounded worker pool — each worker
// hashes the file, skips the upload if the blob already exists, and
// otherwise streams the encrypted envelope to the store — and collects
// results on one coordinator goroutine, grounded on the
// sem/cin/cout shape of mmp-bk's storage.preader/NewHashesReader
// (bounded concurrent workers feeding a single result consumer)
// adapted from concurrent reads to concurrent hash+upload.
func (a *Archiver) hashAndUpload(ctx context.Context, files []scan.File) ([]index.FileVersion, int64, error) {
	workers := a.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if len(files) < workers {
		workers = len(files)
	}
	if workers == 0 {
		return nil, 0, nil
	}

	type outcome struct {
		version index.FileVersion
		bytes   int64
		err     error
	}

	tasks := make(chan scan.File)
	results := make(chan outcome)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range tasks {
				v, uploaded, err := a.processFile(ctx, f)
				select {
				case results <- outcome{version: v, bytes: uploaded, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for _, f := range files {
			select {
			case tasks <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var versions []index.FileVersion
	var totalBytes int64
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		versions = append(versions, res.version)
		totalBytes += res.bytes
	}

	if firstErr != nil {
		return nil, 0, firstErr
	}
	return versions, totalBytes, nil
}

// processFile hashes one file, uploads its encrypted content if the
// object isn't already present, and returns the FileVersion to record.
// Symlinks are routed to processSymlink: the scanner recorded them by
// path without following them, and hashing through os.Open here would
// silently dereference the link and archive the target's content.
func (a *Archiver) processFile(ctx context.Context, f scan.File) (index.FileVersion, int64, error) {
	if f.IsSymlink {
		return a.processSymlink(ctx, f)
	}

	content, err := os.Open(f.Path)
	if err != nil {
		return index.FileVersion{}, 0, fmt.Errorf("opening %s: %w", f.Path, err)
	}
	defer content.Close()

	hash, size, err := crypto.HashReader(content)
	if err != nil {
		return index.FileVersion{}, 0, fmt.Errorf("hashing %s: %w", f.Path, err)
	}

	if err := checkStatUnchanged(content, f); err != nil {
		return index.FileVersion{}, 0, fmt.Errorf("file changed during archiving: %w", err)
	}

	var uploadedBytes int64
	exists, err := a.Store.Exists(ctx, hash)
	if err != nil {
		return index.FileVersion{}, 0, fmt.Errorf("checking store for %s: %w", hash, err)
	}
	if !exists {
		if _, err := content.Seek(0, io.SeekStart); err != nil {
			return index.FileVersion{}, 0, fmt.Errorf("rewinding %s: %w", f.Path, err)
		}
		ciphertextSize := size + int64(crypto.EnvelopeOverhead)
		err := withRetry(ctx, defaultRetry, func() error {
			if _, err := content.Seek(0, io.SeekStart); err != nil {
				return err
			}
			pr, pw := io.Pipe()
			encErrCh := make(chan error, 1)
			go func() {
				encErrCh <- crypto.Encrypt(pw, content, a.Key, a.Salt)
				pw.Close()
			}()
			putErr := a.Store.Put(ctx, hash, pr, ciphertextSize)
			// Unblock the encrypt goroutine if Put returned without
			// draining the pipe, so a failed attempt can be retried.
			pr.Close()
			encErr := <-encErrCh
			if putErr != nil {
				return putErr
			}
			return encErr
		})
		if err != nil {
			return index.FileVersion{}, 0, fmt.Errorf("uploading %s: %w", f.Path, err)
		}
		uploadedBytes = ciphertextSize
	}

	return index.FileVersion{
		Path:    f.Path,
		Size:    f.Size,
		ModTime: f.ModTime,
		Mode:    f.Mode,
		Owner:   f.Owner,
		Group:   f.Group,
		Hash:    index.Hash(hash),
	}, uploadedBytes, nil
}

// processSymlink hashes and stores a symlink's target string as its
// content, rather than the content of whatever it points to. f.Mode
// still carries os.ModeSymlink (scanner.go records Lstat info), so
// restore can tell these versions apart and recreate a real symlink
// instead of a regular file.
func (a *Archiver) processSymlink(ctx context.Context, f scan.File) (index.FileVersion, int64, error) {
	target, err := os.Readlink(f.Path)
	if err != nil {
		return index.FileVersion{}, 0, fmt.Errorf("reading link %s: %w", f.Path, err)
	}
	data := []byte(target)

	hash, size, err := crypto.HashReader(bytes.NewReader(data))
	if err != nil {
		return index.FileVersion{}, 0, fmt.Errorf("hashing link %s: %w", f.Path, err)
	}

	info, err := os.Lstat(f.Path)
	if err != nil {
		return index.FileVersion{}, 0, fmt.Errorf("re-checking %s: %w", f.Path, err)
	}
	if !info.ModTime().Truncate(time.Second).Equal(f.ModTime) || info.Mode() != f.Mode {
		return index.FileVersion{}, 0, fmt.Errorf("file changed during archiving: %s no longer matches the metadata recorded at scan time", f.Path)
	}

	var uploadedBytes int64
	exists, err := a.Store.Exists(ctx, hash)
	if err != nil {
		return index.FileVersion{}, 0, fmt.Errorf("checking store for %s: %w", hash, err)
	}
	if !exists {
		ciphertextSize := size + int64(crypto.EnvelopeOverhead)
		err := withRetry(ctx, defaultRetry, func() error {
			var buf bytes.Buffer
			if err := crypto.Encrypt(&buf, bytes.NewReader(data), a.Key, a.Salt); err != nil {
				return err
			}
			return a.Store.Put(ctx, hash, bytes.NewReader(buf.Bytes()), ciphertextSize)
		})
		if err != nil {
			return index.FileVersion{}, 0, fmt.Errorf("uploading link %s: %w", f.Path, err)
		}
		uploadedBytes = ciphertextSize
	}

	return index.FileVersion{
		Path:    f.Path,
		Size:    size,
		ModTime: f.ModTime,
		Mode:    f.Mode,
		Owner:   f.Owner,
		Group:   f.Group,
		Hash:    index.Hash(hash),
	}, uploadedBytes, nil
}

// checkStatUnchanged re-stats the file just hashed and compares it
// against the metadata the scan recorded, catching the case where a
// file was modified or replaced between scan and hash. The FileVersion
// we're about to record must describe exactly the bytes we hashed.
func checkStatUnchanged(f *os.File, scanned scan.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() != scanned.Size || !info.ModTime().Truncate(time.Second).Equal(scanned.ModTime) || info.Mode() != scanned.Mode {
		return fmt.Errorf("%s no longer matches the metadata recorded at scan time", scanned.Path)
	}
	return nil
}
