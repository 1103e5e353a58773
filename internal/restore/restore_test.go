package restore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"serac/internal/crypto"
	"serac/internal/index"
	"serac/internal/store"
)

func putEncrypted(t *testing.T, mem *store.Memory, key, salt []byte, content string) index.Hash {
	t.Helper()
	hash := index.Hash(crypto.HashBytes([]byte(content)))

	var buf bytes.Buffer
	if err := crypto.Encrypt(&buf, bytes.NewReader([]byte(content)), key, salt); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if err := mem.Put(context.Background(), string(hash), bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	return hash
}

func testKey(t *testing.T) ([]byte, []byte) {
	t.Helper()
	salt, err := crypto.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	key, err := crypto.DeriveKey("test-passphrase", salt)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	return key, salt
}

func TestRestoreWritesFileWithContentModeAndMtime(t *testing.T) {
	t.Parallel()
	key, salt := testKey(t)
	mem := store.NewMemory()
	hash := putEncrypted(t, mem, key, salt, "hello world")

	dest := t.TempDir()
	r := &Restorer{Store: mem, Key: key, Destination: dest}

	mtime := time.Unix(1700000000, 0)
	versions := []index.FileVersion{
		{Path: "sub/a.txt", Hash: hash, Mode: 0o640, ModTime: mtime},
	}

	summary := r.Restore(context.Background(), versions)
	if len(summary.Failed) != 0 {
		t.Fatalf("Failed = %+v, want none", summary.Failed)
	}
	if len(summary.Restored) != 1 {
		t.Fatalf("Restored = %v, want 1 entry", summary.Restored)
	}

	gotPath := filepath.Join(dest, "sub/a.txt")
	data, err := os.ReadFile(gotPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("content = %q, want %q", data, "hello world")
	}

	info, err := os.Stat(gotPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Errorf("mode = %o, want %o", info.Mode().Perm(), 0o640)
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), mtime)
	}
}

func TestRestoreSkipsFetchWhenDestinationAlreadyMatches(t *testing.T) {
	t.Parallel()
	key, salt := testKey(t)
	mem := store.NewMemory()
	hash := putEncrypted(t, mem, key, salt, "already here")

	dest := t.TempDir()
	path := filepath.Join(dest, "a.txt")
	if err := os.WriteFile(path, []byte("already here"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	r := &Restorer{Store: mem, Key: key, Destination: dest}
	versions := []index.FileVersion{{Path: "a.txt", Hash: hash, Mode: 0o644, ModTime: time.Now()}}

	summary := r.Restore(context.Background(), versions)
	if len(summary.Failed) != 0 {
		t.Fatalf("Failed = %+v, want none", summary.Failed)
	}
	if mem.GetCount() != 0 {
		t.Errorf("GetCount() = %d, want 0 (matching destination should skip fetch)", mem.GetCount())
	}
}

func TestRestoreRefusesToOverwriteMismatchedDestination(t *testing.T) {
	t.Parallel()
	key, salt := testKey(t)
	mem := store.NewMemory()
	hash := putEncrypted(t, mem, key, salt, "new content")

	dest := t.TempDir()
	path := filepath.Join(dest, "a.txt")
	if err := os.WriteFile(path, []byte("old content"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	r := &Restorer{Store: mem, Key: key, Destination: dest}
	versions := []index.FileVersion{{Path: "a.txt", Hash: hash, Mode: 0o644, ModTime: time.Now()}}

	summary := r.Restore(context.Background(), versions)
	if len(summary.Failed) != 1 {
		t.Fatalf("Failed = %+v, want exactly one failure", summary.Failed)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "old content" {
		t.Errorf("content = %q, want original left untouched", data)
	}
}

func TestRestoreTamperedCiphertextFailsWithoutPartialFile(t *testing.T) {
	t.Parallel()
	key, salt := testKey(t)
	mem := store.NewMemory()
	hash := putEncrypted(t, mem, key, salt, "tamper me")
	mem.Corrupt(string(hash))

	dest := t.TempDir()
	r := &Restorer{Store: mem, Key: key, Destination: dest}
	versions := []index.FileVersion{{Path: "a.txt", Hash: hash, Mode: 0o644, ModTime: time.Now()}}

	summary := r.Restore(context.Background(), versions)
	if len(summary.Failed) != 1 {
		t.Fatalf("Failed = %+v, want exactly one failure", summary.Failed)
	}

	if _, err := os.Stat(filepath.Join(dest, "a.txt")); !os.IsNotExist(err) {
		t.Errorf("Stat() error = %v, want a partial file not left behind", err)
	}
}

func TestRestoreWarnsWhenOwnerNameDoesNotResolve(t *testing.T) {
	t.Parallel()
	key, salt := testKey(t)
	mem := store.NewMemory()
	hash := putEncrypted(t, mem, key, salt, "hello")

	dest := t.TempDir()
	var warnings []Warning
	r := &Restorer{Store: mem, Key: key, Destination: dest, OnWarning: func(w Warning) {
		warnings = append(warnings, w)
	}}
	versions := []index.FileVersion{
		{Path: "a.txt", Hash: hash, Mode: 0o644, ModTime: time.Now(), Owner: "no-such-user-xyz"},
	}

	summary := r.Restore(context.Background(), versions)
	if len(summary.Failed) != 0 {
		t.Fatalf("Failed = %+v, want none (ownership is best-effort)", summary.Failed)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %+v, want exactly one for the unresolved owner name", warnings)
	}
	if warnings[0].Path != filepath.Join(dest, "a.txt") {
		t.Errorf("warning path = %q, want %q", warnings[0].Path, filepath.Join(dest, "a.txt"))
	}
}

func TestRestoreSymlinkRecreatesLinkWithOriginalTarget(t *testing.T) {
	t.Parallel()
	key, salt := testKey(t)
	mem := store.NewMemory()
	target := "/some/original/target.txt"
	hash := putEncrypted(t, mem, key, salt, target)

	dest := t.TempDir()
	r := &Restorer{Store: mem, Key: key, Destination: dest}
	versions := []index.FileVersion{
		{Path: "link.txt", Hash: hash, Mode: 0o777 | os.ModeSymlink, ModTime: time.Now()},
	}

	summary := r.Restore(context.Background(), versions)
	if len(summary.Failed) != 0 {
		t.Fatalf("Failed = %+v, want none", summary.Failed)
	}
	if len(summary.Restored) != 1 {
		t.Fatalf("Restored = %v, want 1 entry", summary.Restored)
	}

	linkPath := filepath.Join(dest, "link.txt")
	got, err := os.Readlink(linkPath)
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if got != target {
		t.Errorf("Readlink() = %q, want %q", got, target)
	}
}

func TestRestoreSkipsFetchWhenSymlinkAlreadyMatches(t *testing.T) {
	t.Parallel()
	key, salt := testKey(t)
	mem := store.NewMemory()
	target := "/already/correct/target.txt"
	hash := putEncrypted(t, mem, key, salt, target)

	dest := t.TempDir()
	linkPath := filepath.Join(dest, "link.txt")
	if err := os.Symlink(target, linkPath); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}

	r := &Restorer{Store: mem, Key: key, Destination: dest}
	versions := []index.FileVersion{
		{Path: "link.txt", Hash: hash, Mode: 0o777 | os.ModeSymlink, ModTime: time.Now()},
	}

	summary := r.Restore(context.Background(), versions)
	if len(summary.Failed) != 0 {
		t.Fatalf("Failed = %+v, want none", summary.Failed)
	}
	if mem.GetCount() != 0 {
		t.Errorf("GetCount() = %d, want 0 (matching symlink should skip fetch)", mem.GetCount())
	}
}

func TestRestoreMultipleFilesContinuesPastFailure(t *testing.T) {
	t.Parallel()
	key, salt := testKey(t)
	mem := store.NewMemory()
	goodHash := putEncrypted(t, mem, key, salt, "fine")

	dest := t.TempDir()
	r := &Restorer{Store: mem, Key: key, Destination: dest}
	versions := []index.FileVersion{
		{Path: "missing.txt", Hash: index.Hash("does-not-exist"), Mode: 0o644, ModTime: time.Now()},
		{Path: "good.txt", Hash: goodHash, Mode: 0o644, ModTime: time.Now()},
	}

	summary := r.Restore(context.Background(), versions)
	if len(summary.Failed) != 1 || summary.Failed[0].Path != "missing.txt" {
		t.Fatalf("Failed = %+v, want only missing.txt", summary.Failed)
	}
	if len(summary.Restored) != 1 {
		t.Fatalf("Restored = %v, want good.txt restored despite the other failure", summary.Restored)
	}
}
