package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestScanFindsRegularFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "world")

	s, err := New(Config{IncludeRoots: []string{root}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	files, err := s.Scan(context.Background(), func(Warning) {})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Scan() found %d files, want 2", len(files))
	}
}

func TestScanExcludesByPrefix(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "keep")
	writeFile(t, filepath.Join(root, "skip", "a.txt"), "skip")
	writeFile(t, filepath.Join(root, "skipped-sibling.txt"), "not excluded")

	s, err := New(Config{
		IncludeRoots:    []string{root},
		ExcludePatterns: []string{filepath.Join(root, "skip")},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	files, err := s.Scan(context.Background(), func(Warning) {})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	if len(files) != 2 {
		t.Fatalf("Scan() found %d files, want 2 (got %v)", len(files), paths)
	}
}

func TestScanRejectsGlobPatternsAtConstruction(t *testing.T) {
	t.Parallel()
	_, err := New(Config{ExcludePatterns: []string{"/src/*.log"}})
	if err == nil {
		t.Error("New() with a glob exclude pattern should fail")
	}
	_, err = New(Config{ExcludePatterns: []string{"/src/file?.txt"}})
	if err == nil {
		t.Error("New() with a ? glob exclude pattern should fail")
	}
}

func TestScanSkipsNonRegularFilesWithWarning(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	fifoPath := filepath.Join(root, "myfifo")
	if err := mkfifoForTest(fifoPath); err != nil {
		t.Skipf("cannot create fifo on this system: %v", err)
	}

	var warnings []Warning
	s, err := New(Config{IncludeRoots: []string{root}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	files, err := s.Scan(context.Background(), func(w Warning) { warnings = append(warnings, w) })
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(files) != 1 {
		t.Errorf("Scan() found %d regular files, want 1", len(files))
	}
	if len(warnings) != 1 {
		t.Errorf("Scan() emitted %d warnings, want 1 for the fifo", len(warnings))
	}
}

func TestScanRecordsSymlinksWithoutFollowing(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real.txt"), "hello")
	linkPath := filepath.Join(root, "link.txt")
	if err := os.Symlink(filepath.Join(root, "real.txt"), linkPath); err != nil {
		t.Skipf("cannot create symlink on this system: %v", err)
	}

	s, err := New(Config{IncludeRoots: []string{root}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	files, err := s.Scan(context.Background(), func(Warning) {})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	var sawLink bool
	for _, f := range files {
		if f.Path == linkPath {
			sawLink = true
			if !f.IsSymlink {
				t.Error("symlink entry not marked IsSymlink")
			}
		}
	}
	if !sawLink {
		t.Error("Scan() did not record the symlink")
	}
}

func TestScanTruncatesModTimeToWholeSeconds(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "hello")

	sub := time.Date(2024, 3, 15, 12, 0, 0, 123456789, time.UTC)
	if err := os.Chtimes(path, sub, sub); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	s, err := New(Config{IncludeRoots: []string{root}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	files, err := s.Scan(context.Background(), func(Warning) {})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Scan() found %d files, want 1", len(files))
	}
	if files[0].ModTime.Nanosecond() != 0 {
		t.Errorf("ModTime = %v, want nanoseconds truncated to 0", files[0].ModTime)
	}
	if !files[0].ModTime.Equal(sub.Truncate(time.Second)) {
		t.Errorf("ModTime = %v, want %v", files[0].ModTime, sub.Truncate(time.Second))
	}
}

func TestValidateExcludePatterns(t *testing.T) {
	t.Parallel()
	if err := ValidateExcludePatterns([]string{"/a/b", "/c/d"}); err != nil {
		t.Errorf("ValidateExcludePatterns() with literal patterns error = %v", err)
	}
	if err := ValidateExcludePatterns([]string{"/a/*.txt"}); err == nil {
		t.Error("ValidateExcludePatterns() should reject glob patterns")
	}
}
