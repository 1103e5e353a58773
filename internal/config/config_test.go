package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "serac.ini")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadLocalStorage(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[source]
include = /home/alice/docs
    /home/alice/photos
exclude = /home/alice/docs/tmp

[archive]
storage = local
path = /mnt/backup
password = correct-horse-battery-staple

[index]
path = `+filepath.Join(dir, "index.db")+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Source.Include) != 2 {
		t.Fatalf("Source.Include = %v, want 2 entries", cfg.Source.Include)
	}
	if cfg.Source.Include[0] != "/home/alice/docs" || cfg.Source.Include[1] != "/home/alice/photos" {
		t.Errorf("Source.Include = %v", cfg.Source.Include)
	}
	if len(cfg.Source.Exclude) != 1 || cfg.Source.Exclude[0] != "/home/alice/docs/tmp" {
		t.Errorf("Source.Exclude = %v", cfg.Source.Exclude)
	}
	if cfg.Archive.Storage != "local" {
		t.Errorf("Archive.Storage = %q, want local", cfg.Archive.Storage)
	}
	if cfg.Archive.Path != "/mnt/backup" {
		t.Errorf("Archive.Path = %q, want /mnt/backup", cfg.Archive.Path)
	}
	if cfg.Archive.Password != "correct-horse-battery-staple" {
		t.Errorf("Archive.Password = %q", cfg.Archive.Password)
	}
}

func TestLoadS3Storage(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[source]
include = /data

[archive]
storage = s3
key = AKIA...
secret = shh
bucket = my-bucket
path = backups
password = p

[index]
path = `+filepath.Join(dir, "index.db")+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Archive.Bucket != "my-bucket" || cfg.Archive.Key != "AKIA..." || cfg.Archive.Secret != "shh" {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
}

func TestLoadMissingSourceIncludeFails(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[source]
exclude = /data/tmp

[archive]
storage = local
path = /mnt/backup

[index]
path = `+filepath.Join(dir, "index.db")+`
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error for missing include")
	}
}

func TestLoadUnrecognisedStorageFails(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[source]
include = /data

[archive]
storage = ftp

[index]
path = `+filepath.Join(dir, "index.db")+`
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error for unrecognised storage type")
	}
}

func TestLoadRejectsGlobExcludePattern(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[source]
include = /data
exclude = /data/*.tmp

[archive]
storage = local
path = /mnt/backup
password = p

[index]
path = `+filepath.Join(dir, "index.db")+`
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for a glob exclude pattern")
	}
	if !strings.Contains(err.Error(), "glob") {
		t.Errorf("error = %v, want it to mention unsupported glob syntax", err)
	}
}

func TestLoadRejectsMissingSectionsProperly(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[source]
include = /data

[archive]
storage = local
path = /mnt/backup
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error when [index] is absent")
	} else if !strings.Contains(err.Error(), "index") {
		t.Errorf("error = %v, want it to mention the missing [index] section", err)
	}
}

func TestLoadIndexPathParentMustExist(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[source]
include = /data

[archive]
storage = local
path = /mnt/backup

[index]
path = /nonexistent-parent-dir-xyz/index.db
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error when index path's parent does not exist")
	}
}
