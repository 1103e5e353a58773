// Package config reads serac's INI configuration file: a `[source]`
// section naming include/exclude roots, an `[archive]` section naming
// the object store backend and passphrase, and an `[index]` section
// naming the local metadata database path.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"serac/internal/scan"
)

// SourceConfig lists the directories to archive and the literal-prefix
// paths to exclude from them.
type SourceConfig struct {
	Include []string
	Exclude []string
}

// ArchiveConfig names the object store backend and the passphrase used
// to derive the envelope encryption key.
type ArchiveConfig struct {
	Storage  string
	Password string

	// Local storage.
	Path string

	// S3 storage.
	Bucket string
	Key    string
	Secret string
	Region string
}

// IndexConfig names the local metadata database.
type IndexConfig struct {
	Path string
}

// Config is the fully parsed configuration file.
type Config struct {
	Source  SourceConfig
	Archive ArchiveConfig
	Index   IndexConfig
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	sections, err := parseINI(f)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	want := []string{"source", "archive", "index"}
	for _, name := range want {
		if _, ok := sections[name]; !ok {
			return nil, fmt.Errorf("config: missing required section [%s]", name)
		}
	}
	if len(sections) != len(want) {
		return nil, fmt.Errorf("config: file must contain exactly source, archive and index sections")
	}

	cfg := &Config{}

	if cfg.Source, err = parseSource(sections["source"]); err != nil {
		return nil, err
	}
	if cfg.Archive, err = parseArchive(sections["archive"]); err != nil {
		return nil, err
	}
	if cfg.Index, err = parseIndex(sections["index"]); err != nil {
		return nil, err
	}

	if err := scan.ValidateExcludePatterns(cfg.Source.Exclude); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func parseSource(s section) (SourceConfig, error) {
	include := s.list("include")
	exclude := s.list("exclude")

	if len(include) == 0 {
		return SourceConfig{}, fmt.Errorf("config: [source] section must declare at least one include")
	}

	return SourceConfig{Include: include, Exclude: exclude}, nil
}

func parseArchive(s section) (ArchiveConfig, error) {
	storage := s.get("storage")
	if storage == "" {
		return ArchiveConfig{}, fmt.Errorf("config: [archive] section must declare a storage type")
	}

	cfg := ArchiveConfig{
		Storage:  storage,
		Password: s.get("password"),
	}

	switch storage {
	case "local":
		cfg.Path = s.get("path")
		if cfg.Path == "" {
			return ArchiveConfig{}, fmt.Errorf("config: [archive] storage=local requires a path")
		}
	case "s3":
		cfg.Key = s.get("key")
		cfg.Secret = s.get("secret")
		cfg.Bucket = s.get("bucket")
		cfg.Path = s.get("path")
		cfg.Region = s.get("region")
		for attr, v := range map[string]string{"key": cfg.Key, "secret": cfg.Secret, "bucket": cfg.Bucket} {
			if v == "" {
				return ArchiveConfig{}, fmt.Errorf("config: [archive] storage=s3 requires a %s", attr)
			}
		}
	case "memory":
		// No further fields; used for tests and the `test` subcommand.
	default:
		return ArchiveConfig{}, fmt.Errorf("config: [archive] storage %q is not recognised", storage)
	}

	return cfg, nil
}

func parseIndex(s section) (IndexConfig, error) {
	path := s.get("path")
	if path == "" {
		return IndexConfig{}, fmt.Errorf("config: [index] section must declare a path")
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return IndexConfig{}, fmt.Errorf("config: [index] path's parent directory does not exist: %w", err)
	}
	return IndexConfig{Path: path}, nil
}
