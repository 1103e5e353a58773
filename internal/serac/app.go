// Package serac wires together config, crypto, the object store, the
// local index, the scanner, and the archive/reconstruct/restore
// operations into the application layer the CLI drives, generalizing
// the teacher's internal/app.BTApp from a single vault/backup flow to
// serac's archive/ls/restore operations over a pluggable store
// backend.
package serac

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"serac/internal/archiver"
	"serac/internal/config"
	"serac/internal/crypto"
	"serac/internal/index"
	"serac/internal/reconstruct"
	"serac/internal/restore"
	"serac/internal/scan"
	"serac/internal/store"
)

const metaSaltKey = "salt"

// sha256HexLen is the length of a hex-encoded SHA-256 digest, used by
// Test to probe store reachability with a well-formed (if nonexistent)
// object name.
const sha256HexLen = 64

// App is the fully wired application layer between the CLI and the
// core archive/reconstruct/restore operations.
type App struct {
	cfg   *config.Config
	lock  *index.Lock
	Index index.Database
	Store store.Backend
	Key   []byte

	Archiver      *archiver.Archiver
	Reconstructor *reconstruct.Reconstructor
}

// Init creates a fresh index at cfg.Index.Path and generates a new
// encryption salt, persisted in the index's meta table so every
// subsequent Open call against this repository derives the same key
// from the same passphrase. Mirrors the `init` subcommand in spec.md
// §6.
func Init(ctx context.Context, cfg *config.Config) error {
	db, err := index.OpenSQLite(cfg.Index.Path)
	if err != nil {
		return &IndexError{Err: err}
	}
	defer db.Close()

	if err := db.Init(ctx); err != nil {
		return &IndexError{Err: err}
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return &CryptoError{Err: err}
	}
	if err := db.SetMeta(ctx, metaSaltKey, fmt.Sprintf("%x", salt)); err != nil {
		return &IndexError{Err: err}
	}

	return nil
}

// Test parses cfg (already done by the caller), connects to the
// configured store backend, and verifies the index is readable,
// reporting the first failure encountered — implementing the `test`
// subcommand in spec.md §6.
func Test(ctx context.Context, cfg *config.Config) error {
	db, err := index.OpenSQLite(cfg.Index.Path)
	if err != nil {
		return &IndexError{Err: err}
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return &IndexError{Err: fmt.Errorf("index not readable: %w", err)}
	}

	backend, err := newBackend(ctx, cfg.Archive)
	if err != nil {
		return &StoreError{Err: err}
	}
	if _, err := backend.Exists(ctx, strings.Repeat("0", sha256HexLen)); err != nil {
		return &StoreError{Err: fmt.Errorf("store not reachable: %w", err)}
	}

	return nil
}

// Open wires a fully constructed App from cfg, taking an advisory lock
// on the index per spec.md §5's single-writer rule: exclusive when
// exclusive is true (archive, restore), shared otherwise (ls). The
// caller must call Close when done.
func Open(ctx context.Context, cfg *config.Config, exclusive bool) (*App, error) {
	lock, err := index.Acquire(cfg.Index.Path+".lock", exclusive)
	if err != nil {
		return nil, &IndexError{Err: fmt.Errorf("acquiring index lock: %w", err)}
	}

	db, err := index.OpenSQLite(cfg.Index.Path)
	if err != nil {
		lock.Release()
		return nil, &IndexError{Err: err}
	}

	saltHex, ok, err := db.Meta(ctx, metaSaltKey)
	if err != nil {
		db.Close()
		lock.Release()
		return nil, &IndexError{Err: err}
	}
	if !ok {
		db.Close()
		lock.Release()
		return nil, &IndexError{Err: fmt.Errorf("repository has not been initialized (run `serac init` first)")}
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		db.Close()
		lock.Release()
		return nil, &CryptoError{Err: err}
	}

	key, err := crypto.DeriveKey(cfg.Archive.Password, salt)
	if err != nil {
		db.Close()
		lock.Release()
		return nil, &CryptoError{Err: err}
	}

	backend, err := newBackend(ctx, cfg.Archive)
	if err != nil {
		db.Close()
		lock.Release()
		return nil, &StoreError{Err: err}
	}

	scanner, err := scan.New(scan.Config{
		IncludeRoots:    cfg.Source.Include,
		ExcludePatterns: cfg.Source.Exclude,
	})
	if err != nil {
		db.Close()
		lock.Release()
		return nil, &ConfigError{Err: err}
	}

	return &App{
		cfg:   cfg,
		lock:  lock,
		Index: db,
		Store: backend,
		Key:   key,
		Archiver: &archiver.Archiver{
			Scanner: scanner,
			Store:   backend,
			Index:   db,
			Key:     key,
			Salt:    salt,
			Workers: archiver.DefaultWorkers,
		},
		Reconstructor: &reconstruct.Reconstructor{Index: db},
	}, nil
}

// Restorer builds a Restorer writing to destination, reusing the App's
// already-opened store and key.
func (a *App) Restorer(destination string) *restore.Restorer {
	return &restore.Restorer{Store: a.Store, Key: a.Key, Destination: destination}
}

// Config returns the configuration the App was opened with.
func (a *App) Config() *config.Config { return a.cfg }

// Close releases the index lock and closes the database.
func (a *App) Close() error {
	var firstErr error
	if err := a.Index.Close(); err != nil {
		firstErr = &IndexError{Err: err}
	}
	if err := a.lock.Release(); err != nil && firstErr == nil {
		firstErr = &IndexError{Err: err}
	}
	return firstErr
}

func newBackend(ctx context.Context, cfg config.ArchiveConfig) (store.Backend, error) {
	switch cfg.Storage {
	case "local":
		return store.NewLocal(cfg.Path)
	case "s3":
		return store.NewS3(ctx, store.S3Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Path,
			Region:    cfg.Region,
			AccessKey: cfg.Key,
			SecretKey: cfg.Secret,
		})
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unrecognised storage type %q", cfg.Storage)
	}
}

