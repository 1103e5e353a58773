package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"serac/internal/index/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite implements Database using a single SQLite file (or ":memory:"
// for tests), grounded on the teacher's SQLiteDatabase and its
// OpenConnection PRAGMA setup.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens and configures path (a file path or ":memory:"),
// without applying migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Init(ctx context.Context) error {
	already, err := migrations.AlreadyInitialized(s.db)
	if err != nil {
		return fmt.Errorf("checking schema state: %w", err)
	}
	if already {
		return ErrAlreadyInitialized
	}
	if err := migrations.Up(s.db); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging index: %w", err)
	}
	already, err := migrations.AlreadyInitialized(s.db)
	if err != nil {
		return fmt.Errorf("checking schema state: %w", err)
	}
	if !already {
		return fmt.Errorf("index schema not initialized, run init first")
	}
	return nil
}

// LatestState loads, for every path, the FileVersion from the
// highest-id run in which that path appears, excluding any path whose
// latest row is DELETED.
func (s *SQLite) LatestState(ctx context.Context) (map[string]FileVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fv.id, fv.run_id, fv.path, fv.size, fv.mod_time, fv.mode,
		       fv.owner, fv.grp, fv.hash, fv.deleted
		FROM file_versions fv
		JOIN (
			SELECT path, MAX(id) AS max_id
			FROM file_versions
			GROUP BY path
		) latest ON latest.path = fv.path AND latest.max_id = fv.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying latest state: %w", err)
	}
	defer rows.Close()

	state := make(map[string]FileVersion)
	for rows.Next() {
		v, err := scanFileVersion(rows)
		if err != nil {
			return nil, err
		}
		if v.Deleted {
			continue
		}
		state[v.Path] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading latest state: %w", err)
	}
	return state, nil
}

func (s *SQLite) CommitRun(ctx context.Context, run *PendingRun) (ArchiveRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ArchiveRun{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO archive_runs (started_at, files_added, files_removed, bytes_uploaded)
		 VALUES (?, ?, ?, ?)`,
		run.StartedAt.UTC().Unix(), run.FilesAdded, run.FilesRemoved, run.BytesUploaded,
	)
	if err != nil {
		return ArchiveRun{}, fmt.Errorf("inserting archive run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return ArchiveRun{}, fmt.Errorf("reading new run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_versions (run_id, path, size, mod_time, mode, owner, grp, hash, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return ArchiveRun{}, fmt.Errorf("preparing file_versions insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range run.Versions {
		deleted := 0
		if v.Deleted {
			deleted = 1
		}
		if _, err := stmt.ExecContext(ctx, runID, v.Path, v.Size, v.ModTime.UTC().Unix(),
			uint32(v.Mode), v.Owner, v.Group, string(v.Hash), deleted); err != nil {
			return ArchiveRun{}, fmt.Errorf("inserting file version for %s: %w", v.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ArchiveRun{}, fmt.Errorf("committing run: %w", err)
	}

	return ArchiveRun{
		ID:            runID,
		StartedAt:     run.StartedAt,
		FilesAdded:    run.FilesAdded,
		FilesRemoved:  run.FilesRemoved,
		BytesUploaded: run.BytesUploaded,
	}, nil
}

func (s *SQLite) StateAt(ctx context.Context, t time.Time, pattern string) ([]FileVersion, error) {
	cutoffRunID, ok, err := s.latestRunAtOrBefore(ctx, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT fv.id, fv.run_id, fv.path, fv.size, fv.mod_time, fv.mode,
		       fv.owner, fv.grp, fv.hash, fv.deleted
		FROM file_versions fv
		JOIN (
			SELECT path, MAX(id) AS max_id
			FROM file_versions
			WHERE run_id <= ?
			GROUP BY path
		) latest ON latest.path = fv.path AND latest.max_id = fv.id
	`, cutoffRunID)
	if err != nil {
		return nil, fmt.Errorf("querying state at instant: %w", err)
	}
	defer rows.Close()

	var result []FileVersion
	for rows.Next() {
		v, err := scanFileVersion(rows)
		if err != nil {
			return nil, err
		}
		if v.Deleted {
			continue
		}
		if !matchesPattern(v.Path, pattern) {
			continue
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading state at instant: %w", err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// latestRunAtOrBefore finds the highest-id ArchiveRun with started_at <= t.
func (s *SQLite) latestRunAtOrBefore(ctx context.Context, t time.Time) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM archive_runs WHERE started_at <= ? ORDER BY id DESC LIMIT 1`,
		t.UTC().Unix(),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("finding run at instant: %w", err)
	}
	return id, true, nil
}

// matchesPattern implements spec's pattern semantics: equal, or a
// directory prefix ending at a path separator. Empty pattern matches
// everything.
func matchesPattern(path, pattern string) bool {
	if pattern == "" {
		return true
	}
	return path == pattern || strings.HasPrefix(path, pattern+"/")
}

func (s *SQLite) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading meta %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLite) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing meta %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileVersion(rows rowScanner) (FileVersion, error) {
	var (
		v          FileVersion
		modTimeSec int64
		mode       uint32
		hash       string
		deleted    int
	)
	if err := rows.Scan(&v.ID, &v.RunID, &v.Path, &v.Size, &modTimeSec, &mode,
		&v.Owner, &v.Group, &hash, &deleted); err != nil {
		return FileVersion{}, fmt.Errorf("scanning file version: %w", err)
	}
	v.ModTime = time.Unix(modTimeSec, 0).UTC()
	v.Mode = os.FileMode(mode)
	v.Hash = Hash(hash)
	v.Deleted = deleted != 0
	return v, nil
}

// Path returns the database file path, or ":memory:" for in-memory databases.
func (s *SQLite) Path() string { return s.path }

var _ Database = (*SQLite)(nil)
