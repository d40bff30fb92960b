// Package sqlitestore is a tracker.Client backed by a local SQLite database
// for experiments, runs and the model registry, plus an artifact tree on a
// fsutil.FileSystem.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/modelpipe/internal/fsutil"
	"github.com/banshee-data/modelpipe/internal/timeutil"
	"github.com/banshee-data/modelpipe/internal/tracker"
)

// Store implements tracker.Client.
type Store struct {
	db      *sql.DB
	path    string
	fs      fsutil.FileSystem
	artRoot string
	clock   timeutil.Clock

	mu     sync.RWMutex
	active string // experiment id
}

var _ tracker.Client = (*Store)(nil)

// Options configure Open.
type Options struct {
	// ArtifactRoot is the directory run artifacts are written below.
	// Defaults to "artifacts" next to the database file.
	ArtifactRoot string
	// FS defaults to the local disk.
	FS fsutil.FileSystem
	// Clock stamps runs, experiments and model versions. Defaults to the
	// system clock.
	Clock timeutil.Clock
	// SkipMigrate leaves the schema alone, for the migrate subcommand.
	SkipMigrate bool
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers and keeps per-connection pragmas.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &Store{db: db, path: path, fs: opts.FS, artRoot: opts.ArtifactRoot, clock: opts.Clock}
	if s.fs == nil {
		s.fs = fsutil.OSFileSystem{}
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.artRoot == "" {
		s.artRoot = filepath.Join(filepath.Dir(path), "artifacts")
	}
	if !opts.SkipMigrate {
		if err := s.MigrateUp(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for admin tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// retryOnBusy retries fn with exponential backoff while SQLite reports the
// database as locked.
func retryOnBusy(ctx context.Context, fn func() error) error {
	const attempts = 5
	delay := 10 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// withTx runs fn in a transaction, retrying the whole transaction on busy.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// CreateExperiment implements tracker.Client.
func (s *Store) CreateExperiment(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("experiment name is empty")
	}
	id := newID()
	loc := filepath.Join(s.artRoot, id)
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO experiments (experiment_id, name, artifact_location, created_at) VALUES (?, ?, ?, ?)`,
			id, name, loc, s.clock.Now().UnixNano())
		return err
	})
	if isUniqueViolation(err) {
		return "", fmt.Errorf("%w: %s", tracker.ErrExperimentExists, name)
	}
	if err != nil {
		return "", fmt.Errorf("insert experiment %q: %w", name, err)
	}
	logf("created experiment %q (%s)", name, id)
	return id, nil
}

// ExperimentID resolves an experiment name.
func (s *Store) ExperimentID(ctx context.Context, name string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT experiment_id FROM experiments WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", tracker.ErrExperimentNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("query experiment %q: %w", name, err)
	}
	return id, nil
}

// SetExperiment implements tracker.Client.
func (s *Store) SetExperiment(ctx context.Context, name string) error {
	id, err := s.ExperimentID(ctx, name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
	return nil
}

func (s *Store) activeExperiment() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}
