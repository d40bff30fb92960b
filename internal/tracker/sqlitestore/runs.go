package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/modelpipe/internal/tracker"
)

type run struct {
	s           *Store
	id          string
	artifactDir string
}

// StartRun implements tracker.Client.
func (s *Store) StartRun(ctx context.Context, runName string) (tracker.Run, error) {
	expID := s.activeExperiment()
	if expID == "" {
		return nil, tracker.ErrNoActiveExperiment
	}
	id := newID()
	dir := filepath.Join(s.artRoot, expID, id, "artifacts")
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (run_id, experiment_id, name, status, start_time, artifact_uri)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, expID, runName, string(tracker.StatusRunning), s.clock.Now().UnixNano(), dir)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert run %q: %w", runName, err)
	}
	return &run{s: s, id: id, artifactDir: dir}, nil
}

func (r *run) ID() string { return r.id }

// checkRunning fails unless the run exists and has not ended.
func checkRunning(ctx context.Context, tx *sql.Tx, runID string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", tracker.ErrRunNotFound, runID)
	}
	if err != nil {
		return err
	}
	if tracker.RunStatus(status).Terminal() {
		return fmt.Errorf("%w: %s", tracker.ErrRunEnded, runID)
	}
	return nil
}

// LogParams records params. Re-logging a key with the same value is a
// no-op; a different value is ErrParamConflict.
func (r *run) LogParams(ctx context.Context, params map[string]string) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkRunning(ctx, tx, r.id); err != nil {
			return err
		}
		for k, v := range params {
			var old string
			err := tx.QueryRowContext(ctx, `SELECT value FROM run_params WHERE run_id = ? AND key = ?`, r.id, k).Scan(&old)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if _, err := tx.ExecContext(ctx, `INSERT INTO run_params (run_id, key, value) VALUES (?, ?, ?)`, r.id, k, v); err != nil {
					return fmt.Errorf("insert param %q: %w", k, err)
				}
			case err != nil:
				return err
			case old != v:
				return fmt.Errorf("%w: %s (%q != %q)", tracker.ErrParamConflict, k, old, v)
			}
		}
		return nil
	})
}

// LogMetrics records metrics, keeping the latest value per key.
func (r *run) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	now := r.s.clock.Now().UnixNano()
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkRunning(ctx, tx, r.id); err != nil {
			return err
		}
		for k, v := range metrics {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO run_metrics (run_id, key, value, timestamp) VALUES (?, ?, ?, ?)
				ON CONFLICT(run_id, key) DO UPDATE SET value = excluded.value, timestamp = excluded.timestamp`,
				r.id, k, v, now); err != nil {
				return fmt.Errorf("upsert metric %q: %w", k, err)
			}
		}
		return nil
	})
}

// cleanArtifactPath rejects paths that would escape the run directory.
func cleanArtifactPath(p string) (string, error) {
	c := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if c == "." || path.IsAbs(c) || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("invalid artifact path %q", p)
	}
	return c, nil
}

// LogArtifact writes data under the run's artifact directory.
func (r *run) LogArtifact(ctx context.Context, p string, data []byte) error {
	rel, err := cleanArtifactPath(p)
	if err != nil {
		return err
	}
	if err := r.s.withTx(ctx, func(tx *sql.Tx) error { return checkRunning(ctx, tx, r.id) }); err != nil {
		return err
	}
	if err := r.s.fs.WriteFile(filepath.Join(r.artifactDir, filepath.FromSlash(rel)), data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", rel, err)
	}
	return nil
}

// End sets the terminal status once; later calls are no-ops.
func (r *run) End(ctx context.Context, status tracker.RunStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("run %s: %q is not a terminal status", r.id, status)
	}
	return retryOnBusy(ctx, func() error {
		_, err := r.s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, end_time = ? WHERE run_id = ? AND status = ?`,
			string(status), r.s.clock.Now().UnixNano(), r.id, string(tracker.StatusRunning))
		return err
	})
}

// GetRun implements tracker.Client.
func (s *Store) GetRun(ctx context.Context, runID string) (*tracker.RunRecord, error) {
	rec := &tracker.RunRecord{Params: map[string]string{}, Metrics: map[string]float64{}}
	var (
		status string
		start  int64
		end    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, experiment_id, name, status, start_time, end_time, artifact_uri
		FROM runs WHERE run_id = ?`, runID).Scan(
		&rec.RunID, &rec.ExperimentID, &rec.Name, &status, &start, &end, &rec.ArtifactURI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", tracker.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	rec.Status = tracker.RunStatus(status)
	rec.StartTime = time.Unix(0, start)
	if end.Valid {
		rec.EndTime = time.Unix(0, end.Int64)
	}

	if err := s.scanPairs(ctx, `SELECT key, value FROM run_params WHERE run_id = ?`, runID, func(rows *sql.Rows) error {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		rec.Params[k] = v
		return nil
	}); err != nil {
		return nil, fmt.Errorf("query params of %s: %w", runID, err)
	}
	if err := s.scanPairs(ctx, `SELECT key, value FROM run_metrics WHERE run_id = ?`, runID, func(rows *sql.Rows) error {
		var k string
		var v float64
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		rec.Metrics[k] = v
		return nil
	}); err != nil {
		return nil, fmt.Errorf("query metrics of %s: %w", runID, err)
	}
	return rec, nil
}

func (s *Store) scanPairs(ctx context.Context, query, runID string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RunSummary is a row of ListRuns.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
}

// ListRuns returns the runs of an experiment, newest first.
func (s *Store) ListRuns(ctx context.Context, experimentID string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, name, status, start_time FROM runs
		WHERE experiment_id = ?
		ORDER BY start_time DESC
		LIMIT ?`, experimentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var start int64
		if err := rows.Scan(&r.RunID, &r.Name, &r.Status, &start); err != nil {
			return nil, err
		}
		r.StartTime = time.Unix(0, start)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadArtifact returns an artifact logged to a run.
func (s *Store) ReadArtifact(ctx context.Context, runID, p string) ([]byte, error) {
	dir, err := s.artifactDir(ctx, runID)
	if err != nil {
		return nil, err
	}
	rel, err := cleanArtifactPath(p)
	if err != nil {
		return nil, err
	}
	b, err := s.fs.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", tracker.ErrArtifactNotFound, runID, rel, err)
	}
	return b, nil
}

// ListArtifacts returns the artifact paths of a run.
func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]string, error) {
	dir, err := s.artifactDir(ctx, runID)
	if err != nil {
		return nil, err
	}
	files, err := s.fs.List(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return files, err
}

func (s *Store) artifactDir(ctx context.Context, runID string) (string, error) {
	var dir string
	err := s.db.QueryRowContext(ctx, `SELECT artifact_uri FROM runs WHERE run_id = ?`, runID).Scan(&dir)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", tracker.ErrRunNotFound, runID)
	}
	return dir, err
}
