package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/modelpipe/internal/fsutil"
	"github.com/banshee-data/modelpipe/internal/tracker"
)

// RegisterModel registers the artifact at a runs:/<run_id>/<path> URI as
// the next version of modelName, in stage None.
func (s *Store) RegisterModel(ctx context.Context, artifactURI, modelName string) (tracker.ModelVersion, error) {
	runID, rel, err := tracker.ParseRunsURI(artifactURI)
	if err != nil {
		return tracker.ModelVersion{}, err
	}
	if modelName == "" {
		return tracker.ModelVersion{}, fmt.Errorf("model name is empty")
	}
	dir, err := s.artifactDir(ctx, runID)
	if err != nil {
		return tracker.ModelVersion{}, err
	}
	if clean, err := cleanArtifactPath(rel); err != nil || !fsutil.Exists(s.fs, filepath.Join(dir, filepath.FromSlash(clean))) {
		return tracker.ModelVersion{}, fmt.Errorf("%w: %s", tracker.ErrArtifactNotFound, artifactURI)
	}

	mv := tracker.ModelVersion{
		Name:        modelName,
		Source:      artifactURI,
		RunID:       runID,
		Stage:       tracker.StageNone,
		CreatedTime: s.clock.Now(),
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := mv.CreatedTime.UnixNano()
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO registered_models (name, created_at) VALUES (?, ?)`, modelName, now); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM model_versions WHERE name = ?`, modelName).Scan(&mv.Version); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO model_versions (name, version, source, run_id, stage, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			modelName, mv.Version, artifactURI, runID, mv.Stage, now)
		return err
	})
	if isUniqueViolation(err) {
		return tracker.ModelVersion{}, fmt.Errorf("%w: %s v%d", tracker.ErrModelVersionExists, modelName, mv.Version)
	}
	if err != nil {
		return tracker.ModelVersion{}, fmt.Errorf("register %s: %w", modelName, err)
	}
	logf("registered %s version %d from %s", modelName, mv.Version, artifactURI)
	return mv, nil
}

// TransitionStage moves a model version to stage, optionally archiving the
// versions already there.
func (s *Store) TransitionStage(ctx context.Context, name string, version int, stage string, opts ...tracker.TransitionOption) error {
	if !tracker.ValidStage(stage) {
		return fmt.Errorf("%w: %q", tracker.ErrInvalidStage, stage)
	}
	o := tracker.ApplyTransitionOptions(opts)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE model_versions SET stage = ? WHERE name = ? AND version = ?`, stage, name, version)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: %s v%d", tracker.ErrModelVersionNotFound, name, version)
		}
		if o.ArchiveExisting && stage != tracker.StageArchived && stage != tracker.StageNone {
			if _, err := tx.ExecContext(ctx,
				`UPDATE model_versions SET stage = ? WHERE name = ? AND stage = ? AND version <> ?`,
				tracker.StageArchived, name, stage, version); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logf("%s version %d -> %s", name, version, stage)
	return nil
}

// GetModelVersion returns one registered version.
func (s *Store) GetModelVersion(ctx context.Context, name string, version int) (tracker.ModelVersion, error) {
	mv := tracker.ModelVersion{Name: name, Version: version}
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT source, run_id, stage, created_at FROM model_versions
		WHERE name = ? AND version = ?`, name, version).Scan(&mv.Source, &mv.RunID, &mv.Stage, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return mv, fmt.Errorf("%w: %s v%d", tracker.ErrModelVersionNotFound, name, version)
	}
	if err != nil {
		return mv, err
	}
	mv.CreatedTime = time.Unix(0, created)
	return mv, nil
}

// ListModelVersions returns every version of name in ascending order.
func (s *Store) ListModelVersions(ctx context.Context, name string) ([]tracker.ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, source, run_id, stage, created_at FROM model_versions
		WHERE name = ? ORDER BY version`, name)
	if err != nil {
		return nil, fmt.Errorf("query model versions: %w", err)
	}
	defer rows.Close()
	var out []tracker.ModelVersion
	for rows.Next() {
		mv := tracker.ModelVersion{Name: name}
		var created int64
		if err := rows.Scan(&mv.Version, &mv.Source, &mv.RunID, &mv.Stage, &created); err != nil {
			return nil, err
		}
		mv.CreatedTime = time.Unix(0, created)
		out = append(out, mv)
	}
	return out, rows.Err()
}
