package sqlitestore

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/modelpipe/internal/httputil"
)

// AttachAdminRoutes mounts debug pages under /debug/ on mux: a tailsql
// console over the tracker database, a gzip backup download and JSON views
// of runs and model versions.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(s.path), s.db, &tailsql.DBOptions{
		Label: "Tracker DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the tracker database now", http.HandlerFunc(s.handleBackup))
	debug.Handle("runs", "Recent runs of an experiment (?experiment=name)", http.HandlerFunc(s.handleRuns))
	debug.Handle("models", "Versions of a registered model (?name=model)", http.HandlerFunc(s.handleModels))
	return nil
}

func (s *Store) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "tracker-backup-")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup dir: %v", err))
		return
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("backup-%d.db", s.clock.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := s.db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup: %v", err))
		return
	}
	f, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to open backup: %v", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		logf("backup copy failed: %v", err)
	}
}

func (s *Store) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	expID := s.activeExperiment()
	if name := r.URL.Query().Get("experiment"); name != "" {
		id, err := s.ExperimentID(r.Context(), name)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		expID = id
	}
	if expID == "" {
		httputil.NotFound(w, "no experiment selected")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.ListRuns(r.Context(), expID, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"experiment_id": expID, "runs": runs})
}

func (s *Store) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		httputil.NotFound(w, "name is required")
		return
	}
	versions, err := s.ListModelVersions(r.Context(), name)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"name": name, "versions": versions})
}
