// Package mlflow is a tracker.Client for an MLflow tracking server, speaking
// its REST API.
package mlflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/modelpipe/internal/httputil"
	"github.com/banshee-data/modelpipe/internal/monitoring"
	"github.com/banshee-data/modelpipe/internal/tracker"
)

const apiPrefix = "/api/2.0/mlflow"

// Batch limits of runs/log-batch.
const (
	maxParamsPerBatch  = 100
	maxMetricsPerBatch = 1000
)

var logf = monitoring.Component("mlflow")

// Client implements tracker.Client.
type Client struct {
	api *httputil.JSONClient

	mu     sync.RWMutex
	active string
}

var _ tracker.Client = (*Client)(nil)

// New returns a client for the server at baseURL. token, when set, is sent
// as a bearer token. A nil hc uses http.DefaultClient.
func New(baseURL, token string, hc httputil.HTTPClient) *Client {
	api := httputil.NewJSONClient(baseURL, hc)
	if token != "" {
		api.Header.Set("Authorization", "Bearer "+token)
	}
	return &Client{api: api}
}

type apiError struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// codes maps the MLflow resource errors of one endpoint onto tracker
// sentinels. A nil field leaves that code untranslated.
type codes struct {
	notFound error
	exists   error
}

// translate maps MLflow error codes onto tracker sentinels.
func translate(err error, m codes) error {
	var se *httputil.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var ae apiError
	if json.Unmarshal(se.Body, &ae) != nil {
		return err
	}
	switch ae.Code {
	case "RESOURCE_ALREADY_EXISTS":
		if m.exists != nil {
			return fmt.Errorf("%w: %s", m.exists, ae.Message)
		}
	case "RESOURCE_DOES_NOT_EXIST":
		if m.notFound != nil {
			return fmt.Errorf("%w: %s", m.notFound, ae.Message)
		}
	}
	return fmt.Errorf("mlflow %s: %s", ae.Code, ae.Message)
}

func (c *Client) call(ctx context.Context, method, endpoint string, in, out any, m codes) error {
	return translate(c.api.Do(ctx, method, apiPrefix+endpoint, in, out), m)
}

// CreateExperiment implements tracker.Client.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	var out struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/experiments/create", map[string]string{"name": name}, &out, codes{exists: tracker.ErrExperimentExists}); err != nil {
		return "", err
	}
	logf("created experiment %q (%s)", name, out.ExperimentID)
	return out.ExperimentID, nil
}

// SetExperiment implements tracker.Client.
func (c *Client) SetExperiment(ctx context.Context, name string) error {
	var out struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	q := "/experiments/get-by-name?experiment_name=" + url.QueryEscape(name)
	if err := c.call(ctx, http.MethodGet, q, nil, &out, codes{notFound: tracker.ErrExperimentNotFound}); err != nil {
		return err
	}
	c.mu.Lock()
	c.active = out.Experiment.ExperimentID
	c.mu.Unlock()
	return nil
}

type runInfo struct {
	RunID        string
	ExperimentID string
	RunName      string
	Status       string
	StartTime    int64 // ms
	EndTime      int64 // ms
	ArtifactURI  string
}

// UnmarshalJSON accepts millisecond timestamps as numbers or strings, since
// servers differ.
func (ri *runInfo) UnmarshalJSON(b []byte) error {
	var raw struct {
		RunID        string      `json:"run_id"`
		ExperimentID string      `json:"experiment_id"`
		RunName      string      `json:"run_name"`
		Status       string      `json:"status"`
		StartTime    json.Number `json:"start_time"`
		EndTime      json.Number `json:"end_time"`
		ArtifactURI  string      `json:"artifact_uri"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ri.RunID, ri.ExperimentID, ri.RunName = raw.RunID, raw.ExperimentID, raw.RunName
	ri.Status, ri.ArtifactURI = raw.Status, raw.ArtifactURI
	ri.StartTime, _ = raw.StartTime.Int64()
	ri.EndTime, _ = raw.EndTime.Int64()
	return nil
}

type kv struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type runPayload struct {
	Run struct {
		Info runInfo `json:"info"`
		Data struct {
			Metrics []metric `json:"metrics"`
			Params  []kv     `json:"params"`
		} `json:"data"`
	} `json:"run"`
}

// StartRun implements tracker.Client.
func (c *Client) StartRun(ctx context.Context, runName string) (tracker.Run, error) {
	c.mu.RLock()
	expID := c.active
	c.mu.RUnlock()
	if expID == "" {
		return nil, tracker.ErrNoActiveExperiment
	}
	var out runPayload
	in := map[string]any{
		"experiment_id": expID,
		"run_name":      runName,
		"start_time":    time.Now().UnixMilli(),
	}
	if err := c.call(ctx, http.MethodPost, "/runs/create", in, &out, codes{notFound: tracker.ErrExperimentNotFound}); err != nil {
		return nil, err
	}
	info := out.Run.Info
	return &run{c: c, id: info.RunID, artifactURI: info.ArtifactURI}, nil
}

// GetRun implements tracker.Client.
func (c *Client) GetRun(ctx context.Context, runID string) (*tracker.RunRecord, error) {
	var out runPayload
	if err := c.call(ctx, http.MethodGet, "/runs/get?run_id="+url.QueryEscape(runID), nil, &out, codes{notFound: tracker.ErrRunNotFound}); err != nil {
		return nil, err
	}
	info := out.Run.Info
	rec := &tracker.RunRecord{
		RunInfo: tracker.RunInfo{
			RunID:        info.RunID,
			ExperimentID: info.ExperimentID,
			Name:         info.RunName,
			Status:       tracker.RunStatus(info.Status),
			StartTime:    time.UnixMilli(info.StartTime),
			ArtifactURI:  info.ArtifactURI,
		},
		Params:  make(map[string]string, len(out.Run.Data.Params)),
		Metrics: make(map[string]float64, len(out.Run.Data.Metrics)),
	}
	if info.EndTime > 0 {
		rec.EndTime = time.UnixMilli(info.EndTime)
	}
	for _, p := range out.Run.Data.Params {
		rec.Params[p.Key] = p.Value
	}
	for _, m := range out.Run.Data.Metrics {
		rec.Metrics[m.Key] = m.Value
	}
	return rec, nil
}

// RegisterModel implements tracker.Client. The registered model is created
// on first use.
func (c *Client) RegisterModel(ctx context.Context, artifactURI, modelName string) (tracker.ModelVersion, error) {
	runID, _, err := tracker.ParseRunsURI(artifactURI)
	if err != nil {
		return tracker.ModelVersion{}, err
	}
	err = c.call(ctx, http.MethodPost, "/registered-models/create", map[string]string{"name": modelName}, nil, codes{exists: tracker.ErrRegisteredModelExists})
	if err != nil && !errors.Is(err, tracker.ErrRegisteredModelExists) {
		return tracker.ModelVersion{}, fmt.Errorf("create registered model %s: %w", modelName, err)
	}

	var out struct {
		ModelVersion struct {
			Name         string `json:"name"`
			Version      string `json:"version"`
			Source       string `json:"source"`
			RunID        string `json:"run_id"`
			CurrentStage string `json:"current_stage"`
		} `json:"model_version"`
	}
	in := map[string]string{"name": modelName, "source": artifactURI, "run_id": runID}
	if err := c.call(ctx, http.MethodPost, "/model-versions/create", in, &out, codes{notFound: tracker.ErrRunNotFound, exists: tracker.ErrModelVersionExists}); err != nil {
		return tracker.ModelVersion{}, err
	}
	mv := out.ModelVersion
	v, err := strconv.Atoi(mv.Version)
	if err != nil {
		return tracker.ModelVersion{}, fmt.Errorf("model version %q: %w", mv.Version, err)
	}
	stage := mv.CurrentStage
	if stage == "" {
		stage = tracker.StageNone
	}
	logf("registered %s version %d from %s", modelName, v, artifactURI)
	return tracker.ModelVersion{
		Name:        mv.Name,
		Version:     v,
		Source:      mv.Source,
		RunID:       mv.RunID,
		Stage:       stage,
		CreatedTime: time.Now(),
	}, nil
}

// TransitionStage implements tracker.Client.
func (c *Client) TransitionStage(ctx context.Context, name string, version int, stage string, opts ...tracker.TransitionOption) error {
	if !tracker.ValidStage(stage) {
		return fmt.Errorf("%w: %q", tracker.ErrInvalidStage, stage)
	}
	in := map[string]any{
		"name":                      name,
		"version":                   strconv.Itoa(version),
		"stage":                     stage,
		"archive_existing_versions": tracker.ApplyTransitionOptions(opts).ArchiveExisting,
	}
	return c.call(ctx, http.MethodPost, "/model-versions/transition-stage", in, nil, codes{notFound: tracker.ErrModelVersionNotFound})
}

type run struct {
	c           *Client
	id          string
	artifactURI string

	mu    sync.Mutex
	ended bool
}

func (r *run) ID() string { return r.id }

func (r *run) LogParams(ctx context.Context, params map[string]string) error {
	batch := make([]kv, 0, min(len(params), maxParamsPerBatch))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := r.c.call(ctx, http.MethodPost, "/runs/log-batch", map[string]any{"run_id": r.id, "params": batch}, nil, codes{notFound: tracker.ErrRunNotFound})
		batch = batch[:0]
		if err != nil && strings.Contains(err.Error(), "INVALID_PARAMETER_VALUE") {
			return fmt.Errorf("%w: %v", tracker.ErrParamConflict, err)
		}
		return err
	}
	for _, k := range sortedKeys(params) {
		batch = append(batch, kv{Key: k, Value: params[k]})
		if len(batch) == maxParamsPerBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (r *run) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	now := time.Now().UnixMilli()
	batch := make([]metric, 0, min(len(metrics), maxMetricsPerBatch))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := r.c.call(ctx, http.MethodPost, "/runs/log-batch", map[string]any{"run_id": r.id, "metrics": batch}, nil, codes{notFound: tracker.ErrRunNotFound})
		batch = batch[:0]
		return err
	}
	for _, k := range sortedKeys(metrics) {
		batch = append(batch, metric{Key: k, Value: metrics[k], Timestamp: now})
		if len(batch) == maxMetricsPerBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// LogArtifact uploads through the server's artifact proxy, which serves
// mlflow-artifacts:/ URIs.
func (r *run) LogArtifact(ctx context.Context, path string, data []byte) error {
	rest, ok := strings.CutPrefix(r.artifactURI, "mlflow-artifacts:")
	if !ok {
		return fmt.Errorf("artifact uri %q is not served by the tracking server", r.artifactURI)
	}
	target := "/api/2.0/mlflow-artifacts/artifacts/" + strings.Trim(rest, "/") + "/" + strings.TrimPrefix(path, "/")
	if err := r.c.api.Put(ctx, target, contentType(path), data); err != nil {
		return fmt.Errorf("upload artifact %s: %w", path, err)
	}
	return nil
}

func (r *run) End(ctx context.Context, status tracker.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return nil
	}
	in := map[string]any{"run_id": r.id, "status": string(status), "end_time": time.Now().UnixMilli()}
	if err := r.c.call(ctx, http.MethodPost, "/runs/update", in, nil, codes{notFound: tracker.ErrRunNotFound}); err != nil {
		return err
	}
	r.ended = true
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".html"):
		return "text/html"
	}
	return "application/octet-stream"
}
