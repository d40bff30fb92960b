// Package trackertest provides an in-memory tracker.Client for tests.
package trackertest

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/modelpipe/internal/tracker"
)

// Memory is a goroutine-safe in-memory tracker. The zero value is not
// usable; call New.
type Memory struct {
	mu          sync.Mutex
	experiments map[string]string // name -> id
	active      string
	runs        map[string]*memRun
	order       []string
	artifacts   map[string][]byte // run_id/path
	versions    map[string][]*tracker.ModelVersion

	// RegisterErr, when set, is returned by RegisterModel.
	RegisterErr error
	// GetRunCalls counts GetRun invocations.
	GetRunCalls int
}

// New returns an empty tracker.
func New() *Memory {
	return &Memory{
		experiments: make(map[string]string),
		runs:        make(map[string]*memRun),
		artifacts:   make(map[string][]byte),
		versions:    make(map[string][]*tracker.ModelVersion),
	}
}

var _ tracker.Client = (*Memory)(nil)

type memRun struct {
	m   *Memory
	rec tracker.RunRecord
}

// CreateExperiment implements tracker.Client.
func (m *Memory) CreateExperiment(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.experiments[name]; ok {
		return "", fmt.Errorf("%w: %s", tracker.ErrExperimentExists, name)
	}
	id := uuid.New().String()
	m.experiments[name] = id
	return id, nil
}

// SetExperiment implements tracker.Client.
func (m *Memory) SetExperiment(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.experiments[name]
	if !ok {
		return fmt.Errorf("%w: %s", tracker.ErrExperimentNotFound, name)
	}
	m.active = id
	return nil
}

// StartRun implements tracker.Client.
func (m *Memory) StartRun(_ context.Context, runName string) (tracker.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return nil, tracker.ErrNoActiveExperiment
	}
	return m.newRunLocked(runName), nil
}

func (m *Memory) newRunLocked(name string) *memRun {
	id := uuid.New().String()
	r := &memRun{m: m, rec: tracker.RunRecord{
		RunInfo: tracker.RunInfo{
			RunID:        id,
			ExperimentID: m.active,
			Name:         name,
			Status:       tracker.StatusRunning,
			StartTime:    time.Now(),
			ArtifactURI:  "memory://" + id + "/artifacts",
		},
		Params:  map[string]string{},
		Metrics: map[string]float64{},
	}}
	m.runs[id] = r
	m.order = append(m.order, id)
	return r
}

// AddRun seeds a finished run and returns its id.
func (m *Memory) AddRun(name string, params map[string]string, metrics map[string]float64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.newRunLocked(name)
	maps.Copy(r.rec.Params, params)
	maps.Copy(r.rec.Metrics, metrics)
	r.rec.Status = tracker.StatusFinished
	r.rec.EndTime = time.Now()
	return r.rec.RunID
}

// GetRun implements tracker.Client.
func (m *Memory) GetRun(_ context.Context, runID string) (*tracker.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetRunCalls++
	r, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tracker.ErrRunNotFound, runID)
	}
	rec := r.rec
	rec.Params = maps.Clone(r.rec.Params)
	rec.Metrics = maps.Clone(r.rec.Metrics)
	return &rec, nil
}

// Runs returns every run record in creation order.
func (m *Memory) Runs() []tracker.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tracker.RunRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.runs[id].rec)
	}
	return out
}

// Artifact returns a logged artifact.
func (m *Memory) Artifact(runID, path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.artifacts[runID+"/"+path]
	return b, ok
}

// Artifacts lists artifact paths of a run in sorted order.
func (m *Memory) Artifacts(runID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	prefix := runID + "/"
	for k := range m.artifacts {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out = append(out, rest)
		}
	}
	sort.Strings(out)
	return out
}

// RegisterModel implements tracker.Client.
func (m *Memory) RegisterModel(_ context.Context, artifactURI, modelName string) (tracker.ModelVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RegisterErr != nil {
		return tracker.ModelVersion{}, m.RegisterErr
	}
	runID, path, err := tracker.ParseRunsURI(artifactURI)
	if err != nil {
		return tracker.ModelVersion{}, err
	}
	if _, ok := m.runs[runID]; !ok {
		return tracker.ModelVersion{}, fmt.Errorf("%w: %s", tracker.ErrRunNotFound, runID)
	}
	if !m.hasArtifactLocked(runID, path) {
		return tracker.ModelVersion{}, fmt.Errorf("%w: %s", tracker.ErrArtifactNotFound, artifactURI)
	}
	mv := &tracker.ModelVersion{
		Name:        modelName,
		Version:     len(m.versions[modelName]) + 1,
		Source:      artifactURI,
		RunID:       runID,
		Stage:       tracker.StageNone,
		CreatedTime: time.Now(),
	}
	m.versions[modelName] = append(m.versions[modelName], mv)
	return *mv, nil
}

func (m *Memory) hasArtifactLocked(runID, path string) bool {
	prefix := runID + "/" + path
	for k := range m.artifacts {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			return true
		}
	}
	return false
}

// TransitionStage implements tracker.Client.
func (m *Memory) TransitionStage(_ context.Context, name string, version int, stage string, opts ...tracker.TransitionOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !tracker.ValidStage(stage) {
		return fmt.Errorf("%w: %q", tracker.ErrInvalidStage, stage)
	}
	vs := m.versions[name]
	if version < 1 || version > len(vs) {
		return fmt.Errorf("%w: %s v%d", tracker.ErrModelVersionNotFound, name, version)
	}
	if tracker.ApplyTransitionOptions(opts).ArchiveExisting {
		for _, v := range vs {
			if v.Version != version && v.Stage == stage {
				v.Stage = tracker.StageArchived
			}
		}
	}
	vs[version-1].Stage = stage
	return nil
}

// Versions returns the registered versions of name.
func (m *Memory) Versions(name string) []tracker.ModelVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tracker.ModelVersion, 0, len(m.versions[name]))
	for _, v := range m.versions[name] {
		out = append(out, *v)
	}
	return out
}

func (r *memRun) ID() string { return r.rec.RunID }

func (r *memRun) checkOpenLocked() error {
	if r.rec.Status.Terminal() {
		return fmt.Errorf("%w: %s", tracker.ErrRunEnded, r.rec.RunID)
	}
	return nil
}

func (r *memRun) LogParams(_ context.Context, params map[string]string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.checkOpenLocked(); err != nil {
		return err
	}
	for k, v := range params {
		if old, ok := r.rec.Params[k]; ok && old != v {
			return fmt.Errorf("%w: %s (%q != %q)", tracker.ErrParamConflict, k, old, v)
		}
	}
	maps.Copy(r.rec.Params, params)
	return nil
}

func (r *memRun) LogMetrics(_ context.Context, metrics map[string]float64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.checkOpenLocked(); err != nil {
		return err
	}
	maps.Copy(r.rec.Metrics, metrics)
	return nil
}

func (r *memRun) LogArtifact(_ context.Context, path string, data []byte) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.checkOpenLocked(); err != nil {
		return err
	}
	r.m.artifacts[r.rec.RunID+"/"+path] = append([]byte(nil), data...)
	return nil
}

func (r *memRun) End(_ context.Context, status tracker.RunStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.rec.Status.Terminal() {
		return nil
	}
	r.rec.Status = status
	r.rec.EndTime = time.Now()
	return nil
}
