package store

import (
	"context"
	"fmt"
	"sync"

	"vrpbench/internal/model"
)

// Memory is a simple in-memory store used when no database is configured.
type Memory struct {
	mu      sync.Mutex
	exps    map[string]model.Experiment // id -> experiment
	expIDs  []string                    // creation order
	runs    map[string]model.RunRecord  // id -> run
	runIDs  []string                    // save order
	byExpID map[string][]string         // experiment -> run ids
}

func NewMemory() *Memory {
	return &Memory{
		exps:    map[string]model.Experiment{},
		runs:    map[string]model.RunRecord{},
		byExpID: map[string][]string{},
	}
}

func (m *Memory) CreateExperiment(ctx context.Context, e model.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exps[e.ID]; ok {
		return fmt.Errorf("experiment %s already exists", e.ID)
	}
	m.exps[e.ID] = e
	m.expIDs = append(m.expIDs, e.ID)
	return nil
}

func (m *Memory) UpdateExperiment(ctx context.Context, e model.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exps[e.ID]; !ok {
		return ErrNotFound
	}
	m.exps[e.ID] = e
	return nil
}

func (m *Memory) GetExperiment(ctx context.Context, id string) (model.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exps[id]
	if !ok {
		return model.Experiment{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) ListExperiments(ctx context.Context, cursor string, limit int) ([]model.Experiment, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.Experiment{}
	var next string
	for i := after(m.expIDs, cursor); i < len(m.expIDs) && len(out) < limit; i++ {
		out = append(out, m.exps[m.expIDs[i]])
		next = m.expIDs[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) SaveRun(ctx context.Context, r model.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; !ok {
		m.runIDs = append(m.runIDs, r.ID)
		m.byExpID[r.ExperimentID] = append(m.byExpID[r.ExperimentID], r.ID)
	}
	m.runs[r.ID] = r
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return model.RunRecord{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRuns(ctx context.Context, f RunFilter, cursor string, limit int) ([]model.RunRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.runIDs
	if f.ExperimentID != "" {
		ids = m.byExpID[f.ExperimentID]
	}
	limit = clampLimit(limit)
	out := []model.RunRecord{}
	var next string
	for i := after(ids, cursor); i < len(ids) && len(out) < limit; i++ {
		r := m.runs[ids[i]]
		if f.match(r) {
			out = append(out, r)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

// after returns the position following cursor in ids, or 0.
func after(ids []string, cursor string) int {
	if cursor == "" {
		return 0
	}
	for i, id := range ids {
		if id == cursor {
			return i + 1
		}
	}
	return 0
}
