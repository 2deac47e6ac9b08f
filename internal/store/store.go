package store

import (
	"context"
	"errors"

	"vrpbench/internal/model"
)

// Store persists experiments and their run records.
type Store interface {
	// Experiments
	CreateExperiment(ctx context.Context, e model.Experiment) error
	UpdateExperiment(ctx context.Context, e model.Experiment) error
	GetExperiment(ctx context.Context, id string) (model.Experiment, error)
	ListExperiments(ctx context.Context, cursor string, limit int) ([]model.Experiment, string, error)

	// Runs
	SaveRun(ctx context.Context, r model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, error)
	ListRuns(ctx context.Context, f RunFilter, cursor string, limit int) ([]model.RunRecord, string, error)

	Ping(ctx context.Context) error
	Close() error
}

// RunFilter narrows ListRuns. Empty fields match everything.
type RunFilter struct {
	ExperimentID string
	Problem      string
	Status       string
}

func (f RunFilter) match(r model.RunRecord) bool {
	return (f.ExperimentID == "" || r.ExperimentID == f.ExperimentID) &&
		(f.Problem == "" || r.Problem == f.Problem) &&
		(f.Status == "" || r.Status == f.Status)
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}

var ErrNotFound = errors.New("not found")
