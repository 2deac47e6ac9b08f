package model

import "time"

// Run outcomes.
const (
	RunSolved     = "solved"
	RunNoSolution = "no_solution"
	RunError      = "error"
)

// Experiment states.
const (
	ExperimentRunning   = "running"
	ExperimentCompleted = "completed"
	ExperimentCancelled = "cancelled"
)

// RunRecord is one (problem, first solution, local search) cell of a sweep.
type RunRecord struct {
	ID            string    `json:"id"`
	ExperimentID  string    `json:"experimentId"`
	Seq           int       `json:"seq"`
	Problem       string    `json:"problem"`
	Variant       string    `json:"variant"`
	FirstSolution string    `json:"firstSolutionStrategy"`
	LocalSearch   string    `json:"localSearchStrategy"`
	Status        string    `json:"status"`
	ElapsedMs     int64     `json:"elapsedMs"`
	Objective     *int64    `json:"objective,omitempty"`
	Iterations    int       `json:"iterations"`
	Summary       string    `json:"summary"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Experiment tracks a sweep and its counters.
type Experiment struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Solved     int        `json:"solved"`
	NoSolution int        `json:"noSolution"`
	Failed     int        `json:"failed"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Count folds one finished run into the counters.
func (e *Experiment) Count(status string) {
	e.Completed++
	switch status {
	case RunSolved:
		e.Solved++
	case RunNoSolution:
		e.NoSolution++
	default:
		e.Failed++
	}
}

// Done reports whether the experiment stopped accepting runs.
func (e *Experiment) Done() bool { return e.Status != ExperimentRunning }

// ExperimentRequest is the body of POST /v1/experiments.
type ExperimentRequest struct {
	Problems                []string `json:"problems,omitempty"`
	FirstSolutionStrategies []string `json:"firstSolutionStrategies,omitempty"`
	LocalSearchStrategies   []string `json:"localSearchStrategies,omitempty"`
	TimeLimitMs             int      `json:"timeLimitMs,omitempty"`
	Workers                 int      `json:"workers,omitempty"`
	Seed                    int64    `json:"seed,omitempty"`
}

// InstanceOut describes an instance for listings.
type InstanceOut struct {
	Name        string `json:"name"`
	Variant     string `json:"variant"`
	Nodes       int    `json:"nodes"`
	Vehicles    int    `json:"vehicles"`
	Depot       int    `json:"depot"`
	TimeLimitMs int64  `json:"timeLimitMs"`
}

func Describe(in *Instance) InstanceOut {
	return InstanceOut{
		Name:        in.Name,
		Variant:     string(in.Variant()),
		Nodes:       in.NumNodes(),
		Vehicles:    in.NumVehicles,
		Depot:       in.Depot,
		TimeLimitMs: in.TimeLimit.Milliseconds(),
	}
}
