package experiment

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"vrpbench/internal/model"
	"vrpbench/internal/opt"
	"vrpbench/internal/report"
	"vrpbench/internal/vrp"
)

// Result is one finished combination.
type Result struct {
	Combination
	Status    string
	Elapsed   time.Duration
	Objective *int64
	Summary   *report.Summary
	// Text is the report body, "No solution found." or the failure line.
	Text  string
	Err   error
	Stats opt.Metrics
}

// Entry renders the result for the text artifact.
func (r Result) Entry() report.Entry {
	return report.Entry{
		Problem:       r.Problem.Name,
		FirstSolution: r.FirstSolution.String(),
		LocalSearch:   r.Metaheuristic.String(),
		Elapsed:       r.Elapsed,
		Body:          r.Text,
	}
}

// Record converts the result into its persisted form.
func (r Result) Record(id, experimentID string, at time.Time) model.RunRecord {
	rec := model.RunRecord{
		ID:            id,
		ExperimentID:  experimentID,
		Seq:           r.Seq,
		Problem:       r.Problem.Name,
		Variant:       string(r.Problem.Variant()),
		FirstSolution: r.FirstSolution.String(),
		LocalSearch:   r.Metaheuristic.String(),
		Status:        r.Status,
		ElapsedMs:     r.Elapsed.Milliseconds(),
		Objective:     r.Objective,
		Iterations:    r.Stats.Iterations,
		Summary:       r.Text,
		CreatedAt:     at,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// Sink receives results in plan order. An error stops the sweep.
type Sink interface {
	Record(ctx context.Context, r Result) error
}

type SinkFunc func(ctx context.Context, r Result) error

func (f SinkFunc) Record(ctx context.Context, r Result) error { return f(ctx, r) }

// Harness runs plans. The zero value is not usable; use New.
type Harness struct {
	NewSolver vrp.SolverFactory
	Logger    *log.Logger
}

func New(logger *log.Logger) *Harness {
	return &Harness{NewSolver: opt.NewSolver(logger), Logger: logger}
}

func (h *Harness) logf(format string, args ...any) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}

// Tally counts the outcomes of a sweep.
type Tally struct {
	Total, Solved, NoSolution, Failed int
}

func (t *Tally) add(status string) {
	t.Total++
	switch status {
	case model.RunSolved:
		t.Solved++
	case model.RunNoSolution:
		t.NoSolution++
	default:
		t.Failed++
	}
}

// Run executes every combination of plan once and delivers each result to
// the sinks in plan order. With plan.Workers > 1 combinations run in
// parallel. Cancelling ctx stops scheduling; runs already started finish
// within their own time limit. Run returns ctx.Err() when cancelled and
// the first sink error otherwise.
func (h *Harness) Run(ctx context.Context, plan Plan, sinks ...Sink) (Tally, error) {
	if err := plan.Validate(); err != nil {
		return Tally{}, err
	}
	combos := plan.Combinations()
	started := time.Now()
	h.logf("[HARNESS] starting %d combinations workers=%d", len(combos), max(1, plan.Workers))
	var tally Tally
	deliver := func(r Result) error {
		tally.add(r.Status)
		for _, s := range sinks {
			if err := s.Record(ctx, r); err != nil {
				return fmt.Errorf("sink %s: %w", r.Combination, err)
			}
		}
		return nil
	}
	var err error
	if plan.Workers <= 1 {
		err = h.sequential(ctx, combos, deliver)
	} else {
		err = h.parallel(ctx, combos, plan.Workers, deliver)
	}
	h.logf("[HARNESS] finished %d/%d solved=%d none=%d failed=%d in %s",
		tally.Total, len(combos), tally.Solved, tally.NoSolution, tally.Failed, time.Since(started))
	return tally, err
}

func (h *Harness) sequential(ctx context.Context, combos []Combination, deliver func(Result) error) error {
	for _, c := range combos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := deliver(h.RunOne(ctx, c)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) parallel(ctx context.Context, combos []Combination, workers int, deliver func(Result) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := make([]Result, len(combos))
	done := make([]chan struct{}, len(combos))
	for i := range done {
		done[i] = make(chan struct{})
	}
	var g errgroup.Group
	g.SetLimit(workers)
	scheduled := make(chan struct{})
	go func() {
		defer close(scheduled)
		for i := range combos {
			if runCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				results[i] = h.RunOne(runCtx, combos[i])
				close(done[i])
				return nil
			})
		}
		_ = g.Wait()
	}()
	var err error
	for i := range combos {
		select {
		case <-done[i]:
		case <-scheduled:
			select {
			case <-done[i]:
			default:
				// scheduling stopped before i because ctx was cancelled
				err = ctx.Err()
			}
		}
		if err != nil {
			break
		}
		if err = deliver(results[i]); err != nil {
			break
		}
	}
	cancel()
	<-scheduled
	return err
}

// RunOne builds a fresh model for c, solves it and reports the outcome.
// Errors and panics inside the build or solve become failure results.
func (h *Harness) RunOne(ctx context.Context, c Combination) (res Result) {
	res = Result{Combination: c}
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			res.fail(fmt.Errorf("panic: %v", rec))
		}
		res.Elapsed = time.Since(started)
		h.logf("[HARNESS] %s status=%s elapsed=%s", c, res.Status, res.Elapsed)
	}()
	m, err := vrp.Build(c.Problem, h.NewSolver)
	if err != nil {
		res.fail(err)
		return res
	}
	a, err := m.Solve(ctx, c.Params)
	if s, ok := m.Solver.(interface{ Metrics() opt.Metrics }); ok {
		res.Stats = s.Metrics()
	}
	if err != nil {
		res.fail(err)
		return res
	}
	if a == nil {
		res.Status = model.RunNoSolution
		res.Text = report.NoSolution
		return res
	}
	sum := report.Summarize(m, a)
	obj := a.ObjectiveValue()
	res.Status = model.RunSolved
	res.Objective = &obj
	res.Summary = &sum
	res.Text = report.Format(sum.Variant, sum)
	return res
}

func (r *Result) fail(err error) {
	r.Status = model.RunError
	r.Err = err
	r.Text = report.Failure(err)
}
