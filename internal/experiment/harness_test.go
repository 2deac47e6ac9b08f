package experiment

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vrpbench/internal/cost"
	"vrpbench/internal/model"
	"vrpbench/internal/opt"
	"vrpbench/internal/routing"
	"vrpbench/internal/store"
)

// scripted is a solver whose Solve outcome depends on the node count:
// 2 panics, 3 fails, 4 finds nothing, anything else routes every visit on
// vehicle 0.
type scripted struct {
	m     *routing.IndexManager
	delay time.Duration
}

func (s *scripted) RegisterTransitCallback(routing.TransitFunc) int           { return 0 }
func (s *scripted) RegisterUnaryTransitCallback(routing.UnaryTransitFunc) int { return 1 }
func (s *scripted) SetArcCostEvaluatorOfAllVehicles(int) error                { return nil }
func (s *scripted) AddDimension(int, int64, int64, bool, string) error        { return nil }
func (s *scripted) AddDimensionWithVehicleCapacity(int, int64, []int64, bool, string) error {
	return nil
}
func (s *scripted) SetGlobalSpanCostCoefficient(string, int64) error     { return nil }
func (s *scripted) SetCumulRange(string, int64, int64, int64) error      { return nil }
func (s *scripted) AddPickupAndDelivery(int64, int64) error              { return nil }
func (s *scripted) AddEqualityConstraint(routing.Var, routing.Var) error { return nil }
func (s *scripted) AddLessOrEqualConstraint(routing.Var, routing.Var) error {
	return nil
}
func (s *scripted) AddVariableMinimizedByFinalizer(routing.Var) error { return nil }

var errEngineDown = errors.New("engine down")

func (s *scripted) Solve(ctx context.Context, p routing.SearchParameters) (*routing.Assignment, error) {
	time.Sleep(s.delay)
	switch s.m.NumNodes() {
	case 2:
		panic("boom")
	case 3:
		return nil, errEngineDown
	case 4:
		return nil, nil
	}
	routes := make([][]int64, s.m.NumVehicles())
	routes[0] = s.m.Visits()
	return routing.NewAssignment(s.m, routes, 7, nil)
}

func line(n int) cost.Matrix {
	m := make(cost.Matrix, n)
	for i := range m {
		m[i] = make([]int64, n)
		for j := range m[i] {
			m[i][j] = int64(max(i-j, j-i))
		}
	}
	return m
}

func scriptedPlan() Plan {
	var probs []*model.Instance
	for _, n := range []int{5, 2, 3, 4} {
		probs = append(probs, &model.Instance{Name: "n" + string(rune('0'+n)), Costs: line(n), NumVehicles: 1})
	}
	return Plan{
		Problems:       probs,
		FirstSolutions: []routing.FirstSolutionStrategy{routing.PathCheapestArc, routing.Savings},
		Metaheuristics: []routing.Metaheuristic{routing.MetaheuristicNone},
	}
}

func collect(results *[]Result) Sink {
	return SinkFunc(func(ctx context.Context, r Result) error {
		*results = append(*results, r)
		return nil
	})
}

func TestDefaultPlan(t *testing.T) {
	p := DefaultPlan()
	if p.Size() != 5*12*7 {
		t.Fatalf("size=%d want 420", p.Size())
	}
	combos := p.Combinations()
	if len(combos) != 420 {
		t.Fatalf("%d combinations", len(combos))
	}
	first := combos[0]
	if first.Problem.Name != "TSP Cities" || first.FirstSolution != routing.Automatic || first.Metaheuristic != routing.MetaheuristicNone {
		t.Fatalf("first combination %s", first)
	}
	if first.Params.TimeLimit != 0 {
		t.Fatalf("no metaheuristic should run unbounded, got %s", first.Params.TimeLimit)
	}
	if combos[1].Params.TimeLimit != 15*time.Second {
		t.Fatalf("TSP limit=%s want 15s", combos[1].Params.TimeLimit)
	}
	for i, c := range combos {
		if c.Seq != i {
			t.Fatalf("combination %d has seq %d", i, c.Seq)
		}
	}
	last := combos[len(combos)-1]
	if last.Problem.Name != "VrpTimeWindows" || last.FirstSolution != routing.FirstUnboundMinValue || last.Metaheuristic != routing.GenericTabuSearch {
		t.Fatalf("last combination %s", last)
	}
}

func TestSearchForBoundsMetaheuristicWithoutLimit(t *testing.T) {
	in := &model.Instance{Name: "loaded", Costs: cost.Matrix{{0, 1}, {1, 0}}, NumVehicles: 1}
	if p := SearchFor(in, routing.PathCheapestArc, routing.GuidedLocalSearch); p.TimeLimit != DefaultTimeLimit {
		t.Fatalf("guided local search limit=%s want %s", p.TimeLimit, DefaultTimeLimit)
	}
	if p := SearchFor(in, routing.PathCheapestArc, routing.MetaheuristicNone); p.TimeLimit != 0 {
		t.Fatalf("no metaheuristic limit=%s want 0", p.TimeLimit)
	}
	in.TimeLimit = 3 * time.Second
	if p := SearchFor(in, routing.PathCheapestArc, routing.SimulatedAnnealing); p.TimeLimit != 3*time.Second {
		t.Fatalf("own limit=%s want 3s", p.TimeLimit)
	}
	plan := Plan{Problems: []*model.Instance{{Name: "loaded", Costs: in.Costs, NumVehicles: 1}},
		FirstSolutions: []routing.FirstSolutionStrategy{routing.Automatic},
		Metaheuristics: []routing.Metaheuristic{routing.TabuSearch}}
	if c := plan.Combinations(); c[0].Params.TimeLimit != DefaultTimeLimit {
		t.Fatalf("plan limit=%s want %s", c[0].Params.TimeLimit, DefaultTimeLimit)
	}
}

func TestPlanSelect(t *testing.T) {
	p, err := DefaultPlan().Select([]string{"vrp capacityconstraints"}, []string{"savings"}, []string{"none", "tabu-search"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Size() != 2 || p.Problems[0].Name != "VRP CapacityConstraints" {
		t.Fatalf("selected %d combinations of %v", p.Size(), p.Problems)
	}
	p.TimeLimit = 50 * time.Millisecond
	c := p.Combinations()
	if c[0].Params.TimeLimit != 0 || c[1].Params.TimeLimit != 50*time.Millisecond {
		t.Fatalf("limits %s, %s", c[0].Params.TimeLimit, c[1].Params.TimeLimit)
	}
	if _, err := DefaultPlan().Select([]string{"nope"}, nil, nil); err == nil {
		t.Fatal("unknown problem accepted")
	}
	if _, err := DefaultPlan().Select(nil, []string{"SIDEWAYS"}, nil); err == nil {
		t.Fatal("unknown strategy accepted")
	}
}

func TestRunConvertsFailures(t *testing.T) {
	h := &Harness{NewSolver: func(m *routing.IndexManager) routing.Solver { return &scripted{m: m} }}
	var got []Result
	tally, err := h.Run(context.Background(), scriptedPlan(), collect(&got))
	if err != nil {
		t.Fatal(err)
	}
	if tally != (Tally{Total: 8, Solved: 2, NoSolution: 2, Failed: 4}) {
		t.Fatalf("tally=%+v", tally)
	}
	want := []struct{ status, text string }{
		{model.RunSolved, "Objective: 7 miles\n"},
		{model.RunSolved, ""},
		{model.RunError, "Error during execution: panic: boom"},
		{model.RunError, "Error during execution: panic: boom"},
		{model.RunError, "Error during execution: engine down"},
		{model.RunError, "Error during execution: engine down"},
		{model.RunNoSolution, "No solution found."},
		{model.RunNoSolution, "No solution found."},
	}
	for i, r := range got {
		if r.Seq != i || r.Status != want[i].status {
			t.Fatalf("result %d: seq=%d status=%s want %s", i, r.Seq, r.Status, want[i].status)
		}
		if !strings.HasPrefix(r.Text, want[i].text) {
			t.Fatalf("result %d text %q want prefix %q", i, r.Text, want[i].text)
		}
	}
	if !errors.Is(got[4].Err, errEngineDown) {
		t.Fatalf("err=%v want errEngineDown", got[4].Err)
	}
	if got[0].Objective == nil || *got[0].Objective != 7 || got[0].Summary == nil {
		t.Fatalf("solved result %+v", got[0])
	}
}

func TestParallelKeepsPlanOrder(t *testing.T) {
	var built atomic.Int64
	h := &Harness{NewSolver: func(m *routing.IndexManager) routing.Solver {
		// earlier combinations take longer
		n := built.Add(1)
		return &scripted{m: m, delay: time.Duration(10-n) * 3 * time.Millisecond}
	}}
	plan := scriptedPlan()
	plan.Workers = 4
	var got []Result
	tally, err := h.Run(context.Background(), plan, collect(&got))
	if err != nil {
		t.Fatal(err)
	}
	if tally.Total != 8 || len(got) != 8 {
		t.Fatalf("tally=%+v delivered=%d", tally, len(got))
	}
	for i, r := range got {
		if r.Seq != i {
			t.Fatalf("delivery %d carried seq %d", i, r.Seq)
		}
	}
}

func TestSinkErrorStopsSweep(t *testing.T) {
	h := &Harness{NewSolver: func(m *routing.IndexManager) routing.Solver { return &scripted{m: m} }}
	errDisk := errors.New("disk full")
	calls := 0
	sink := SinkFunc(func(ctx context.Context, r Result) error {
		calls++
		if calls == 2 {
			return errDisk
		}
		return nil
	})
	for _, workers := range []int{1, 3} {
		calls = 0
		plan := scriptedPlan()
		plan.Workers = workers
		if _, err := h.Run(context.Background(), plan, sink); !errors.Is(err, errDisk) {
			t.Fatalf("workers=%d err=%v want disk full", workers, err)
		}
		if calls != 2 {
			t.Fatalf("workers=%d sink called %d times after failing", workers, calls)
		}
	}
}

func TestCancelledRunSchedulesNothing(t *testing.T) {
	h := &Harness{NewSolver: func(m *routing.IndexManager) routing.Solver { return &scripted{m: m} }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tally, err := h.Run(ctx, scriptedPlan())
	if !errors.Is(err, context.Canceled) || tally.Total != 0 {
		t.Fatalf("tally=%+v err=%v", tally, err)
	}
}

func TestReferenceProblemsThroughEngine(t *testing.T) {
	plan := Plan{
		Problems:       []*model.Instance{model.TSPCities()},
		FirstSolutions: []routing.FirstSolutionStrategy{routing.PathCheapestArc, routing.Sweep, routing.AllUnperformed},
		Metaheuristics: []routing.Metaheuristic{routing.MetaheuristicNone},
	}
	var buf bytes.Buffer
	text := NewTextSink(&buf)
	mem := store.NewMemory()
	ss, err := StartExperiment(context.Background(), mem, "exp-1", plan)
	if err != nil {
		t.Fatal(err)
	}
	tally, err := New(nil).Run(context.Background(), plan, text, ss, MetricsSink)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ss.Finish(context.Background(), err); err != nil {
		t.Fatal(err)
	}
	if tally != (Tally{Total: 3, Solved: 1, NoSolution: 1, Failed: 1}) {
		t.Fatalf("tally=%+v", tally)
	}
	out := buf.String()
	if strings.Count(out, "------------------------------------------------\n") != 3 {
		t.Fatalf("want 3 entries, got\n%s", out)
	}
	for _, frag := range []string{
		"First Solution Strategy: PATH_CHEAPEST_ARC\nLocal Search Strategy: None\n",
		"Result Summary:\nObjective: ",
		"Error during execution: SWEEP: " + opt.ErrUnsupportedStrategy.Error(),
		"Result Summary:\nNo solution found.\n",
	} {
		if !strings.Contains(out, frag) {
			t.Fatalf("artifact lacks %q:\n%s", frag, out)
		}
	}
	exp, err := mem.GetExperiment(context.Background(), "exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if exp.Status != model.ExperimentCompleted || exp.Completed != 3 || exp.Solved != 1 || exp.Failed != 1 {
		t.Fatalf("experiment=%+v", exp)
	}
	runs, _, _ := mem.ListRuns(context.Background(), store.RunFilter{ExperimentID: "exp-1"}, "", 0)
	if len(runs) != 3 || runs[0].Objective == nil || runs[1].Error == "" {
		t.Fatalf("runs=%+v", runs)
	}
}
