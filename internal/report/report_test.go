package report

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"vrpbench/internal/cost"
	"vrpbench/internal/model"
	"vrpbench/internal/opt"
	"vrpbench/internal/routing"
	"vrpbench/internal/vrp"
)

var triangle = cost.Matrix{{0, 2, 5}, {2, 0, 3}, {5, 3, 0}}

func build(t *testing.T, in *model.Instance) *vrp.Model {
	t.Helper()
	m, err := vrp.Build(in, opt.NewSolver(nil))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func assign(t *testing.T, m *vrp.Model, routes [][]int64, obj int64, cumuls map[string][]routing.Bounds) *routing.Assignment {
	t.Helper()
	a, err := routing.NewAssignment(m.Manager, routes, obj, cumuls)
	if err != nil {
		t.Fatalf("NewAssignment: %v", err)
	}
	return a
}

func TestFormatTSP(t *testing.T) {
	m := build(t, &model.Instance{Name: "tiny", Costs: triangle, NumVehicles: 1})
	a := assign(t, m, [][]int64{{1, 2}}, 10, nil)
	got := Solution(m, a)
	want := "Objective: 10 miles\nRoute:\n0 -> 1 -> 2 -> 0\nRoute distance: 10 miles\n"
	if got != want {
		t.Fatalf("got\n%q\nwant\n%q", got, want)
	}
}

func TestFormatCapacity(t *testing.T) {
	m := build(t, &model.Instance{
		Name: "loads", Costs: triangle, NumVehicles: 2,
		Demands: []int64{0, 3, 4}, Capacities: []int64{5, 5},
	})
	a := assign(t, m, [][]int64{{2}, {3}}, 14, nil)
	s := Summarize(m, a)
	if s.TotalLoad != 7 || s.TotalDistance != 14 || s.MaxDistance != 10 {
		t.Fatalf("summary=%+v", s)
	}
	want := "Objective: 14\n" +
		"Route for Vehicle 0:\n0 Load(0) -> 1 Load(3) -> 0\nDistance of the route: 4m\n" +
		"Route for Vehicle 1:\n0 Load(0) -> 2 Load(4) -> 0\nDistance of the route: 10m\n" +
		"Total distance of all routes: 14m\nTotal load of all routes: 7\n"
	if got := Format(model.VariantCapacity, s); got != want {
		t.Fatalf("got\n%q\nwant\n%q", got, want)
	}
}

func TestLoadsFollowCapacityCumuls(t *testing.T) {
	m := build(t, &model.Instance{
		Name: "loads", Costs: triangle, NumVehicles: 2,
		Demands: []int64{0, 3, 4}, Capacities: []int64{9, 9},
	})
	// starts 0,1; visits 2,3; ends 4,5. Vehicle 1 leaves the depot already carrying 1.
	loads := []routing.Bounds{{Min: 0, Max: 0}, {Min: 1, Max: 1}, {Min: 0, Max: 0}, {Min: 1, Max: 1}, {Min: 3, Max: 3}, {Min: 5, Max: 5}}
	a := assign(t, m, [][]int64{{2}, {3}}, 14, map[string][]routing.Bounds{vrp.DimCapacity: loads})
	s := Summarize(m, a)
	if s.TotalLoad != 8 || s.Routes[1].Load != 5 {
		t.Fatalf("summary=%+v", s)
	}
	want := "Objective: 14\n" +
		"Route for Vehicle 0:\n0 Load(0) -> 1 Load(3) -> 0\nDistance of the route: 4m\n" +
		"Route for Vehicle 1:\n0 Load(1) -> 2 Load(5) -> 0\nDistance of the route: 10m\n" +
		"Total distance of all routes: 14m\nTotal load of all routes: 8\n"
	if got := Format(model.VariantCapacity, s); got != want {
		t.Fatalf("got\n%q\nwant\n%q", got, want)
	}
}

func TestFormatGlobalSpanSkipsUnusedVehicles(t *testing.T) {
	m := build(t, &model.Instance{
		Name: "span", Costs: triangle, NumVehicles: 3,
		MaxRouteDistance: 100, SpanCostCoefficient: 10,
	})
	// visits are 3 and 4 with three vehicles
	a := assign(t, m, [][]int64{{3}, nil, {4}}, 114, nil)
	want := "Objective: 114\n" +
		"Route for Vehicle 0:\n0 -> 1 -> 0\nDistance of the route: 4m\n" +
		"Route for Vehicle 2:\n0 -> 2 -> 0\nDistance of the route: 10m\n" +
		"Maximum of the route distances: 10m\n"
	if got := Solution(m, a); got != want {
		t.Fatalf("got\n%q\nwant\n%q", got, want)
	}
}

func TestFormatPickupDelivery(t *testing.T) {
	m := build(t, &model.Instance{
		Name: "pd", Costs: triangle, NumVehicles: 1,
		Pairs: []model.PickupDelivery{{Pickup: 1, Delivery: 2}}, MaxRouteDistance: 100,
	})
	a := assign(t, m, [][]int64{{1, 2}}, 10, nil)
	want := "Objective: 10\nRoute for Vehicle 0:\n0 -> 1 -> 2 -> 0\nDistance of the route: 10m\n\n" +
		"Total Distance of all routes: 10m\n"
	if got := Solution(m, a); got != want {
		t.Fatalf("got\n%q\nwant\n%q", got, want)
	}
}

func TestFormatTimeWindows(t *testing.T) {
	m := build(t, &model.Instance{
		Name: "tw", Costs: triangle, NumVehicles: 2, Horizon: 30,
		TimeWindows: []model.TimeWindow{{Earliest: 0, Latest: 5}, {Earliest: 2, Latest: 8}, {Earliest: 6, Latest: 10}},
	})
	times := make([]routing.Bounds, m.Manager.NumIndices())
	times[0] = routing.Bounds{Min: 1, Max: 1}
	times[2] = routing.Bounds{Min: 3, Max: 3}
	times[4] = routing.Bounds{Min: 5, Max: 5}
	a := assign(t, m, [][]int64{{2}, nil}, 5, map[string][]routing.Bounds{vrp.DimTime: times})
	s := Summarize(m, a)
	if len(s.Routes) != 1 || s.TotalTime != 5 {
		t.Fatalf("summary=%+v", s)
	}
	want := "Route for Vehicle 0:\n0 Time(1,1) -> 1 Time(3,3) -> 0 Time(5,5)\nTime of the route: 5min\n" +
		"Total time of all routes: 5min\n"
	if got := Format(s.Variant, s); got != want {
		t.Fatalf("got\n%q\nwant\n%q", got, want)
	}
}

func TestTimeWindowTotalsMatchEndCumuls(t *testing.T) {
	in := model.VRPTimeWindows()
	m := build(t, in)
	a, err := m.Solve(t.Context(), routing.SearchParameters{FirstSolution: routing.PathCheapestArc})
	if err != nil || a == nil {
		t.Fatalf("Solve: %v, %v", a, err)
	}
	s := Summarize(m, a)
	var want int64
	for v := 0; v < in.NumVehicles; v++ {
		if a.IsVehicleUsed(v) {
			want += a.Min(vrp.DimTime, m.Manager.End(v))
		}
	}
	if s.TotalTime != want {
		t.Fatalf("total time=%d want %d", s.TotalTime, want)
	}
}

func TestWriteEntry(t *testing.T) {
	var buf bytes.Buffer
	err := WriteEntry(&buf, Entry{
		Problem:       "TSP Cities",
		FirstSolution: routing.PathCheapestArc.String(),
		Elapsed:       1500 * time.Microsecond,
		Body:          NoSolution,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := Separator + "\nProblem: TSP Cities\nFirst Solution Strategy: PATH_CHEAPEST_ARC\n" +
		"Local Search Strategy: None\nExecution Time: 1 ms\nResult Summary:\nNo solution found.\n"
	if buf.String() != want {
		t.Fatalf("got\n%q\nwant\n%q", buf.String(), want)
	}
	if got := Failure(errors.New("boom")); got != "Error during execution: boom" {
		t.Fatalf("failure=%q", got)
	}
}
