package vrp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"vrpbench/internal/cost"
	"vrpbench/internal/model"
	"vrpbench/internal/opt"
	"vrpbench/internal/routing"
)

// recorder is a routing.Solver that only records the calls made on it.
type recorder struct {
	callbacks  int
	arcCB      int
	dims       map[string][]int64 // name -> slack, capacity..., startsAtZero(0/1)
	spans      map[string]int64
	ranges     map[string]map[int64][2]int64
	pickups    [][2]int64
	eqs, les   []string
	finalizers []string
	solved     bool
}

func newRecorder(*routing.IndexManager) routing.Solver {
	return &recorder{
		arcCB:  -1,
		dims:   map[string][]int64{},
		spans:  map[string]int64{},
		ranges: map[string]map[int64][2]int64{},
	}
}

func (r *recorder) RegisterTransitCallback(routing.TransitFunc) int {
	r.callbacks++
	return r.callbacks - 1
}

func (r *recorder) RegisterUnaryTransitCallback(routing.UnaryTransitFunc) int {
	r.callbacks++
	return r.callbacks - 1
}

func (r *recorder) SetArcCostEvaluatorOfAllVehicles(cb int) error {
	r.arcCB = cb
	return nil
}

func (r *recorder) AddDimension(cb int, slack, capacity int64, startsAtZero bool, name string) error {
	return r.AddDimensionWithVehicleCapacity(cb, slack, []int64{capacity}, startsAtZero, name)
}

func (r *recorder) AddDimensionWithVehicleCapacity(cb int, slack int64, caps []int64, startsAtZero bool, name string) error {
	if _, ok := r.dims[name]; ok {
		return routing.ErrDuplicateDimension
	}
	rec := append([]int64{slack}, caps...)
	if startsAtZero {
		rec = append(rec, 1)
	} else {
		rec = append(rec, 0)
	}
	r.dims[name] = rec
	r.ranges[name] = map[int64][2]int64{}
	return nil
}

func (r *recorder) SetGlobalSpanCostCoefficient(name string, c int64) error {
	r.spans[name] = c
	return nil
}

func (r *recorder) SetCumulRange(name string, idx int64, lo, hi int64) error {
	if _, ok := r.ranges[name]; !ok {
		return routing.ErrUnknownDimension
	}
	r.ranges[name][idx] = [2]int64{lo, hi}
	return nil
}

func (r *recorder) AddPickupAndDelivery(p, d int64) error {
	r.pickups = append(r.pickups, [2]int64{p, d})
	return nil
}

func (r *recorder) AddEqualityConstraint(a, b routing.Var) error {
	r.eqs = append(r.eqs, a.String()+"=="+b.String())
	return nil
}

func (r *recorder) AddLessOrEqualConstraint(a, b routing.Var) error {
	r.les = append(r.les, a.String()+"<="+b.String())
	return nil
}

func (r *recorder) AddVariableMinimizedByFinalizer(v routing.Var) error {
	r.finalizers = append(r.finalizers, v.String())
	return nil
}

func (r *recorder) Solve(context.Context, routing.SearchParameters) (*routing.Assignment, error) {
	r.solved = true
	return nil, nil
}

func buildRecorded(t *testing.T, in *model.Instance) (*Model, *recorder) {
	t.Helper()
	m, err := Build(in, newRecorder)
	if err != nil {
		t.Fatalf("Build(%s): %v", in.Name, err)
	}
	return m, m.Solver.(*recorder)
}

func TestStageOrder(t *testing.T) {
	b, err := NewBuilder(model.TSPCities(), newRecorder)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.AttachDimensions(); !errors.Is(err, ErrStageOrder) {
		t.Fatalf("AttachDimensions before cost: %v", err)
	}
	if _, err := b.Seal(); !errors.Is(err, ErrStageOrder) {
		t.Fatalf("Seal from Empty: %v", err)
	}
	if err := b.RegisterCost(); err != nil {
		t.Fatal(err)
	}
	if err := b.RegisterCost(); !errors.Is(err, ErrStageOrder) {
		t.Fatalf("second RegisterCost: %v", err)
	}
	if err := b.AttachConstraints(); !errors.Is(err, ErrStageOrder) {
		t.Fatalf("AttachConstraints before dimensions: %v", err)
	}
	if err := b.AttachDimensions(); err != nil {
		t.Fatal(err)
	}
	if err := b.AttachConstraints(); err != nil {
		t.Fatal(err)
	}
	m, err := b.Seal()
	if err != nil || m == nil {
		t.Fatalf("Seal: %v", err)
	}
	if b.Stage() != StageSealed {
		t.Fatalf("stage=%s want Sealed", b.Stage())
	}
	if _, err := b.Seal(); !errors.Is(err, ErrStageOrder) {
		t.Fatalf("second Seal: %v", err)
	}
}

func TestUnsealedModelDoesNotSolve(t *testing.T) {
	var m Model
	if _, err := m.Solve(context.Background(), routing.DefaultSearchParameters()); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("err=%v want ErrNotSealed", err)
	}
}

func TestConstructionErrors(t *testing.T) {
	ragged := cost.Matrix{{0, 1}, {1}}
	cases := map[string]*model.Instance{
		"nil costs":       {Name: "x", NumVehicles: 1},
		"no vehicles":     {Name: "x", Costs: cost.Matrix{{0}}, NumVehicles: 0},
		"depot range":     {Name: "x", Costs: cost.Matrix{{0}}, NumVehicles: 1, Depot: 3},
		"ragged matrix":   {Name: "x", Costs: ragged, NumVehicles: 1},
		"demand length":   {Name: "x", Costs: cost.Matrix{{0, 1}, {1, 0}}, NumVehicles: 1, Demands: []int64{0}, Capacities: []int64{3}},
		"pair uses depot": {Name: "x", Costs: cost.Matrix{{0, 1}, {1, 0}}, NumVehicles: 1, Pairs: []model.PickupDelivery{{Pickup: 0, Delivery: 1}}},
	}
	for name, in := range cases {
		_, err := Build(in, newRecorder)
		var ce *ConstructionError
		if !errors.As(err, &ce) {
			t.Fatalf("%s: err=%v want *ConstructionError", name, err)
		}
		if !errors.Is(err, model.ErrInvalidInstance) {
			t.Fatalf("%s: err=%v does not wrap ErrInvalidInstance", name, err)
		}
	}
	if _, err := Build(nil, newRecorder); !errors.Is(err, model.ErrInvalidInstance) {
		t.Fatalf("nil instance: %v", err)
	}
}

func TestTSPHasNoDimensions(t *testing.T) {
	m, rec := buildRecorded(t, model.TSPCities())
	if rec.arcCB != 0 {
		t.Fatalf("arc callback=%d want 0", rec.arcCB)
	}
	if len(rec.dims) != 0 || len(m.Dimensions) != 0 {
		t.Fatalf("dims=%v want none", rec.dims)
	}
	if m.Manager.NumIndices() != 18 {
		t.Fatalf("indices=%d want 18", m.Manager.NumIndices())
	}
}

func TestGlobalSpanWiring(t *testing.T) {
	m, rec := buildRecorded(t, model.VRPGlobalSpan())
	d, ok := rec.dims[DimDistance]
	if !ok {
		t.Fatalf("no %s dimension", DimDistance)
	}
	if fmt.Sprint(d) != "[0 3000 1]" {
		t.Fatalf("distance dimension=%v want slack 0, cap 3000, starts at zero", d)
	}
	if rec.spans[DimDistance] != 100 {
		t.Fatalf("span coefficient=%d want 100", rec.spans[DimDistance])
	}
	if !m.HasDimension(DimDistance) || m.HasDimension(DimTime) {
		t.Fatalf("dimensions=%v", m.Dimensions)
	}
}

func TestCapacityWiring(t *testing.T) {
	_, rec := buildRecorded(t, model.VRPCapacity())
	if got := fmt.Sprint(rec.dims[DimCapacity]); got != "[0 15 15 15 15 1]" {
		t.Fatalf("capacity dimension=%s", got)
	}
	if len(rec.spans) != 0 {
		t.Fatalf("unexpected span cost %v", rec.spans)
	}
}

func TestPickupDeliveryWiring(t *testing.T) {
	in := model.VRPPickupDelivery()
	m, rec := buildRecorded(t, in)
	if len(rec.pickups) != len(in.Pairs) || len(rec.eqs) != len(in.Pairs) || len(rec.les) != len(in.Pairs) {
		t.Fatalf("pairs=%d eqs=%d les=%d want %d each", len(rec.pickups), len(rec.eqs), len(rec.les), len(in.Pairs))
	}
	first := in.Pairs[0]
	pi, _ := m.Manager.NodeToIndex(first.Pickup)
	di, _ := m.Manager.NodeToIndex(first.Delivery)
	if rec.pickups[0] != [2]int64{pi, di} {
		t.Fatalf("first pair=%v want [%d %d]", rec.pickups[0], pi, di)
	}
	if want := fmt.Sprintf("Distance[%d]<=Distance[%d]", pi, di); rec.les[0] != want {
		t.Fatalf("ordering=%s want %s", rec.les[0], want)
	}
	if m.OrderDimension != DimDistance || m.HasDimension(DimRank) {
		t.Fatalf("order dimension=%q dims=%v", m.OrderDimension, m.Dimensions)
	}
}

func TestZeroArcsUseRankDimension(t *testing.T) {
	in := &model.Instance{
		Name:             "co-located",
		Costs:            cost.Matrix{{0, 4, 4}, {4, 0, 0}, {4, 0, 0}},
		NumVehicles:      1,
		Pairs:            []model.PickupDelivery{{Pickup: 1, Delivery: 2}},
		MaxRouteDistance: 100,
	}
	m, rec := buildRecorded(t, in)
	if m.OrderDimension != DimRank {
		t.Fatalf("order dimension=%q want %s", m.OrderDimension, DimRank)
	}
	if got := fmt.Sprint(rec.dims[DimRank]); got != "[0 3 1]" {
		t.Fatalf("rank dimension=%s", got)
	}
	if rec.les[0] != "Rank[1]<=Rank[2]" {
		t.Fatalf("ordering=%s", rec.les[0])
	}
}

func TestTimeWindowWiring(t *testing.T) {
	in := model.VRPTimeWindows()
	m, rec := buildRecorded(t, in)
	if got := fmt.Sprint(rec.dims[DimTime]); got != "[30 30 0]" {
		t.Fatalf("time dimension=%s want slack 30, cap 30, free start", got)
	}
	r := rec.ranges[DimTime]
	// 16 visits plus one start per vehicle
	if len(r) != 16+in.NumVehicles {
		t.Fatalf("%d ranges want %d", len(r), 16+in.NumVehicles)
	}
	idx, _ := m.Manager.NodeToIndex(3)
	if r[idx] != [2]int64{16, 18} {
		t.Fatalf("node 3 window=%v want [16 18]", r[idx])
	}
	for v := 0; v < in.NumVehicles; v++ {
		if r[m.Manager.Start(v)] != [2]int64{0, 5} {
			t.Fatalf("vehicle %d start window=%v want [0 5]", v, r[m.Manager.Start(v)])
		}
		if _, ok := r[m.Manager.End(v)]; ok {
			t.Fatalf("vehicle %d end window narrowed", v)
		}
	}
	if len(rec.finalizers) != 2*in.NumVehicles {
		t.Fatalf("%d finalizer vars want %d", len(rec.finalizers), 2*in.NumVehicles)
	}
}

// solveDemo builds in over the engine and solves it without a time limit.
func solveDemo(t *testing.T, in *model.Instance, p routing.SearchParameters) (*Model, *routing.Assignment) {
	t.Helper()
	m, err := Build(in, opt.NewSolver(nil))
	if err != nil {
		t.Fatalf("Build(%s): %v", in.Name, err)
	}
	a, err := m.Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("Solve(%s): %v", in.Name, err)
	}
	if a == nil {
		t.Fatalf("Solve(%s): no solution", in.Name)
	}
	return m, a
}

func routeDistance(m *Model, route []int64) int64 {
	var d int64
	for k := 1; k < len(route); k++ {
		d += m.ArcCost(route[k-1], route[k])
	}
	return d
}

var quick = routing.SearchParameters{FirstSolution: routing.PathCheapestArc, Metaheuristic: routing.MetaheuristicNone}

func TestTSPTourIsClosed(t *testing.T) {
	m, a := solveDemo(t, model.TSPCities(), quick)
	route := a.Route(0)
	if len(route) != 18 {
		t.Fatalf("route has %d indices want 18", len(route))
	}
	seen := map[int]bool{}
	for _, idx := range route {
		seen[m.Manager.IndexToNode(idx)] = true
	}
	if len(seen) != 17 {
		t.Fatalf("tour covers %d nodes want 17", len(seen))
	}
	if got := routeDistance(m, route); got != a.ObjectiveValue() {
		t.Fatalf("objective=%d recomputed=%d", a.ObjectiveValue(), got)
	}
}

func TestGlobalSpanObjective(t *testing.T) {
	m, a := solveDemo(t, model.VRPGlobalSpan(), quick)
	var sum, longest int64
	for v := 0; v < m.Manager.NumVehicles(); v++ {
		if !a.IsVehicleUsed(v) {
			continue
		}
		d := routeDistance(m, a.Route(v))
		if d > 3000 {
			t.Fatalf("vehicle %d distance %d exceeds 3000", v, d)
		}
		if got := a.Min(DimDistance, m.Manager.End(v)); got != d {
			t.Fatalf("vehicle %d end cumul=%d want %d", v, got, d)
		}
		sum += d
		longest = max(longest, d)
	}
	if want := sum + 100*longest; a.ObjectiveValue() != want {
		t.Fatalf("objective=%d want %d", a.ObjectiveValue(), want)
	}
}

func TestCapacityLoads(t *testing.T) {
	in := model.VRPCapacity()
	m, a := solveDemo(t, in, quick)
	var total int64
	for v := 0; v < in.NumVehicles; v++ {
		var load int64
		for _, idx := range a.Route(v) {
			load += in.Demands[m.Manager.IndexToNode(idx)]
		}
		if load > in.Capacities[v] {
			t.Fatalf("vehicle %d load %d exceeds %d", v, load, in.Capacities[v])
		}
		if got := a.Min(DimCapacity, m.Manager.End(v)); got != load {
			t.Fatalf("vehicle %d end load cumul=%d want %d", v, got, load)
		}
		total += load
	}
	if total != 60 {
		t.Fatalf("total load=%d want 60", total)
	}
}

func TestPickupDeliveryOrder(t *testing.T) {
	in := model.VRPPickupDelivery()
	m, a := solveDemo(t, in, routing.SearchParameters{FirstSolution: routing.ParallelCheapestInsertion})
	for _, p := range in.Pairs {
		pi, _ := m.Manager.NodeToIndex(p.Pickup)
		di, _ := m.Manager.NodeToIndex(p.Delivery)
		if a.Vehicle(pi) < 0 || a.Vehicle(pi) != a.Vehicle(di) {
			t.Fatalf("pair %v served by vehicles %d and %d", p, a.Vehicle(pi), a.Vehicle(di))
		}
		if a.Min(DimDistance, pi) > a.Min(DimDistance, di) {
			t.Fatalf("pair %v: pickup at %d after delivery at %d", p, a.Min(DimDistance, pi), a.Min(DimDistance, di))
		}
	}
}

func TestTimeWindowsHold(t *testing.T) {
	in := model.VRPTimeWindows()
	m, a := solveDemo(t, in, quick)
	for v := 0; v < in.NumVehicles; v++ {
		for _, idx := range a.Route(v) {
			w := in.TimeWindows[m.Manager.IndexToNode(idx)]
			b, err := a.Cumul(DimTime, idx)
			if err != nil {
				t.Fatal(err)
			}
			if m.Manager.IsEnd(idx) {
				continue
			}
			if b.Min < w.Earliest || b.Max > w.Latest || b.Min > b.Max {
				t.Fatalf("vehicle %d index %d time %v outside window %v", v, idx, b, w)
			}
		}
	}
}

func TestSolveIsDeterministic(t *testing.T) {
	p := routing.SearchParameters{FirstSolution: routing.Savings, Metaheuristic: routing.GreedyDescent, Seed: 7}
	_, a := solveDemo(t, model.VRPGlobalSpan(), p)
	_, b := solveDemo(t, model.VRPGlobalSpan(), p)
	if a.ObjectiveValue() != b.ObjectiveValue() {
		t.Fatalf("objectives differ: %d vs %d", a.ObjectiveValue(), b.ObjectiveValue())
	}
	for v := 0; v < 4; v++ {
		if fmt.Sprint(a.Route(v)) != fmt.Sprint(b.Route(v)) {
			t.Fatalf("vehicle %d routes differ: %v vs %v", v, a.Route(v), b.Route(v))
		}
	}
}
