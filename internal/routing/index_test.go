package routing

import (
	"errors"
	"testing"
)

func TestIndexManagerLayout(t *testing.T) {
	m, err := NewIndexManager(17, 4, 0)
	if err != nil {
		t.Fatalf("NewIndexManager: %v", err)
	}
	if got := m.NumIndices(); got != 16+8 {
		t.Fatalf("NumIndices=%d want 24", got)
	}
	for v := 0; v < 4; v++ {
		if m.Start(v) == m.End(v) {
			t.Fatalf("vehicle %d start and end share index %d", v, m.Start(v))
		}
		if m.IndexToNode(m.Start(v)) != 0 || m.IndexToNode(m.End(v)) != 0 {
			t.Fatalf("vehicle %d tokens should resolve to the depot", v)
		}
		if m.VehicleOfStart(m.Start(v)) != v || m.VehicleOfEnd(m.End(v)) != v {
			t.Fatalf("vehicle %d round trip through start/end failed", v)
		}
	}
	if _, err := m.NodeToIndex(0); !errors.Is(err, ErrAmbiguousDepot) {
		t.Fatalf("depot NodeToIndex err=%v want ErrAmbiguousDepot", err)
	}
	if m.IndexToNode(m.NumIndices()) != -1 || m.IndexToNode(-1) != -1 {
		t.Fatal("out of range index should map to -1")
	}
}

func TestIndexManagerBijection(t *testing.T) {
	cases := []struct{ nodes, vehicles, depot int }{
		{1, 1, 0},
		{2, 1, 0},
		{17, 1, 0},
		{17, 4, 0},
		{6, 3, 2},
		{5, 2, 4},
	}
	for _, tc := range cases {
		m, err := NewIndexManager(tc.nodes, tc.vehicles, tc.depot)
		if err != nil {
			t.Fatalf("%+v: %v", tc, err)
		}
		seen := map[int64]bool{}
		for n := 0; n < tc.nodes; n++ {
			roles := []Role{Visit}
			if n == tc.depot {
				roles = nil
				for v := 0; v < tc.vehicles; v++ {
					roles = append(roles, StartOf(v), EndOf(v))
				}
			}
			for _, r := range roles {
				idx, err := m.IndexOf(n, r)
				if err != nil {
					t.Fatalf("%+v IndexOf(%d,%s): %v", tc, n, r, err)
				}
				if got := m.IndexToNode(idx); got != n {
					t.Fatalf("%+v IndexToNode(IndexOf(%d,%s))=%d", tc, n, r, got)
				}
				if seen[idx] {
					t.Fatalf("%+v index %d produced twice", tc, idx)
				}
				seen[idx] = true
			}
		}
		if int64(len(seen)) != m.NumIndices() {
			t.Fatalf("%+v covered %d of %d indices", tc, len(seen), m.NumIndices())
		}
	}
}

func TestIndexManagerErrors(t *testing.T) {
	if _, err := NewIndexManager(0, 1, 0); !errors.Is(err, ErrNodeOutOfRange) {
		t.Fatalf("zero nodes: %v", err)
	}
	if _, err := NewIndexManager(3, 0, 0); !errors.Is(err, ErrVehicleOutOfRange) {
		t.Fatalf("zero vehicles: %v", err)
	}
	if _, err := NewIndexManager(3, 1, 3); !errors.Is(err, ErrNodeOutOfRange) {
		t.Fatalf("depot out of range: %v", err)
	}
	m, _ := NewIndexManager(4, 2, 0)
	if _, err := m.IndexOf(1, StartOf(0)); !errors.Is(err, ErrRoleMismatch) {
		t.Fatalf("start role on non-depot: %v", err)
	}
	if _, err := m.IndexOf(0, EndOf(2)); !errors.Is(err, ErrVehicleOutOfRange) {
		t.Fatalf("end of missing vehicle: %v", err)
	}
	if _, err := m.NodeToIndex(9); !errors.Is(err, ErrNodeOutOfRange) {
		t.Fatalf("node out of range: %v", err)
	}
}

func TestAssignmentRoutes(t *testing.T) {
	m, _ := NewIndexManager(4, 2, 0)
	// visits: node1=2 node2=3 node3=4, ends 5,6
	a, err := NewAssignment(m, [][]int64{{3, 2}, nil}, 42, map[string][]Bounds{
		"Distance": make([]Bounds, m.NumIndices()),
	})
	if err != nil {
		t.Fatalf("NewAssignment: %v", err)
	}
	if !a.IsVehicleUsed(0) || a.IsVehicleUsed(1) {
		t.Fatal("vehicle use flags wrong")
	}
	got := a.Route(0)
	want := []int64{0, 3, 2, 5}
	if len(got) != len(want) {
		t.Fatalf("route=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("route=%v want %v", got, want)
		}
	}
	if a.Next(4) != 4 || a.Vehicle(4) != -1 {
		t.Fatal("unvisited index should be unperformed")
	}
	if a.ObjectiveValue() != 42 {
		t.Fatalf("objective=%d", a.ObjectiveValue())
	}
	if _, err := a.Cumul("Time", 0); !errors.Is(err, ErrUnknownDimension) {
		t.Fatalf("unknown dimension: %v", err)
	}
	if _, err := NewAssignment(m, [][]int64{{2, 2}, nil}, 0, nil); !errors.Is(err, ErrBadRoutes) {
		t.Fatalf("duplicate visit: %v", err)
	}
	if _, err := NewAssignment(m, [][]int64{{5}, nil}, 0, nil); !errors.Is(err, ErrBadRoutes) {
		t.Fatalf("end index as visit: %v", err)
	}
}

func TestParseStrategies(t *testing.T) {
	for _, s := range FirstSolutionStrategies() {
		got, err := ParseFirstSolutionStrategy(s.String())
		if err != nil || got != s {
			t.Fatalf("parse %s: got %v err %v", s, got, err)
		}
	}
	if s, err := ParseFirstSolutionStrategy("path-cheapest-arc"); err != nil || s != PathCheapestArc {
		t.Fatalf("lenient parse: %v %v", s, err)
	}
	for _, m := range Metaheuristics() {
		got, err := ParseMetaheuristic(m.String())
		if err != nil || got != m {
			t.Fatalf("parse %s: got %v err %v", m, got, err)
		}
	}
	if m, err := ParseMetaheuristic(""); err != nil || m != MetaheuristicNone {
		t.Fatalf("empty metaheuristic: %v %v", m, err)
	}
	if _, err := ParseMetaheuristic("hill_climb"); err == nil {
		t.Fatal("expected error for unknown metaheuristic")
	}
	if len(FirstSolutionStrategies()) != 14 || len(Metaheuristics()) != 7 {
		t.Fatal("unexpected enum sizes")
	}
}
