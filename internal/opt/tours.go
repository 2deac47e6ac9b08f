package opt

import (
	"sort"

	"github.com/lvlath/go/matrix"
	"github.com/lvlath/go/tsp"
)

type saving struct {
	from, to int64
	value    int64
}

// savings is the sequential Clarke-Wright heuristic: each vehicle starts
// from the best saving pair still free and grows at either end while the
// route stays feasible.
func (s *search) savings() *solution {
	e := s.e
	visits := e.m.Visits()
	start, end := e.m.Start(0), e.m.End(0)
	var list []saving
	for _, i := range visits {
		for _, j := range visits {
			if i == j {
				continue
			}
			list = append(list, saving{i, j, e.arcCost(i, end) + e.arcCost(start, j) - e.arcCost(i, j)})
		}
	}
	sort.SliceStable(list, func(a, b int) bool { return list[a].value > list[b].value })

	sol := e.emptySolution()
	placed := make([]bool, e.m.NumIndices())
	for v := 0; v < e.m.NumVehicles() && !e.complete(sol); v++ {
		for grown := true; grown; {
			grown = false
			route := sol.routes[v]
			for _, sv := range list {
				var r []int64
				switch {
				case len(route) == 0 && !placed[sv.from] && !placed[sv.to]:
					r = []int64{sv.from, sv.to}
				case len(route) > 0 && route[len(route)-1] == sv.from && !placed[sv.to]:
					r = append(append([]int64(nil), route...), sv.to)
				case len(route) > 0 && route[0] == sv.to && !placed[sv.from]:
					r = append([]int64{sv.from}, route...)
				default:
					continue
				}
				if next := e.withRoute(sol, v, r); next != nil {
					sol = next
					for _, idx := range r {
						placed[idx] = true
					}
					grown = true
					break
				}
			}
		}
		if len(sol.routes[v]) == 0 {
			var best *solution
			var bestIdx int64 = -1
			for _, idx := range visits {
				if placed[idx] {
					continue
				}
				if next := e.withRoute(sol, v, []int64{idx}); next != nil && (best == nil || next.obj < best.obj) {
					best, bestIdx = next, idx
				}
			}
			if best == nil {
				continue
			}
			sol = best
			placed[bestIdx] = true
		}
		sol = s.closeRoute(sol, v, placed)
	}
	return sol
}

// symmetricCost is the cheaper direction of an arc between two nodes.
func (e *Engine) symmetricCost(a, b int64) int64 {
	return min(e.arcCost(a, b), e.arcCost(b, a))
}

// christofidesTour returns the visits in the order of a Christofides tour
// from the depot over the symmetric closure of the arc costs. The exact
// blossom matching is tried first and the greedy matching covers inputs it
// rejects.
func (s *search) christofidesTour() []int64 {
	e := s.e
	verts := append([]int64{e.m.Start(0)}, e.m.Visits()...)
	n := len(verts)
	if n <= 2 {
		return verts[1:]
	}
	dist, err := matrix.NewDense(n, n)
	if err != nil {
		e.logf("[ENGINE] christofides matrix: %v", err)
		return verts[1:]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if err := dist.Set(i, j, float64(e.symmetricCost(verts[i], verts[j]))); err != nil {
				e.logf("[ENGINE] christofides matrix: %v", err)
				return verts[1:]
			}
		}
	}
	opts := tsp.DefaultOptions()
	opts.EnableLocalSearch = false
	res, err := tsp.SolveMatrix(dist, nil, opts)
	if err != nil {
		opts.MatchingAlgo = tsp.GreedyMatch
		res, err = tsp.SolveMatrix(dist, nil, opts)
	}
	if err != nil || len(res.Tour) != n+1 {
		e.logf("[ENGINE] christofides fell back to index order: %v", err)
		return verts[1:]
	}
	tour := make([]int64, 0, n-1)
	for _, v := range res.Tour[1:n] {
		tour = append(tour, verts[v])
	}
	return tour
}

// greedyArcTour links the cheapest arcs into chains (no vertex gets two
// successors or two predecessors, no cycles), then concatenates the chains
// starting from the one nearest the depot.
func (s *search) greedyArcTour() []int64 {
	e := s.e
	visits := e.m.Visits()
	type arc struct {
		from, to int64
		cost     int64
	}
	var arcs []arc
	for _, i := range visits {
		for _, j := range visits {
			if i != j {
				arcs = append(arcs, arc{i, j, e.arcCost(i, j)})
			}
		}
	}
	sort.SliceStable(arcs, func(a, b int) bool { return arcs[a].cost < arcs[b].cost })
	succ := map[int64]int64{}
	pred := map[int64]int64{}
	head := func(x int64) int64 {
		for {
			p, ok := pred[x]
			if !ok {
				return x
			}
			x = p
		}
	}
	for _, a := range arcs {
		if _, ok := succ[a.from]; ok {
			continue
		}
		if _, ok := pred[a.to]; ok {
			continue
		}
		if head(a.from) == a.to {
			continue
		}
		succ[a.from] = a.to
		pred[a.to] = a.from
	}
	var chains [][]int64
	for _, idx := range visits {
		if _, ok := pred[idx]; ok {
			continue
		}
		chain := []int64{idx}
		for x := idx; ; {
			nx, ok := succ[x]
			if !ok {
				break
			}
			chain = append(chain, nx)
			x = nx
		}
		chains = append(chains, chain)
	}
	var tour []int64
	cur := e.m.Start(0)
	used := make([]bool, len(chains))
	for range chains {
		bi := -1
		for i, c := range chains {
			if !used[i] && (bi < 0 || e.arcCost(cur, c[0]) < e.arcCost(cur, chains[bi][0])) {
				bi = i
			}
		}
		used[bi] = true
		tour = append(tour, chains[bi]...)
		cur = chains[bi][len(chains[bi])-1]
	}
	return tour
}
