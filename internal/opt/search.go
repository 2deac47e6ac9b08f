package opt

import (
	"math"

	"vrpbench/internal/routing"
)

// Without a time limit the open-ended metaheuristics stop after this many iterations.
const unboundedIterations = 400

type move struct {
	sol *solution
	vs  []int
}

func (s *search) improve(sol *solution, mh routing.Metaheuristic, limit int) *solution {
	switch mh {
	case routing.GuidedLocalSearch:
		return s.guided(sol, limit)
	case routing.SimulatedAnnealing:
		return s.anneal(sol, limit)
	case routing.TabuSearch:
		return s.tabu(sol, limit, false)
	case routing.GenericTabuSearch:
		return s.tabu(sol, limit, true)
	default:
		return s.descend(sol, limit)
	}
}

// stop reports whether an open-ended search should end at iteration it.
func (s *search) stop(it, improvements, limit int) bool {
	if s.expired() {
		return true
	}
	if limit > 0 && improvements >= limit {
		return true
	}
	return s.deadline.IsZero() && it >= unboundedIterations
}

func without(route []int64, i int) []int64 {
	out := make([]int64, 0, len(route)-1)
	out = append(out, route[:i]...)
	return append(out, route[i+1:]...)
}

func withoutAll(route []int64, drop map[int64]bool) []int64 {
	out := make([]int64, 0, len(route))
	for _, x := range route {
		if !drop[x] {
			out = append(out, x)
		}
	}
	return out
}

// neighbors enumerates relocate, pair relocate, exchange, 2-opt and 2-opt*
// moves of sol in a fixed order. visit returns false to stop early.
func (s *search) neighbors(sol *solution, visit func(move) bool) {
	e := s.e
	nv := len(sol.routes)
	try := func(next *solution, vs ...int) bool {
		if next == nil {
			return true
		}
		return visit(move{sol: next, vs: vs})
	}

	// relocate a single visit
	for v := 0; v < nv; v++ {
		for i, x := range sol.routes[v] {
			paired := e.pairOf[x] >= 0
			rest := without(sol.routes[v], i)
			for w := 0; w < nv; w++ {
				if paired && w != v {
					continue
				}
				if w == v {
					for j := 0; j <= len(rest); j++ {
						if j == i {
							continue
						}
						if !try(e.withRoute(sol, v, insertAt(rest, []int64{x}, j, 0)), v) {
							return
						}
					}
					continue
				}
				for j := 0; j <= len(sol.routes[w]); j++ {
					if !try(e.withRoutes(sol, v, rest, w, insertAt(sol.routes[w], []int64{x}, j, 0)), v, w) {
						return
					}
				}
			}
		}
	}

	// move a whole pickup and delivery pair to another vehicle
	for v := 0; v < nv; v++ {
		for _, p := range e.pairs {
			if !contains(sol.routes[v], p[0]) {
				continue
			}
			rest := withoutAll(sol.routes[v], map[int64]bool{p[0]: true, p[1]: true})
			for w := 0; w < nv; w++ {
				if w == v {
					continue
				}
				route := sol.routes[w]
				for i := 0; i <= len(route); i++ {
					for j := i + 1; j <= len(route)+1; j++ {
						if !try(e.withRoutes(sol, v, rest, w, insertAt(route, []int64{p[0], p[1]}, i, j)), v, w) {
							return
						}
					}
				}
			}
		}
	}

	// exchange two visits
	for v := 0; v < nv; v++ {
		for i, x := range sol.routes[v] {
			for w := v; w < nv; w++ {
				for j, y := range sol.routes[w] {
					if w == v && j <= i {
						continue
					}
					if w != v && (e.pairOf[x] >= 0 || e.pairOf[y] >= 0) {
						continue
					}
					if w == v {
						r := append([]int64(nil), sol.routes[v]...)
						r[i], r[j] = r[j], r[i]
						if !try(e.withRoute(sol, v, r), v) {
							return
						}
						continue
					}
					ra := append([]int64(nil), sol.routes[v]...)
					rb := append([]int64(nil), sol.routes[w]...)
					ra[i], rb[j] = y, x
					if !try(e.withRoutes(sol, v, ra, w, rb), v, w) {
						return
					}
				}
			}
		}
	}

	// 2-opt: reverse a segment inside one route
	for v := 0; v < nv; v++ {
		route := sol.routes[v]
		for i := 0; i < len(route)-1; i++ {
			for k := i + 1; k < len(route); k++ {
				r := append([]int64(nil), route...)
				for a, b := i, k; a < b; a, b = a+1, b-1 {
					r[a], r[b] = r[b], r[a]
				}
				if !try(e.withRoute(sol, v, r), v) {
					return
				}
			}
		}
	}

	// 2-opt*: swap route tails between two vehicles
	for v := 0; v < nv; v++ {
		for w := v + 1; w < nv; w++ {
			a, b := sol.routes[v], sol.routes[w]
			for i := 0; i <= len(a); i++ {
				for j := 0; j <= len(b); j++ {
					if (i == len(a) && j == len(b)) || (i == 0 && j == 0) {
						continue
					}
					ra := append(append([]int64(nil), a[:i]...), b[j:]...)
					rb := append(append([]int64(nil), b[:j]...), a[i:]...)
					if !try(e.withRoutes(sol, v, ra, w, rb), v, w) {
						return
					}
				}
			}
		}
	}
}

func contains(route []int64, idx int64) bool {
	for _, x := range route {
		if x == idx {
			return true
		}
	}
	return false
}

// descend applies the first improving move until none is left.
func (s *search) descend(sol *solution, limit int) *solution {
	st := &s.e.stats
	for !s.expired() {
		improved := false
		s.neighbors(sol, func(m move) bool {
			if m.sol.obj < sol.obj {
				sol = m.sol
				improved = true
				return false
			}
			return true
		})
		st.Iterations++
		if !improved {
			break
		}
		st.Improvements++
		if limit > 0 && st.Improvements >= limit {
			break
		}
	}
	return sol
}

type arcKey [2]int64

// arcs lists the arcs of the given vehicles' paths.
func (e *Engine) arcs(sol *solution, vs []int) []arcKey {
	var out []arcKey
	for _, v := range vs {
		if len(sol.routes[v]) == 0 {
			continue
		}
		p := e.path(v, sol.routes[v])
		for k := 0; k+1 < len(p); k++ {
			out = append(out, arcKey{p[k], p[k+1]})
		}
	}
	return out
}

func allVehicles(sol *solution) []int {
	vs := make([]int, len(sol.routes))
	for v := range vs {
		vs[v] = v
	}
	return vs
}

// arcDiff returns the arcs of vs present in next but not in prev, and the reverse.
func (e *Engine) arcDiff(prev, next *solution, vs []int) (added, removed []arcKey) {
	before := map[arcKey]bool{}
	for _, a := range e.arcs(prev, vs) {
		before[a] = true
	}
	after := map[arcKey]bool{}
	for _, a := range e.arcs(next, vs) {
		after[a] = true
		if !before[a] {
			added = append(added, a)
		}
	}
	for a := range before {
		if !after[a] {
			removed = append(removed, a)
		}
	}
	return added, removed
}

// guided runs guided local search: descent on the objective augmented with
// arc penalties; at each local optimum the arcs of highest utility
// cost/(1+penalty) get penalized.
func (s *search) guided(sol *solution, limit int) *solution {
	e := s.e
	st := &e.stats
	best := sol
	penalty := map[arcKey]int64{}
	numArcs := int64(len(e.m.Visits()) + e.m.NumVehicles())
	lambda := max(1, sol.obj/(10*max(1, numArcs)))
	augmented := func(x *solution) int64 {
		total := x.obj
		for _, a := range e.arcs(x, allVehicles(x)) {
			total += lambda * penalty[a]
		}
		return total
	}
	cur, curAug := sol, augmented(sol)
	for it := 0; !s.stop(it, st.Improvements, limit); it++ {
		st.Iterations++
		moved := false
		s.neighbors(cur, func(m move) bool {
			if s.expired() {
				return false
			}
			if aug := augmented(m.sol); aug < curAug {
				cur, curAug, moved = m.sol, aug, true
				return false
			}
			return true
		})
		if cur.obj < best.obj {
			best = cur
			st.Improvements++
		}
		if moved {
			continue
		}
		var top []arcKey
		var topUtil float64 = -1
		for _, a := range e.arcs(cur, allVehicles(cur)) {
			u := float64(e.arcCost(a[0], a[1])) / float64(1+penalty[a])
			switch {
			case u > topUtil:
				top, topUtil = []arcKey{a}, u
			case u == topUtil:
				top = append(top, a)
			}
		}
		if len(top) == 0 {
			break
		}
		for _, a := range top {
			penalty[a]++
		}
		curAug = augmented(cur)
	}
	return best
}

// tabu runs tabu search. The plain variant forbids moving a recently moved
// visit; the generic variant forbids re-adding a recently removed arc. A
// tabu move is still taken when it beats the best solution, and when every
// move is tabu the one whose tenure ends first is taken.
func (s *search) tabu(sol *solution, limit int, generic bool) *solution {
	e := s.e
	st := &e.stats
	tenure := max(7, len(e.m.Visits())/2)
	nodeTabu := map[int64]int{}
	arcTabu := map[arcKey]int{}
	best, cur := sol, sol
	for it := 0; !s.stop(it, st.Improvements, limit); it++ {
		st.Iterations++
		var pick, oldest *move
		oldestUntil := 0
		s.neighbors(cur, func(m move) bool {
			if s.expired() {
				return false
			}
			if pick != nil && m.sol.obj >= pick.sol.obj {
				return true
			}
			if m.sol.obj >= best.obj {
				until := 0
				added, _ := e.arcDiff(cur, m.sol, m.vs)
				for _, a := range added {
					if generic {
						until = max(until, arcTabu[a])
					} else if e.m.IsVisit(a[1]) {
						until = max(until, nodeTabu[a[1]])
					}
				}
				if until > it {
					if oldest == nil || until < oldestUntil || (until == oldestUntil && m.sol.obj < oldest.sol.obj) {
						mm := m
						oldest, oldestUntil = &mm, until
					}
					return true
				}
			}
			mm := m
			pick = &mm
			return true
		})
		if pick == nil {
			pick = oldest
		}
		if pick == nil {
			break
		}
		added, removed := e.arcDiff(cur, pick.sol, pick.vs)
		if generic {
			for _, a := range removed {
				arcTabu[a] = it + tenure
			}
		} else {
			for _, a := range added {
				if e.m.IsVisit(a[1]) {
					nodeTabu[a[1]] = it + tenure
				}
			}
		}
		if pick.sol.obj > cur.obj {
			st.AcceptedWorse++
		}
		cur = pick.sol
		if cur.obj < best.obj {
			best = cur
			st.Improvements++
		}
	}
	return best
}

func expNeg(delta, temp float64) float64 {
	if temp <= 0 {
		return 0
	}
	return math.Exp(-delta / temp)
}
