package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"vrpbench/internal/routing"
)

// restartLimit bounds the randomized attempts made to complete a partial first solution.
const restartLimit = 200

type search struct {
	ctx      context.Context
	e        *Engine
	rng      *rand.Rand
	deadline time.Time
}

func newSearch(ctx context.Context, e *Engine, seed int64, deadline time.Time) *search {
	return &search{ctx: ctx, e: e, rng: rand.New(rand.NewSource(seed)), deadline: deadline}
}

func (s *search) expired() bool {
	if s.ctx.Err() != nil {
		return true
	}
	return !s.deadline.IsZero() && time.Now().After(s.deadline)
}

func (s *search) construct(fs routing.FirstSolutionStrategy) (*solution, error) {
	e := s.e
	var sol *solution
	switch fs {
	case routing.Automatic:
		if len(e.pairs) > 0 || e.hasNarrowedDimension() {
			sol = s.parallelInsertion()
		} else {
			sol = s.pathBuild(s.cheapestNext)
		}
	case routing.PathCheapestArc:
		sol = s.pathBuild(s.cheapestNext)
	case routing.PathMostConstrainedArc:
		sol = s.pathBuild(s.mostConstrainedNext)
	case routing.LocalCheapestArc:
		sol = s.indexOrderBuild(s.cheapestNext)
	case routing.FirstUnboundMinValue:
		sol = s.indexOrderBuild(firstNext)
	case routing.Savings:
		sol = s.savings()
	case routing.Christofides:
		sol = s.splitTour(s.christofidesTour())
	case routing.GlobalCheapestArc:
		sol = s.splitTour(s.greedyArcTour())
	case routing.BestInsertion:
		sol = s.bestInsertion()
	case routing.ParallelCheapestInsertion:
		sol = s.parallelInsertion()
	case routing.LocalCheapestInsertion:
		sol = s.localInsertion()
	case routing.AllUnperformed:
		sol = e.emptySolution()
		if e.complete(sol) {
			return sol, nil
		}
		return nil, nil
	case routing.EvaluatorStrategy, routing.Sweep:
		return nil, fmt.Errorf("%s: %w", fs, ErrUnsupportedStrategy)
	default:
		return nil, fmt.Errorf("first solution strategy %s: %w", fs, ErrUnsupportedStrategy)
	}
	return s.completeSolution(sol), nil
}

func (e *Engine) hasNarrowedDimension() bool {
	for _, d := range e.dims {
		if d.narrowed {
			return true
		}
	}
	return false
}

// units groups visits that must be inserted together: pickup and delivery
// pairs, then single visits, in index order.
func (e *Engine) units() [][]int64 {
	var out [][]int64
	for _, p := range e.pairs {
		out = append(out, []int64{p[0], p[1]})
	}
	for _, idx := range e.m.Visits() {
		if e.pairOf[idx] < 0 {
			out = append(out, []int64{idx})
		}
	}
	return out
}

func (e *Engine) missingUnits(sol *solution) [][]int64 {
	placed := make([]bool, e.m.NumIndices())
	for _, r := range sol.routes {
		for _, idx := range r {
			placed[idx] = true
		}
	}
	var out [][]int64
	for _, u := range e.units() {
		var rest []int64
		for _, idx := range u {
			if !placed[idx] {
				rest = append(rest, idx)
			}
		}
		if len(rest) > 0 {
			out = append(out, rest)
		}
	}
	return out
}

// completeSolution inserts whatever the strategy left out: regret insertion
// into the partial solution, then regret insertion from scratch, then
// seeded random restarts.
func (s *search) completeSolution(sol *solution) *solution {
	e := s.e
	if sol == nil {
		sol = e.emptySolution()
	}
	if e.complete(sol) {
		return sol
	}
	if out := s.regretInsert(sol, e.missingUnits(sol)); e.complete(out) {
		return out
	}
	units := e.units()
	if out := s.regretInsert(e.emptySolution(), units); e.complete(out) {
		return out
	}
	for attempt := 0; attempt < restartLimit; attempt++ {
		if attempt > 0 && s.expired() {
			break
		}
		order := append([][]int64(nil), units...)
		s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		cur := e.emptySolution()
		for _, u := range order {
			best, _, ok := s.bestPlacement(cur, u, byObjective)
			if !ok {
				cur = nil
				break
			}
			cur = best.sol
		}
		if cur != nil && e.complete(cur) {
			return cur
		}
	}
	return nil
}

type measure int

const (
	byObjective measure = iota
	byArcCost
)

type placement struct {
	sol   *solution
	v     int
	delta int64
}

// insertAt returns route with unit spliced in: a single visit at i, or a
// pair with the pickup at i and the delivery at j of the grown route.
func insertAt(route []int64, unit []int64, i, j int) []int64 {
	out := make([]int64, 0, len(route)+len(unit))
	out = append(out, route[:i]...)
	out = append(out, unit[0])
	out = append(out, route[i:]...)
	if len(unit) == 2 {
		tail := append([]int64(nil), out[j:]...)
		out = append(append(out[:j], unit[1]), tail...)
	}
	return out
}

// placementsFor enumerates every feasible position of unit in vehicle v's route.
func (s *search) placementsFor(sol *solution, v int, unit []int64, m measure, visit func(placement)) {
	e := s.e
	route := sol.routes[v]
	for i := 0; i <= len(route); i++ {
		jFrom, jTo := 0, 0
		if len(unit) == 2 {
			jFrom, jTo = i+1, len(route)+1
		}
		for j := jFrom; j <= jTo; j++ {
			next := e.withRoute(sol, v, insertAt(route, unit, i, j))
			if next == nil {
				continue
			}
			p := placement{sol: next, v: v}
			if m == byArcCost {
				p.delta = next.states[v].arc - sol.states[v].arc
			} else {
				p.delta = next.obj - sol.obj
			}
			visit(p)
		}
	}
}

// bestPlacement returns the cheapest placement of unit and the cheapest
// one on a different vehicle, for regret computations.
func (s *search) bestPlacement(sol *solution, unit []int64, m measure) (best, second placement, ok bool) {
	best.delta, second.delta = math.MaxInt64, math.MaxInt64
	perVehicle := make([]int64, len(sol.routes))
	for v := range sol.routes {
		perVehicle[v] = math.MaxInt64
		s.placementsFor(sol, v, unit, m, func(p placement) {
			if p.delta < perVehicle[v] {
				perVehicle[v] = p.delta
			}
			if p.delta < best.delta {
				best = p
				ok = true
			}
		})
	}
	for v, d := range perVehicle {
		if ok && v != best.v && d < second.delta {
			second = placement{v: v, delta: d}
		}
	}
	return best, second, ok
}

// regretInsert is regret-2 insertion: the unit whose best and second best
// vehicle differ most goes first. Units with a single option have infinite regret.
func (s *search) regretInsert(sol *solution, units [][]int64) *solution {
	pending := append([][]int64(nil), units...)
	for len(pending) > 0 {
		bestUnit := -1
		var bestP placement
		var bestRegret int64 = -1
		for ui, u := range pending {
			b, sec, ok := s.bestPlacement(sol, u, byObjective)
			if !ok {
				continue
			}
			regret := int64(math.MaxInt64)
			if sec.delta != math.MaxInt64 {
				regret = sec.delta - b.delta
			}
			if regret > bestRegret || (regret == bestRegret && b.delta < bestP.delta) {
				bestUnit, bestP, bestRegret = ui, b, regret
			}
		}
		if bestUnit < 0 {
			return sol
		}
		sol = bestP.sol
		pending = append(pending[:bestUnit], pending[bestUnit+1:]...)
	}
	return sol
}

// greedyInsert repeatedly inserts the globally cheapest unit.
func (s *search) greedyInsert(sol *solution, units [][]int64, m measure) *solution {
	pending := append([][]int64(nil), units...)
	for len(pending) > 0 {
		bestUnit := -1
		var bestP placement
		for ui, u := range pending {
			b, _, ok := s.bestPlacement(sol, u, m)
			if ok && (bestUnit < 0 || b.delta < bestP.delta) {
				bestUnit, bestP = ui, b
			}
		}
		if bestUnit < 0 {
			return sol
		}
		sol = bestP.sol
		pending = append(pending[:bestUnit], pending[bestUnit+1:]...)
	}
	return sol
}

// bestInsertion ranks insertions by their effect on the full objective, span cost included.
func (s *search) bestInsertion() *solution {
	return s.greedyInsert(s.e.emptySolution(), s.e.units(), byObjective)
}

// parallelInsertion ranks insertions by arc cost across all routes at once.
func (s *search) parallelInsertion() *solution {
	return s.greedyInsert(s.e.emptySolution(), s.e.units(), byArcCost)
}

// localInsertion inserts units one at a time, farthest from the depot
// first, each at its cheapest position.
func (s *search) localInsertion() *solution {
	e := s.e
	units := e.units()
	start := e.m.Start(0)
	far := func(u []int64) int64 {
		var d int64
		for _, idx := range u {
			d = max(d, e.arcCost(start, idx))
		}
		return d
	}
	sort.SliceStable(units, func(i, j int) bool { return far(units[i]) > far(units[j]) })
	sol := e.emptySolution()
	for _, u := range units {
		if b, _, ok := s.bestPlacement(sol, u, byArcCost); ok {
			sol = b.sol
		}
	}
	return sol
}

type candidate struct {
	idx int64
	sol *solution
	arc int64
}

// picker chooses the successor among feasible candidates.
type picker func(sol *solution, v int, cands []candidate) int

func (s *search) cheapestNext(_ *solution, _ int, cands []candidate) int {
	best := 0
	for i, c := range cands {
		if c.arc < cands[best].arc {
			best = i
		}
	}
	return best
}

func firstNext(_ *solution, _ int, cands []candidate) int {
	best := 0
	for i, c := range cands {
		if c.idx < cands[best].idx {
			best = i
		}
	}
	return best
}

// mostConstrainedNext prefers the candidate with the fewest feasible
// successors left, then the cheapest arc.
func (s *search) mostConstrainedNext(_ *solution, v int, cands []candidate) int {
	best, bestOptions := 0, math.MaxInt
	for i, c := range cands {
		options := 0
		for _, other := range cands {
			if other.idx == c.idx {
				continue
			}
			r := append(append([]int64(nil), c.sol.routes[v]...), other.idx)
			if s.e.evalRoute(v, r).ok {
				options++
			}
		}
		if options < bestOptions || (options == bestOptions && c.arc < cands[best].arc) {
			best, bestOptions = i, options
		}
	}
	return best
}

// admissible reports whether idx may be appended to route: a delivery
// needs its pickup already on the route.
func (e *Engine) admissible(route []int64, idx int64) bool {
	p := e.pairOf[idx]
	if p < 0 || e.pairs[p][0] == idx {
		return true
	}
	for _, r := range route {
		if r == e.pairs[p][0] {
			return true
		}
	}
	return false
}

// extensions lists the feasible one-visit extensions of vehicle v's route.
func (s *search) extensions(sol *solution, v int, placed []bool) []candidate {
	e := s.e
	route := sol.routes[v]
	last := e.m.Start(v)
	if len(route) > 0 {
		last = route[len(route)-1]
	}
	var out []candidate
	for _, idx := range e.m.Visits() {
		if placed[idx] || !e.admissible(route, idx) {
			continue
		}
		r := append(append(make([]int64, 0, len(route)+1), route...), idx)
		next := e.withRoute(sol, v, r)
		if next == nil {
			continue
		}
		out = append(out, candidate{idx: idx, sol: next, arc: e.arcCost(last, idx)})
	}
	return out
}

// closeRoute settles open pairs on vehicle v: missing partners are
// inserted at their cheapest position, or the stranded visit is dropped.
func (s *search) closeRoute(sol *solution, v int, placed []bool) *solution {
	e := s.e
	if len(e.pairs) == 0 {
		return sol
	}
	for _, idx := range append([]int64(nil), sol.routes[v]...) {
		p := e.pairOf[idx]
		if p < 0 {
			continue
		}
		partner := e.pairs[p][0]
		if partner == idx {
			partner = e.pairs[p][1]
		}
		if placed[partner] {
			continue
		}
		best := (*solution)(nil)
		route := sol.routes[v]
		for i := 0; i <= len(route); i++ {
			r := insertAt(route, []int64{partner}, i, 0)
			if next := e.withRoute(sol, v, r); next != nil && (best == nil || next.obj < best.obj) {
				best = next
			}
		}
		if best != nil {
			sol = best
			placed[partner] = true
			continue
		}
		var r []int64
		for _, x := range sol.routes[v] {
			if x != idx {
				r = append(r, x)
			}
		}
		if next := e.withRoute(sol, v, r); next != nil {
			sol = next
			placed[idx] = false
		}
	}
	return sol
}

// pathBuild extends one vehicle at a time from its start, picking the
// successor with pick, until nothing more fits.
func (s *search) pathBuild(pick picker) *solution {
	e := s.e
	sol := e.emptySolution()
	placed := make([]bool, e.m.NumIndices())
	for v := 0; v < e.m.NumVehicles(); v++ {
		for {
			cands := s.extensions(sol, v, placed)
			if len(cands) == 0 {
				break
			}
			c := cands[pick(sol, v, cands)]
			sol = c.sol
			placed[c.idx] = true
		}
		sol = s.closeRoute(sol, v, placed)
		if e.complete(sol) {
			break
		}
	}
	return sol
}

// indexOrderBuild scans solver indices in order and extends the route whose
// tail is the first index with an unbound successor.
func (s *search) indexOrderBuild(pick picker) *solution {
	e := s.e
	sol := e.emptySolution()
	placed := make([]bool, e.m.NumIndices())
	closed := make([]bool, e.m.NumVehicles())
	tailOwner := func(idx int64) int {
		for v, r := range sol.routes {
			if closed[v] {
				continue
			}
			if len(r) == 0 && idx == e.m.Start(v) {
				return v
			}
			if len(r) > 0 && r[len(r)-1] == idx {
				return v
			}
		}
		return -1
	}
	for progress := true; progress; {
		progress = false
		for idx := int64(0); idx < e.m.NumIndices(); idx++ {
			v := tailOwner(idx)
			if v < 0 {
				continue
			}
			cands := s.extensions(sol, v, placed)
			if len(cands) == 0 {
				sol = s.closeRoute(sol, v, placed)
				closed[v] = true
				continue
			}
			c := cands[pick(sol, v, cands)]
			sol = c.sol
			placed[c.idx] = true
			progress = true
		}
	}
	return sol
}

// splitTour cuts a giant tour of visits into consecutive vehicle routes.
// Visits that cannot be appended yet are left for completion.
func (s *search) splitTour(tour []int64) *solution {
	e := s.e
	sol := e.emptySolution()
	placed := make([]bool, e.m.NumIndices())
	v := 0
	for _, idx := range tour {
		if v >= e.m.NumVehicles() {
			break
		}
		if !e.admissible(sol.routes[v], idx) {
			continue
		}
		r := append(append([]int64(nil), sol.routes[v]...), idx)
		if next := e.withRoute(sol, v, r); next != nil {
			sol = next
			placed[idx] = true
			continue
		}
		sol = s.closeRoute(sol, v, placed)
		v++
		if v >= e.m.NumVehicles() {
			break
		}
		r = []int64{idx}
		if e.admissible(nil, idx) {
			if next := e.withRoute(sol, v, r); next != nil {
				sol = next
				placed[idx] = true
			}
		}
	}
	if v < e.m.NumVehicles() {
		sol = s.closeRoute(sol, v, placed)
	}
	return sol
}
