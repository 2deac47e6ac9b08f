package opt

import (
	"math"

	"vrpbench/internal/routing"
)

// routeState caches the evaluation of one vehicle route. cumuls holds, per
// dimension, the propagated bounds for the path start, visits..., end.
type routeState struct {
	ok     bool
	arc    int64
	cumuls [][]routing.Bounds
}

// solution is a set of per-vehicle visit sequences with cached states.
type solution struct {
	routes [][]int64
	states []routeState
	obj    int64
}

func (s *solution) clone() *solution {
	out := &solution{
		routes: make([][]int64, len(s.routes)),
		states: append([]routeState(nil), s.states...),
		obj:    s.obj,
	}
	for v, r := range s.routes {
		out.routes[v] = append([]int64(nil), r...)
	}
	return out
}

func (s *solution) placed() int {
	n := 0
	for _, r := range s.routes {
		n += len(r)
	}
	return n
}

func (e *Engine) path(v int, visits []int64) []int64 {
	p := make([]int64, 0, len(visits)+2)
	p = append(p, e.m.Start(v))
	p = append(p, visits...)
	return append(p, e.m.End(v))
}

// propagate computes the feasible cumul bounds of d along path for vehicle
// v: forward with transit plus slack, then backward. pins fixes positions
// to a single value.
func (e *Engine) propagate(d *dimension, v int, path []int64, pins map[int]int64) ([]routing.Bounds, bool) {
	b := make([]routing.Bounds, len(path))
	capV := d.capacity[v]
	for k, idx := range path {
		lo, hi := d.lo[idx], d.hi[idx]
		if lo < 0 {
			lo = 0
		}
		if hi > capV {
			hi = capV
		}
		if k == 0 && d.startsAtZero {
			lo, hi = max(lo, 0), min(hi, 0)
		}
		if val, ok := pins[k]; ok {
			lo, hi = max(lo, val), min(hi, val)
		}
		if k > 0 {
			t := e.transit(d, path[k-1], idx)
			lo = max(lo, satAdd(b[k-1].Min, t))
			hi = min(hi, satAdd(satAdd(b[k-1].Max, t), d.slack))
		}
		if lo > hi {
			return nil, false
		}
		b[k] = routing.Bounds{Min: lo, Max: hi}
	}
	for k := len(path) - 2; k >= 0; k-- {
		t := e.transit(d, path[k], path[k+1])
		b[k].Max = min(b[k].Max, satAdd(b[k+1].Max, -t))
		b[k].Min = max(b[k].Min, satAdd(satAdd(b[k+1].Min, -t), -d.slack))
	}
	return b, true
}

// pairOrderOK rejects routes that visit a delivery before its pickup.
func (e *Engine) pairOrderOK(visits []int64) bool {
	if len(e.pairs) == 0 {
		return true
	}
	seen := map[int64]bool{}
	for _, idx := range visits {
		p := e.pairOf[idx]
		if p >= 0 && e.pairs[p][1] == idx && !seen[e.pairs[p][0]] {
			for _, later := range visits {
				if later == e.pairs[p][0] {
					return false
				}
			}
		}
		seen[idx] = true
	}
	return true
}

func (e *Engine) evalRoute(v int, visits []int64) routeState {
	st := routeState{ok: true}
	path := e.path(v, visits)
	if len(visits) > 0 {
		for k := 0; k+1 < len(path); k++ {
			st.arc += e.arcCost(path[k], path[k+1])
		}
	}
	if !e.pairOrderOK(visits) {
		st.ok = false
		return st
	}
	st.cumuls = make([][]routing.Bounds, len(e.dims))
	for di, d := range e.dims {
		b, ok := e.propagate(d, v, path, nil)
		if !ok {
			st.ok = false
			return st
		}
		st.cumuls[di] = b
	}
	return st
}

func (e *Engine) emptySolution() *solution {
	n := e.m.NumVehicles()
	s := &solution{routes: make([][]int64, n), states: make([]routeState, n)}
	for v := range s.routes {
		s.states[v] = e.evalRoute(v, nil)
	}
	s.obj = e.objective(s)
	return s
}

// withRoute returns a copy of s with vehicle v's route replaced, or nil
// when the result violates a route or cross-route constraint.
func (e *Engine) withRoute(s *solution, v int, visits []int64) *solution {
	st := e.evalRoute(v, visits)
	if !st.ok {
		return nil
	}
	out := &solution{
		routes: append([][]int64(nil), s.routes...),
		states: append([]routeState(nil), s.states...),
	}
	out.routes[v] = visits
	out.states[v] = st
	if !e.crossOK(out) {
		return nil
	}
	out.obj = e.objective(out)
	return out
}

// withRoutes replaces two routes at once.
func (e *Engine) withRoutes(s *solution, v1 int, r1 []int64, v2 int, r2 []int64) *solution {
	st1 := e.evalRoute(v1, r1)
	if !st1.ok {
		return nil
	}
	st2 := e.evalRoute(v2, r2)
	if !st2.ok {
		return nil
	}
	out := &solution{
		routes: append([][]int64(nil), s.routes...),
		states: append([]routeState(nil), s.states...),
	}
	out.routes[v1], out.states[v1] = r1, st1
	out.routes[v2], out.states[v2] = r2, st2
	if !e.crossOK(out) {
		return nil
	}
	out.obj = e.objective(out)
	return out
}

// fromRoutes evaluates a full set of routes.
func (e *Engine) fromRoutes(routes [][]int64) *solution {
	s := &solution{routes: routes, states: make([]routeState, len(routes))}
	for v, r := range routes {
		s.states[v] = e.evalRoute(v, r)
		if !s.states[v].ok {
			return nil
		}
	}
	if !e.crossOK(s) {
		return nil
	}
	s.obj = e.objective(s)
	return s
}

type location struct {
	vehicle int
	pos     int
}

// locate maps each solver index to its vehicle and path position; -1 when unplaced.
func (e *Engine) locate(s *solution) []location {
	loc := make([]location, e.m.NumIndices())
	for i := range loc {
		loc[i] = location{-1, -1}
	}
	for v, r := range s.routes {
		loc[e.m.Start(v)] = location{v, 0}
		for k, idx := range r {
			loc[idx] = location{v, k + 1}
		}
		loc[e.m.End(v)] = location{v, len(r) + 1}
	}
	return loc
}

func (e *Engine) cumulAt(s *solution, loc []location, v routing.Var) (routing.Bounds, bool) {
	l := loc[v.Index]
	if l.vehicle < 0 {
		return routing.Bounds{}, false
	}
	return s.states[l.vehicle].cumuls[e.dimIdx[v.Dimension]][l.pos], true
}

// crossOK checks pickup and delivery vehicles and the binary constraints.
// Constraints touching an unplaced index are not yet binding.
func (e *Engine) crossOK(s *solution) bool {
	if len(e.pairs) == 0 && len(e.eqs) == 0 && len(e.les) == 0 {
		return true
	}
	loc := e.locate(s)
	for _, p := range e.pairs {
		a, b := loc[p[0]].vehicle, loc[p[1]].vehicle
		if a >= 0 && b >= 0 && a != b {
			return false
		}
	}
	check := func(c varPair, le bool) bool {
		if c.a.Kind == routing.VehicleVarKind {
			a, b := loc[c.a.Index].vehicle, loc[c.b.Index].vehicle
			if a < 0 || b < 0 {
				return true
			}
			if le {
				return a <= b
			}
			return a == b
		}
		ba, okA := e.cumulAt(s, loc, c.a)
		bb, okB := e.cumulAt(s, loc, c.b)
		if !okA || !okB {
			return true
		}
		if le {
			return ba.Min <= bb.Max
		}
		return ba.Min <= bb.Max && bb.Min <= ba.Max
	}
	for _, c := range e.eqs {
		if !check(c, false) {
			return false
		}
	}
	for _, c := range e.les {
		if !check(c, true) {
			return false
		}
	}
	return true
}

// objective is the arc cost of used routes plus, per dimension, the span
// coefficient times (latest end minimum - earliest start minimum) over used vehicles.
func (e *Engine) objective(s *solution) int64 {
	var total int64
	for _, st := range s.states {
		total += st.arc
	}
	for di, d := range e.dims {
		if d.spanCoef == 0 {
			continue
		}
		var maxEnd, minStart int64 = math.MinInt64, math.MaxInt64
		for v, r := range s.routes {
			if len(r) == 0 {
				continue
			}
			b := s.states[v].cumuls[di]
			maxEnd = max(maxEnd, b[len(b)-1].Min)
			minStart = min(minStart, b[0].Min)
		}
		if maxEnd > math.MinInt64 {
			total += d.spanCoef * (maxEnd - minStart)
		}
	}
	return total
}

func (e *Engine) complete(s *solution) bool {
	return s.placed() == len(e.m.Visits())
}

// assignment applies the finalizer and freezes s.
func (e *Engine) assignment(s *solution) (*routing.Assignment, error) {
	n := e.m.NumIndices()
	cumuls := make(map[string][]routing.Bounds, len(e.dims))
	for di, d := range e.dims {
		all := make([]routing.Bounds, n)
		for i := range all {
			all[i] = routing.Bounds{Min: max(d.lo[i], 0), Max: d.hi[i]}
		}
		for v, r := range s.routes {
			path := e.path(v, r)
			b := e.finalizeRoute(d, v, path, s.states[v].cumuls[di])
			for k, idx := range path {
				all[idx] = b[k]
			}
		}
		cumuls[d.name] = all
	}
	return routing.NewAssignment(e.m, s.routes, s.obj, cumuls)
}

// finalizeRoute pins the finalizer variables of one route: ends to their
// earliest value first, then starts to the latest value that end allows,
// then any other variable to its earliest value.
func (e *Engine) finalizeRoute(d *dimension, v int, path []int64, bounds []routing.Bounds) []routing.Bounds {
	var ends, starts, others []int
	for _, fv := range e.finalize {
		if fv.Dimension != d.name {
			continue
		}
		for k, idx := range path {
			if idx != fv.Index {
				continue
			}
			switch {
			case k == len(path)-1:
				ends = append(ends, k)
			case k == 0:
				starts = append(starts, k)
			default:
				others = append(others, k)
			}
		}
	}
	if len(ends)+len(starts)+len(others) == 0 {
		return bounds
	}
	pins := map[int]int64{}
	cur := bounds
	apply := func(ks []int, latest bool) {
		for _, k := range ks {
			val := cur[k].Min
			if latest {
				val = cur[k].Max
			}
			pins[k] = val
			if b, ok := e.propagate(d, v, path, pins); ok {
				cur = b
			} else {
				delete(pins, k)
			}
		}
	}
	apply(ends, false)
	apply(starts, true)
	apply(others, false)
	return cur
}
