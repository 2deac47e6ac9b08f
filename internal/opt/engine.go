// Package opt is the routing engine behind routing.Solver: construction
// heuristics for every first solution strategy, an interval propagator for
// dimensions, and the local search metaheuristics.
package opt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"vrpbench/internal/routing"
)

var (
	ErrUnsupportedStrategy = errors.New("first solution strategy needs data the model does not carry")
	ErrMixedConstraint     = errors.New("constraint mixes vehicle and cumul variables")
	ErrAlreadySolved       = errors.New("model already solved")
)

type dimension struct {
	name         string
	callback     int
	slack        int64
	capacity     []int64
	startsAtZero bool
	lo, hi       []int64
	spanCoef     int64
	narrowed     bool
}

type varPair struct{ a, b routing.Var }

// Engine builds and solves one routing model. It is not safe for concurrent use.
type Engine struct {
	m         *routing.IndexManager
	callbacks []routing.TransitFunc
	arcCB     int
	dims      []*dimension
	dimIdx    map[string]int
	pairs     [][2]int64
	pairOf    []int
	eqs       []varPair
	les       []varPair
	finalize  []routing.Var
	solved    bool
	logger    *log.Logger
	stats     Metrics
}

func NewEngine(m *routing.IndexManager) *Engine {
	e := &Engine{
		m:      m,
		arcCB:  -1,
		dimIdx: map[string]int{},
		pairOf: make([]int, m.NumIndices()),
	}
	for i := range e.pairOf {
		e.pairOf[i] = -1
	}
	return e
}

// NewSolver returns a constructor of engines that log to l, shaped for
// model builders that take a solver factory.
func NewSolver(l *log.Logger) func(*routing.IndexManager) routing.Solver {
	return func(m *routing.IndexManager) routing.Solver {
		e := NewEngine(m)
		e.SetLogger(l)
		return e
	}
}

// SetLogger enables a one-line summary per solve.
func (e *Engine) SetLogger(l *log.Logger) { e.logger = l }

// Metrics returns the counters of the last Solve.
func (e *Engine) Metrics() Metrics { return e.stats }

func (e *Engine) Manager() *routing.IndexManager { return e.m }

func (e *Engine) RegisterTransitCallback(fn routing.TransitFunc) int {
	e.callbacks = append(e.callbacks, fn)
	return len(e.callbacks) - 1
}

func (e *Engine) RegisterUnaryTransitCallback(fn routing.UnaryTransitFunc) int {
	return e.RegisterTransitCallback(func(from, _ int64) int64 { return fn(from) })
}

func (e *Engine) callback(cb int) (routing.TransitFunc, error) {
	if cb < 0 || cb >= len(e.callbacks) {
		return nil, fmt.Errorf("callback %d: %w", cb, routing.ErrUnknownCallback)
	}
	return e.callbacks[cb], nil
}

func (e *Engine) SetArcCostEvaluatorOfAllVehicles(cb int) error {
	if _, err := e.callback(cb); err != nil {
		return err
	}
	e.arcCB = cb
	return nil
}

func (e *Engine) AddDimension(cb int, slack, capacity int64, startsAtZero bool, name string) error {
	caps := make([]int64, e.m.NumVehicles())
	for i := range caps {
		caps[i] = capacity
	}
	return e.AddDimensionWithVehicleCapacity(cb, slack, caps, startsAtZero, name)
}

func (e *Engine) AddDimensionWithVehicleCapacity(cb int, slack int64, capacities []int64, startsAtZero bool, name string) error {
	if _, err := e.callback(cb); err != nil {
		return err
	}
	if _, ok := e.dimIdx[name]; ok {
		return fmt.Errorf("%s: %w", name, routing.ErrDuplicateDimension)
	}
	if len(capacities) != e.m.NumVehicles() {
		return fmt.Errorf("dimension %s: %d capacities for %d vehicles", name, len(capacities), e.m.NumVehicles())
	}
	if slack < 0 {
		return fmt.Errorf("dimension %s: negative slack %d", name, slack)
	}
	var maxCap int64
	for v, c := range capacities {
		if c < 0 {
			return fmt.Errorf("dimension %s: negative capacity %d for vehicle %d", name, c, v)
		}
		if c > maxCap {
			maxCap = c
		}
	}
	n := e.m.NumIndices()
	d := &dimension{
		name:         name,
		callback:     cb,
		slack:        slack,
		capacity:     append([]int64(nil), capacities...),
		startsAtZero: startsAtZero,
		lo:           make([]int64, n),
		hi:           make([]int64, n),
	}
	for i := range d.hi {
		d.hi[i] = maxCap
	}
	e.dimIdx[name] = len(e.dims)
	e.dims = append(e.dims, d)
	return nil
}

func (e *Engine) dimension(name string) (*dimension, error) {
	i, ok := e.dimIdx[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, routing.ErrUnknownDimension)
	}
	return e.dims[i], nil
}

func (e *Engine) checkIndex(index int64) error {
	if index < 0 || index >= e.m.NumIndices() {
		return fmt.Errorf("index %d: %w", index, routing.ErrIndexOutOfRange)
	}
	return nil
}

func (e *Engine) SetGlobalSpanCostCoefficient(name string, coefficient int64) error {
	d, err := e.dimension(name)
	if err != nil {
		return err
	}
	if coefficient < 0 {
		return fmt.Errorf("dimension %s: negative span coefficient %d", name, coefficient)
	}
	d.spanCoef = coefficient
	return nil
}

func (e *Engine) SetCumulRange(name string, index int64, min, max int64) error {
	d, err := e.dimension(name)
	if err != nil {
		return err
	}
	if err := e.checkIndex(index); err != nil {
		return err
	}
	if min > max || max < 0 {
		return fmt.Errorf("%s[%d] [%d,%d]: %w", name, index, min, max, routing.ErrInvalidRange)
	}
	d.lo[index], d.hi[index] = min, max
	d.narrowed = true
	return nil
}

func (e *Engine) AddPickupAndDelivery(pickup, delivery int64) error {
	for _, idx := range []int64{pickup, delivery} {
		if err := e.checkIndex(idx); err != nil {
			return err
		}
		if !e.m.IsVisit(idx) {
			return fmt.Errorf("pickup and delivery on depot token %d: %w", idx, routing.ErrIndexOutOfRange)
		}
		if e.pairOf[idx] >= 0 {
			return fmt.Errorf("index %d already in pair %d", idx, e.pairOf[idx])
		}
	}
	if pickup == delivery {
		return fmt.Errorf("pickup and delivery share index %d", pickup)
	}
	e.pairOf[pickup] = len(e.pairs)
	e.pairOf[delivery] = len(e.pairs)
	e.pairs = append(e.pairs, [2]int64{pickup, delivery})
	return nil
}

func (e *Engine) checkVar(v routing.Var) error {
	if err := e.checkIndex(v.Index); err != nil {
		return err
	}
	if v.Kind == routing.CumulVarKind {
		if _, err := e.dimension(v.Dimension); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) addBinary(list *[]varPair, a, b routing.Var) error {
	if a.Kind != b.Kind {
		return fmt.Errorf("%s, %s: %w", a, b, ErrMixedConstraint)
	}
	if err := e.checkVar(a); err != nil {
		return err
	}
	if err := e.checkVar(b); err != nil {
		return err
	}
	*list = append(*list, varPair{a, b})
	return nil
}

func (e *Engine) AddEqualityConstraint(a, b routing.Var) error {
	return e.addBinary(&e.eqs, a, b)
}

func (e *Engine) AddLessOrEqualConstraint(a, b routing.Var) error {
	return e.addBinary(&e.les, a, b)
}

func (e *Engine) AddVariableMinimizedByFinalizer(v routing.Var) error {
	if v.Kind != routing.CumulVarKind {
		return fmt.Errorf("finalizer on %s: only cumul variables can be finalized", v)
	}
	if err := e.checkVar(v); err != nil {
		return err
	}
	e.finalize = append(e.finalize, v)
	return nil
}

// Solve builds a first solution with params.FirstSolution, improves it with
// params.Metaheuristic until the time limit, and returns the best feasible
// assignment. It returns (nil, nil) when no feasible solution was found.
func (e *Engine) Solve(ctx context.Context, params routing.SearchParameters) (*routing.Assignment, error) {
	if e.solved {
		return nil, ErrAlreadySolved
	}
	if e.arcCB < 0 {
		return nil, routing.ErrNoArcCost
	}
	e.solved = true
	started := time.Now()
	var deadline time.Time
	if params.TimeLimit > 0 {
		deadline = started.Add(params.TimeLimit)
	}
	seed := params.Seed
	if seed == 0 {
		seed = 1
	}
	s := newSearch(ctx, e, seed, deadline)
	e.stats = Metrics{}

	sol, err := s.construct(params.FirstSolution)
	if err != nil {
		return nil, err
	}
	if sol == nil {
		e.logf("[ENGINE] first=%s local=%s no solution after %s", params.FirstSolution, params.Metaheuristic, time.Since(started))
		return nil, nil
	}
	e.stats.FirstCost = sol.obj
	if params.Metaheuristic != routing.MetaheuristicNone {
		sol = s.improve(sol, params.Metaheuristic, params.SolutionLimit)
	}
	e.stats.BestCost = sol.obj
	e.stats.FinalCost = sol.obj
	e.stats.Elapsed = time.Since(started)

	a, err := e.assignment(sol)
	if err != nil {
		return nil, err
	}
	e.logf("[ENGINE] first=%s local=%s objective=%d iterations=%d elapsed=%s",
		params.FirstSolution, params.Metaheuristic, sol.obj, e.stats.Iterations, e.stats.Elapsed)
	return a, nil
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func (e *Engine) arcCost(from, to int64) int64 {
	return e.callbacks[e.arcCB](from, to)
}

func (e *Engine) transit(d *dimension, from, to int64) int64 {
	return e.callbacks[d.callback](from, to)
}

func satAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}
