// Package vrp translates problem instances into routing models. A Builder
// moves through Empty, CostRegistered, DimensionsAttached,
// ConstraintsAttached and Sealed in that order; Build runs every stage.
package vrp

import (
	"context"
	"errors"
	"fmt"

	"vrpbench/internal/cost"
	"vrpbench/internal/model"
	"vrpbench/internal/routing"
)

// Dimension names attached by the builder.
const (
	DimDistance = "Distance"
	DimCapacity = "Capacity"
	DimTime     = "Time"
	DimRank     = "Rank"
)

var (
	ErrStageOrder = errors.New("model builder stage out of order")
	ErrNotSealed  = errors.New("model is not sealed")
)

type Stage int

const (
	StageEmpty Stage = iota
	StageCostRegistered
	StageDimensionsAttached
	StageConstraintsAttached
	StageSealed
)

func (s Stage) String() string {
	switch s {
	case StageEmpty:
		return "Empty"
	case StageCostRegistered:
		return "CostRegistered"
	case StageDimensionsAttached:
		return "DimensionsAttached"
	case StageConstraintsAttached:
		return "ConstraintsAttached"
	case StageSealed:
		return "Sealed"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// SolverFactory creates a fresh solver over a manager. Each Build call gets its own.
type SolverFactory func(*routing.IndexManager) routing.Solver

// ConstructionError reports an instance that cannot be turned into a model.
type ConstructionError struct {
	Instance string
	Stage    Stage
	Err      error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("build %q at %s: %v", e.Instance, e.Stage, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

type Builder struct {
	inst     *model.Instance
	manager  *routing.IndexManager
	solver   routing.Solver
	stage    Stage
	transit  int
	dims     []string
	orderDim string
}

// NewBuilder validates inst and allocates the index manager and solver.
func NewBuilder(inst *model.Instance, newSolver SolverFactory) (*Builder, error) {
	if inst == nil {
		return nil, &ConstructionError{Stage: StageEmpty, Err: fmt.Errorf("%w: nil instance", model.ErrInvalidInstance)}
	}
	if err := inst.Validate(); err != nil {
		return nil, &ConstructionError{Instance: inst.Name, Stage: StageEmpty, Err: err}
	}
	if v, ok := inst.Costs.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, &ConstructionError{Instance: inst.Name, Stage: StageEmpty, Err: fmt.Errorf("%w: %v", model.ErrInvalidInstance, err)}
		}
	}
	mgr, err := routing.NewIndexManager(inst.NumNodes(), inst.NumVehicles, inst.Depot)
	if err != nil {
		return nil, &ConstructionError{Instance: inst.Name, Stage: StageEmpty, Err: fmt.Errorf("%w: %v", model.ErrInvalidInstance, err)}
	}
	return &Builder{inst: inst, manager: mgr, solver: newSolver(mgr), stage: StageEmpty, transit: -1}, nil
}

func (b *Builder) Stage() Stage                    { return b.stage }
func (b *Builder) Manager() *routing.IndexManager { return b.manager }

func (b *Builder) advance(from Stage) error {
	if b.stage != from {
		return fmt.Errorf("%w: at %s, need %s", ErrStageOrder, b.stage, from)
	}
	b.stage++
	return nil
}

func (b *Builder) fail(err error) error {
	return &ConstructionError{Instance: b.inst.Name, Stage: b.stage, Err: err}
}

// RegisterCost installs the arc cost evaluator for all vehicles.
func (b *Builder) RegisterCost() error {
	if b.stage != StageEmpty {
		return fmt.Errorf("%w: at %s, need %s", ErrStageOrder, b.stage, StageEmpty)
	}
	mgr, costs := b.manager, b.inst.Costs
	b.transit = b.solver.RegisterTransitCallback(func(from, to int64) int64 {
		return costs.Cost(mgr.IndexToNode(from), mgr.IndexToNode(to))
	})
	if err := b.solver.SetArcCostEvaluatorOfAllVehicles(b.transit); err != nil {
		return b.fail(err)
	}
	return b.advance(StageEmpty)
}

// AttachDimensions adds the Capacity, Distance, Rank and Time dimensions
// the instance calls for.
func (b *Builder) AttachDimensions() error {
	if b.stage != StageCostRegistered {
		return fmt.Errorf("%w: at %s, need %s", ErrStageOrder, b.stage, StageCostRegistered)
	}
	in, s, mgr := b.inst, b.solver, b.manager
	if in.HasCapacity() {
		demands := in.Demands
		cb := s.RegisterUnaryTransitCallback(func(from int64) int64 {
			return demands[mgr.IndexToNode(from)]
		})
		if err := s.AddDimensionWithVehicleCapacity(cb, 0, in.Capacities, true, DimCapacity); err != nil {
			return b.fail(err)
		}
		b.dims = append(b.dims, DimCapacity)
	}
	if in.HasDistanceDimension() {
		if err := s.AddDimension(b.transit, 0, in.MaxRouteDistance, true, DimDistance); err != nil {
			return b.fail(err)
		}
		b.dims = append(b.dims, DimDistance)
		if in.SpanCostCoefficient > 0 {
			if err := s.SetGlobalSpanCostCoefficient(DimDistance, in.SpanCostCoefficient); err != nil {
				return b.fail(err)
			}
		}
		b.orderDim = DimDistance
	}
	if in.HasPairs() && !cost.StrictlyPositive(in.Costs) {
		// zero-cost arcs would let a delivery share the pickup's distance cumul
		cb := s.RegisterUnaryTransitCallback(func(int64) int64 { return 1 })
		if err := s.AddDimension(cb, 0, int64(in.NumNodes()), true, DimRank); err != nil {
			return b.fail(err)
		}
		b.dims = append(b.dims, DimRank)
		b.orderDim = DimRank
	}
	if in.HasTimeWindows() {
		if err := s.AddDimension(b.transit, in.Horizon, in.Horizon, false, DimTime); err != nil {
			return b.fail(err)
		}
		b.dims = append(b.dims, DimTime)
	}
	return b.advance(StageCostRegistered)
}

// AttachConstraints adds pickup and delivery pairs with their vehicle and
// ordering constraints, then the time windows and finalizer variables.
func (b *Builder) AttachConstraints() error {
	if b.stage != StageDimensionsAttached {
		return fmt.Errorf("%w: at %s, need %s", ErrStageOrder, b.stage, StageDimensionsAttached)
	}
	in, s, mgr := b.inst, b.solver, b.manager
	for k, p := range in.Pairs {
		pi, err := mgr.NodeToIndex(p.Pickup)
		if err != nil {
			return b.fail(fmt.Errorf("%w: pair %d pickup: %v", model.ErrInvalidInstance, k, err))
		}
		di, err := mgr.NodeToIndex(p.Delivery)
		if err != nil {
			return b.fail(fmt.Errorf("%w: pair %d delivery: %v", model.ErrInvalidInstance, k, err))
		}
		if err := s.AddPickupAndDelivery(pi, di); err != nil {
			return b.fail(err)
		}
		if err := s.AddEqualityConstraint(routing.VehicleVar(pi), routing.VehicleVar(di)); err != nil {
			return b.fail(err)
		}
		if err := s.AddLessOrEqualConstraint(routing.CumulVar(b.orderDim, pi), routing.CumulVar(b.orderDim, di)); err != nil {
			return b.fail(err)
		}
	}
	if in.HasTimeWindows() {
		for node, w := range in.TimeWindows {
			if node == in.Depot {
				continue
			}
			idx, err := mgr.NodeToIndex(node)
			if err != nil {
				return b.fail(err)
			}
			if err := s.SetCumulRange(DimTime, idx, w.Earliest, w.Latest); err != nil {
				return b.fail(err)
			}
		}
		depot := in.TimeWindows[in.Depot]
		for v := 0; v < in.NumVehicles; v++ {
			if err := s.SetCumulRange(DimTime, mgr.Start(v), depot.Earliest, depot.Latest); err != nil {
				return b.fail(err)
			}
			if err := s.AddVariableMinimizedByFinalizer(routing.CumulVar(DimTime, mgr.Start(v))); err != nil {
				return b.fail(err)
			}
			if err := s.AddVariableMinimizedByFinalizer(routing.CumulVar(DimTime, mgr.End(v))); err != nil {
				return b.fail(err)
			}
		}
	}
	return b.advance(StageDimensionsAttached)
}

// Seal freezes the builder into a solvable Model.
func (b *Builder) Seal() (*Model, error) {
	if err := b.advance(StageConstraintsAttached); err != nil {
		return nil, err
	}
	mgr, costs := b.manager, b.inst.Costs
	return &Model{
		Instance:       b.inst,
		Manager:        mgr,
		Solver:         b.solver,
		Dimensions:     append([]string(nil), b.dims...),
		OrderDimension: b.orderDim,
		ArcCost: func(from, to int64) int64 {
			return costs.Cost(mgr.IndexToNode(from), mgr.IndexToNode(to))
		},
		sealed: true,
	}, nil
}

// Build runs every stage in order.
func Build(inst *model.Instance, newSolver SolverFactory) (*Model, error) {
	b, err := NewBuilder(inst, newSolver)
	if err != nil {
		return nil, err
	}
	if err := b.RegisterCost(); err != nil {
		return nil, err
	}
	if err := b.AttachDimensions(); err != nil {
		return nil, err
	}
	if err := b.AttachConstraints(); err != nil {
		return nil, err
	}
	return b.Seal()
}

// Model is a sealed routing model ready to solve once.
type Model struct {
	Instance       *model.Instance
	Manager        *routing.IndexManager
	Solver         routing.Solver
	Dimensions     []string
	OrderDimension string
	ArcCost        routing.TransitFunc
	sealed         bool
}

func (m *Model) HasDimension(name string) bool {
	for _, d := range m.Dimensions {
		if d == name {
			return true
		}
	}
	return false
}

// Solve runs the solver. A nil assignment with a nil error means no solution.
func (m *Model) Solve(ctx context.Context, params routing.SearchParameters) (*routing.Assignment, error) {
	if m == nil || !m.sealed {
		return nil, ErrNotSealed
	}
	return m.Solver.Solve(ctx, params)
}
