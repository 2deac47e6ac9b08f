package routing

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnknownCallback    = errors.New("unknown transit callback")
	ErrUnknownDimension   = errors.New("unknown dimension")
	ErrDuplicateDimension = errors.New("dimension already registered")
	ErrInvalidRange       = errors.New("invalid cumul range")
	ErrNoArcCost          = errors.New("no arc cost evaluator set")
)

type TransitFunc func(from, to int64) int64
type UnaryTransitFunc func(from int64) int64

type VarKind int

const (
	VehicleVarKind VarKind = iota
	CumulVarKind
)

// Var names a decision variable of the model: the vehicle serving an index
// or the cumul of a dimension at an index.
type Var struct {
	Kind      VarKind
	Dimension string
	Index     int64
}

func VehicleVar(index int64) Var { return Var{Kind: VehicleVarKind, Index: index} }

func CumulVar(dimension string, index int64) Var {
	return Var{Kind: CumulVarKind, Dimension: dimension, Index: index}
}

func (v Var) String() string {
	if v.Kind == VehicleVarKind {
		return fmt.Sprintf("vehicle[%d]", v.Index)
	}
	return fmt.Sprintf("%s[%d]", v.Dimension, v.Index)
}

// Solver is the model-building and solving surface an engine exposes.
// Callbacks and dimensions are defined over solver indices of the engine's
// IndexManager. Solve returns (nil, nil) when no solution was found.
type Solver interface {
	RegisterTransitCallback(fn TransitFunc) int
	RegisterUnaryTransitCallback(fn UnaryTransitFunc) int
	SetArcCostEvaluatorOfAllVehicles(callback int) error
	AddDimension(callback int, slack, capacity int64, startsAtZero bool, name string) error
	AddDimensionWithVehicleCapacity(callback int, slack int64, capacities []int64, startsAtZero bool, name string) error
	SetGlobalSpanCostCoefficient(dimension string, coefficient int64) error
	SetCumulRange(dimension string, index int64, min, max int64) error
	AddPickupAndDelivery(pickup, delivery int64) error
	AddEqualityConstraint(a, b Var) error
	AddLessOrEqualConstraint(a, b Var) error
	AddVariableMinimizedByFinalizer(v Var) error
	Solve(ctx context.Context, params SearchParameters) (*Assignment, error)
}
