package model

import (
	"errors"
	"fmt"
	"time"

	"vrpbench/internal/cost"
)

// Variant tags which family of constraints an instance carries.
type Variant string

const (
	VariantTSP            Variant = "tsp"
	VariantVRP            Variant = "vrp"
	VariantGlobalSpan     Variant = "global_span"
	VariantCapacity       Variant = "capacity"
	VariantPickupDelivery Variant = "pickup_delivery"
	VariantTimeWindows    Variant = "time_windows"
)

var ErrInvalidInstance = errors.New("invalid instance")

// PickupDelivery couples two nodes that one vehicle serves, pickup first.
type PickupDelivery struct {
	Pickup   int `json:"pickup" yaml:"pickup"`
	Delivery int `json:"delivery" yaml:"delivery"`
}

// TimeWindow bounds the visit time of a node.
type TimeWindow struct {
	Earliest int64 `json:"earliest" yaml:"earliest"`
	Latest   int64 `json:"latest" yaml:"latest"`
}

// Instance is an immutable routing problem. Optional fields select the
// constraints the model builder attaches: Demands+Capacities (capacity),
// SpanCostCoefficient (global span), Pairs (pickup and delivery),
// TimeWindows+Horizon (time windows).
type Instance struct {
	Name        string
	Costs       cost.Provider
	NumVehicles int
	Depot       int

	Demands    []int64
	Capacities []int64

	Pairs []PickupDelivery

	TimeWindows []TimeWindow
	Horizon     int64

	MaxRouteDistance    int64
	SpanCostCoefficient int64

	// TimeLimit bounds each local search run on this instance.
	TimeLimit time.Duration
}

func (in *Instance) NumNodes() int {
	if in.Costs == nil {
		return 0
	}
	return in.Costs.Size()
}

func (in *Instance) HasCapacity() bool    { return len(in.Demands) > 0 || len(in.Capacities) > 0 }
func (in *Instance) HasPairs() bool       { return len(in.Pairs) > 0 }
func (in *Instance) HasTimeWindows() bool { return len(in.TimeWindows) > 0 }

// HasDistanceDimension reports whether a cumulative distance is tracked.
func (in *Instance) HasDistanceDimension() bool {
	return in.SpanCostCoefficient > 0 || in.HasPairs()
}

// Variant derives the report family from the populated fields.
func (in *Instance) Variant() Variant {
	switch {
	case in.HasTimeWindows():
		return VariantTimeWindows
	case in.HasPairs():
		return VariantPickupDelivery
	case in.HasCapacity():
		return VariantCapacity
	case in.SpanCostCoefficient > 0:
		return VariantGlobalSpan
	case in.NumVehicles == 1:
		return VariantTSP
	default:
		return VariantVRP
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInstance, fmt.Sprintf(format, args...))
}

// Validate checks the instance for shape errors that would make the model meaningless.
func (in *Instance) Validate() error {
	if in.Costs == nil {
		return invalid("%s: no cost provider", in.Name)
	}
	n := in.NumNodes()
	if n < 1 {
		return invalid("%s: no nodes", in.Name)
	}
	if in.NumVehicles < 1 {
		return invalid("%s: vehicle count %d", in.Name, in.NumVehicles)
	}
	if in.Depot < 0 || in.Depot >= n {
		return invalid("%s: depot %d out of range [0,%d)", in.Name, in.Depot, n)
	}
	if in.HasCapacity() {
		if len(in.Demands) != n {
			return invalid("%s: %d demands for %d nodes", in.Name, len(in.Demands), n)
		}
		if len(in.Capacities) != in.NumVehicles {
			return invalid("%s: %d capacities for %d vehicles", in.Name, len(in.Capacities), in.NumVehicles)
		}
		for i, d := range in.Demands {
			if d < 0 {
				return invalid("%s: negative demand %d at node %d", in.Name, d, i)
			}
		}
		for v, c := range in.Capacities {
			if c < 0 {
				return invalid("%s: negative capacity %d for vehicle %d", in.Name, c, v)
			}
		}
	}
	seen := map[int]int{}
	for k, p := range in.Pairs {
		if p.Pickup == p.Delivery {
			return invalid("%s: pair %d picks up and delivers at node %d", in.Name, k, p.Pickup)
		}
		for _, node := range []int{p.Pickup, p.Delivery} {
			if node < 0 || node >= n {
				return invalid("%s: pair %d node %d out of range [0,%d)", in.Name, k, node, n)
			}
			if node == in.Depot {
				return invalid("%s: pair %d uses the depot", in.Name, k)
			}
			if prev, ok := seen[node]; ok {
				return invalid("%s: node %d appears in pairs %d and %d", in.Name, node, prev, k)
			}
			seen[node] = k
		}
	}
	if in.HasPairs() && in.MaxRouteDistance <= 0 {
		return invalid("%s: pickup and delivery needs a positive max route distance", in.Name)
	}
	if in.SpanCostCoefficient < 0 {
		return invalid("%s: negative span cost coefficient", in.Name)
	}
	if in.SpanCostCoefficient > 0 && in.MaxRouteDistance <= 0 {
		return invalid("%s: global span needs a positive max route distance", in.Name)
	}
	if in.HasTimeWindows() {
		if len(in.TimeWindows) != n {
			return invalid("%s: %d time windows for %d nodes", in.Name, len(in.TimeWindows), n)
		}
		if in.Horizon <= 0 {
			return invalid("%s: horizon %d", in.Name, in.Horizon)
		}
		for i, w := range in.TimeWindows {
			if w.Earliest < 0 || w.Earliest > w.Latest {
				return invalid("%s: window [%d,%d] at node %d", in.Name, w.Earliest, w.Latest, i)
			}
		}
	}
	return nil
}
