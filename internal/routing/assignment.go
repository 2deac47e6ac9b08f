package routing

import (
	"errors"
	"fmt"
	"sort"
)

var ErrBadRoutes = errors.New("routes do not form a valid assignment")

// Bounds is the resolved [Min,Max] of a cumul variable.
type Bounds struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Assignment is a solved model. It is read-only once built.
type Assignment struct {
	manager   *IndexManager
	next      []int64
	vehicle   []int
	cumuls    map[string][]Bounds
	objective int64
}

// NewAssignment builds an assignment from per-vehicle visit sequences
// (visit indices only, start and end implied). Indices left out of every
// route are unperformed: Next returns the index itself and Vehicle -1.
// cumuls must hold one entry per solver index for each dimension.
func NewAssignment(m *IndexManager, routes [][]int64, objective int64, cumuls map[string][]Bounds) (*Assignment, error) {
	if len(routes) != m.NumVehicles() {
		return nil, fmt.Errorf("%w: %d routes for %d vehicles", ErrBadRoutes, len(routes), m.NumVehicles())
	}
	n := m.NumIndices()
	a := &Assignment{
		manager:   m,
		next:      make([]int64, n),
		vehicle:   make([]int, n),
		cumuls:    make(map[string][]Bounds, len(cumuls)),
		objective: objective,
	}
	for i := range a.next {
		a.next[i] = int64(i)
		a.vehicle[i] = -1
	}
	for v, route := range routes {
		prev := m.Start(v)
		a.vehicle[prev] = v
		for _, idx := range route {
			if !m.IsVisit(idx) {
				return nil, fmt.Errorf("%w: vehicle %d visits non-visit index %d", ErrBadRoutes, v, idx)
			}
			if a.vehicle[idx] != -1 {
				return nil, fmt.Errorf("%w: index %d visited twice", ErrBadRoutes, idx)
			}
			a.next[prev] = idx
			a.vehicle[idx] = v
			prev = idx
		}
		a.next[prev] = m.End(v)
		a.vehicle[m.End(v)] = v
	}
	for name, b := range cumuls {
		if int64(len(b)) != n {
			return nil, fmt.Errorf("%w: dimension %s has %d cumuls for %d indices", ErrBadRoutes, name, len(b), n)
		}
		a.cumuls[name] = append([]Bounds(nil), b...)
	}
	return a, nil
}

func (a *Assignment) Manager() *IndexManager { return a.manager }
func (a *Assignment) ObjectiveValue() int64  { return a.objective }

// Next returns the successor of index. End indices and unperformed
// indices return themselves.
func (a *Assignment) Next(index int64) int64 {
	if index < 0 || index >= int64(len(a.next)) {
		return index
	}
	return a.next[index]
}

// Vehicle returns the vehicle serving index, or -1 when unperformed.
func (a *Assignment) Vehicle(index int64) int {
	if index < 0 || index >= int64(len(a.vehicle)) {
		return -1
	}
	return a.vehicle[index]
}

// IsVehicleUsed reports whether vehicle leaves the depot for at least one visit.
func (a *Assignment) IsVehicleUsed(vehicle int) bool {
	if vehicle < 0 || vehicle >= a.manager.NumVehicles() {
		return false
	}
	return !a.manager.IsEnd(a.next[a.manager.Start(vehicle)])
}

// Route returns the full index sequence of vehicle, start and end included.
func (a *Assignment) Route(vehicle int) []int64 {
	if vehicle < 0 || vehicle >= a.manager.NumVehicles() {
		return nil
	}
	idx := a.manager.Start(vehicle)
	out := []int64{idx}
	for !a.manager.IsEnd(idx) {
		idx = a.next[idx]
		out = append(out, idx)
	}
	return out
}

func (a *Assignment) HasDimension(name string) bool {
	_, ok := a.cumuls[name]
	return ok
}

// Dimensions lists the dimension names in sorted order.
func (a *Assignment) Dimensions() []string {
	out := make([]string, 0, len(a.cumuls))
	for name := range a.cumuls {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Cumul returns the resolved bounds of a dimension at index.
func (a *Assignment) Cumul(dimension string, index int64) (Bounds, error) {
	b, ok := a.cumuls[dimension]
	if !ok {
		return Bounds{}, fmt.Errorf("%s: %w", dimension, ErrUnknownDimension)
	}
	if index < 0 || index >= int64(len(b)) {
		return Bounds{}, fmt.Errorf("%s[%d]: %w", dimension, index, ErrIndexOutOfRange)
	}
	return b[index], nil
}

// Min returns the lower bound of a cumul, zero when the dimension or index is unknown.
func (a *Assignment) Min(dimension string, index int64) int64 {
	b, _ := a.Cumul(dimension, index)
	return b.Min
}

func (a *Assignment) Max(dimension string, index int64) int64 {
	b, _ := a.Cumul(dimension, index)
	return b.Max
}
