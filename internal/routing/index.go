// Package routing defines the contract between routing models and the
// engines that solve them: solver indices, search parameters, variables
// and the solved assignment.
package routing

import (
	"errors"
	"fmt"
)

var (
	ErrAmbiguousDepot    = errors.New("depot has one start and one end index per vehicle")
	ErrNodeOutOfRange    = errors.New("node out of range")
	ErrIndexOutOfRange   = errors.New("solver index out of range")
	ErrVehicleOutOfRange = errors.New("vehicle out of range")
	ErrRoleMismatch      = errors.New("start and end roles apply to the depot only")
)

type roleKind int

const (
	roleVisit roleKind = iota
	roleStart
	roleEnd
)

// Role selects which occurrence of a node an index refers to.
type Role struct {
	kind    roleKind
	vehicle int
}

// Visit is the role of every non-depot node.
var Visit = Role{kind: roleVisit}

func StartOf(vehicle int) Role { return Role{kind: roleStart, vehicle: vehicle} }
func EndOf(vehicle int) Role   { return Role{kind: roleEnd, vehicle: vehicle} }

func (r Role) String() string {
	switch r.kind {
	case roleStart:
		return fmt.Sprintf("start(%d)", r.vehicle)
	case roleEnd:
		return fmt.Sprintf("end(%d)", r.vehicle)
	default:
		return "visit"
	}
}

// IndexManager maps nodes to solver indices. The arena is laid out as
// vehicle starts [0,V), non-depot nodes [V,V+N-1) in node order, then
// vehicle ends [V+N-1,2V+N-1).
type IndexManager struct {
	numNodes    int
	numVehicles int
	depot       int
}

func NewIndexManager(numNodes, numVehicles, depot int) (*IndexManager, error) {
	if numNodes < 1 {
		return nil, fmt.Errorf("index manager: %d nodes: %w", numNodes, ErrNodeOutOfRange)
	}
	if numVehicles < 1 {
		return nil, fmt.Errorf("index manager: %d vehicles: %w", numVehicles, ErrVehicleOutOfRange)
	}
	if depot < 0 || depot >= numNodes {
		return nil, fmt.Errorf("index manager: depot %d: %w", depot, ErrNodeOutOfRange)
	}
	return &IndexManager{numNodes: numNodes, numVehicles: numVehicles, depot: depot}, nil
}

func (m *IndexManager) NumNodes() int    { return m.numNodes }
func (m *IndexManager) NumVehicles() int { return m.numVehicles }
func (m *IndexManager) Depot() int       { return m.depot }

// NumIndices is N-1 visit indices plus 2V depot tokens.
func (m *IndexManager) NumIndices() int64 {
	return int64(m.numNodes - 1 + 2*m.numVehicles)
}

func (m *IndexManager) firstEnd() int64 {
	return int64(m.numVehicles + m.numNodes - 1)
}

func (m *IndexManager) Start(vehicle int) int64 { return int64(vehicle) }
func (m *IndexManager) End(vehicle int) int64   { return m.firstEnd() + int64(vehicle) }

func (m *IndexManager) IsStart(index int64) bool {
	return index >= 0 && index < int64(m.numVehicles)
}

func (m *IndexManager) IsEnd(index int64) bool {
	return index >= m.firstEnd() && index < m.NumIndices()
}

// IsVisit reports whether index belongs to a non-depot node.
func (m *IndexManager) IsVisit(index int64) bool {
	return index >= int64(m.numVehicles) && index < m.firstEnd()
}

// VehicleOfStart returns the vehicle owning a start index, or -1.
func (m *IndexManager) VehicleOfStart(index int64) int {
	if !m.IsStart(index) {
		return -1
	}
	return int(index)
}

// VehicleOfEnd returns the vehicle owning an end index, or -1.
func (m *IndexManager) VehicleOfEnd(index int64) int {
	if !m.IsEnd(index) {
		return -1
	}
	return int(index - m.firstEnd())
}

// IndexToNode resolves any solver index to its node. Out of range indices give -1.
func (m *IndexManager) IndexToNode(index int64) int {
	switch {
	case m.IsStart(index), m.IsEnd(index):
		return m.depot
	case m.IsVisit(index):
		k := int(index) - m.numVehicles
		if k >= m.depot {
			k++
		}
		return k
	default:
		return -1
	}
}

// NodeToIndex returns the visit index of a non-depot node.
func (m *IndexManager) NodeToIndex(node int) (int64, error) {
	if node < 0 || node >= m.numNodes {
		return -1, fmt.Errorf("node %d: %w", node, ErrNodeOutOfRange)
	}
	if node == m.depot {
		return -1, ErrAmbiguousDepot
	}
	k := node
	if node > m.depot {
		k--
	}
	return int64(m.numVehicles + k), nil
}

// IndexOf resolves a node and role to its solver index.
func (m *IndexManager) IndexOf(node int, role Role) (int64, error) {
	switch role.kind {
	case roleVisit:
		return m.NodeToIndex(node)
	case roleStart, roleEnd:
		if node != m.depot {
			return -1, fmt.Errorf("node %d as %s: %w", node, role, ErrRoleMismatch)
		}
		if role.vehicle < 0 || role.vehicle >= m.numVehicles {
			return -1, fmt.Errorf("%s: %w", role, ErrVehicleOutOfRange)
		}
		if role.kind == roleStart {
			return m.Start(role.vehicle), nil
		}
		return m.End(role.vehicle), nil
	}
	return -1, fmt.Errorf("unknown role %v", role)
}

// Visits lists the visit indices in node order.
func (m *IndexManager) Visits() []int64 {
	out := make([]int64, 0, m.numNodes-1)
	for i := int64(m.numVehicles); i < m.firstEnd(); i++ {
		out = append(out, i)
	}
	return out
}
