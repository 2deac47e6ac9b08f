// Package cost supplies arc costs between the nodes of a routing problem.
package cost

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// Provider returns the cost of travelling between two nodes of a fixed node universe.
type Provider interface {
	Size() int
	Cost(from, to int) int64
}

var (
	ErrNotSquare    = errors.New("cost: matrix is not square")
	ErrNegativeCost = errors.New("cost: negative arc cost")
	ErrDiagonal     = errors.New("cost: non-zero diagonal")
	ErrEmpty        = errors.New("cost: empty matrix")
)

// Matrix is a dense N×N cost table. Rows are origins, columns destinations.
type Matrix [][]int64

// NewMatrix copies rows into a Matrix and validates it.
func NewMatrix(rows [][]int64) (Matrix, error) {
	m := make(Matrix, len(rows))
	for i, r := range rows {
		m[i] = append([]int64(nil), r...)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m Matrix) Size() int { return len(m) }

func (m Matrix) Cost(from, to int) int64 { return m[from][to] }

// Validate checks squareness, zero diagonal and non-negative entries.
func (m Matrix) Validate() error {
	n := len(m)
	if n == 0 {
		return ErrEmpty
	}
	for i, row := range m {
		if len(row) != n {
			return fmt.Errorf("%w: row %d has %d entries, want %d", ErrNotSquare, i, len(row), n)
		}
		for j, v := range row {
			if v < 0 {
				return fmt.Errorf("%w: [%d][%d]=%d", ErrNegativeCost, i, j, v)
			}
		}
		if row[i] != 0 {
			return fmt.Errorf("%w: [%d][%d]=%d", ErrDiagonal, i, i, row[i])
		}
	}
	return nil
}

// IsSymmetric reports whether Cost(i,j) == Cost(j,i) for every pair.
func IsSymmetric(p Provider) bool {
	n := p.Size()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if p.Cost(i, j) != p.Cost(j, i) {
				return false
			}
		}
	}
	return true
}

// StrictlyPositive reports whether every off-diagonal arc has a cost > 0.
func StrictlyPositive(p Provider) bool {
	n := p.Size()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j && p.Cost(i, j) <= 0 {
				return false
			}
		}
	}
	return true
}

// Func adapts a cost function over a node universe of fixed size.
type Func struct {
	N  int
	Fn func(from, to int) int64
}

func (f Func) Size() int               { return f.N }
func (f Func) Cost(from, to int) int64 { return f.Fn(from, to) }

// Random builds a symmetric matrix with entries in [1, maxCost] drawn from a seeded source.
func Random(size int, maxCost int64, seed int64) Matrix {
	if maxCost < 1 {
		maxCost = 1
	}
	rng := rand.New(rand.NewSource(seed))
	m := make(Matrix, size)
	for i := range m {
		m[i] = make([]int64, size)
	}
	for i := 0; i < size; i++ {
		for j := i + 1; j < size; j++ {
			v := 1 + rng.Int63n(maxCost)
			m[i][j] = v
			m[j][i] = v
		}
	}
	return m
}

// String renders the matrix as space separated rows.
func (m Matrix) String() string {
	var b strings.Builder
	for _, row := range m {
		for j, v := range row {
			if j > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d", v)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
