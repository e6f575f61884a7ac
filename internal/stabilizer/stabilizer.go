// Package stabilizer is a small numeric collaborator: it repeatedly scales
// a syndrome vector by 1/index and records how its magnitude decays.
// It is independent of the agent kernel.
package stabilizer

import (
	"errors"
	"fmt"
	"math"
)

var ErrZeroIndex = errors.New("operator index must be nonzero")

// Transform applies the operator of the given index to one value.
func Transform(value, index float64) float64 {
	return value * (1.0 / index)
}

// Qubit tracks the syndrome of one named problem.
type Qubit struct {
	Problem  string
	Syndrome []float64
}

// NewQubit copies syndrome into a new Qubit.
func NewQubit(problem string, syndrome []float64) *Qubit {
	return &Qubit{Problem: problem, Syndrome: append([]float64(nil), syndrome...)}
}

// Update applies the operator of the given index to every component.
func (q *Qubit) Update(index float64) error {
	if index == 0 {
		return fmt.Errorf("%s: %w", q.Problem, ErrZeroIndex)
	}
	for i, v := range q.Syndrome {
		q.Syndrome[i] = Transform(v, index)
	}
	return nil
}

// Norm returns the Euclidean magnitude of the syndrome.
func (q *Qubit) Norm() float64 {
	var sum float64
	for _, v := range q.Syndrome {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Run applies steps updates and returns the syndrome magnitude after each.
func (q *Qubit) Run(steps int, index float64) ([]float64, error) {
	trace := make([]float64, 0, steps)
	for i := 0; i < steps; i++ {
		if err := q.Update(index); err != nil {
			return trace, err
		}
		trace = append(trace, q.Norm())
	}
	return trace, nil
}
