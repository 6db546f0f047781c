// Package scoring combines factor votes into a score in [0,1].
//
// A vote is lazy: combiners evaluate votes in order and stop at their
// short-circuit value, so expensive predicates after a decisive vote never
// run.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// Min is the lowest score and the short-circuit value of Min and Multiplicative.
	Min = 0.0
	// Max is the highest score and the short-circuit value of Max.
	Max = 1.0
)

var (
	ErrDomain = errors.New("scoring: value outside [0,1]")
	ErrArity  = errors.New("scoring: wrong number of inputs")
	ErrWeight = errors.New("scoring: linear weights must sum to 1")
)

// DomainError reports which input fell outside [0,1].
type DomainError struct {
	Index int
	Value float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("scoring: input %d = %v outside [0,1]", e.Index, e.Value)
}

func (e *DomainError) Unwrap() error { return ErrDomain }

// Vote produces one factor on demand.
type Vote func() float64

// Const wraps a precomputed factor.
func Const(v float64) Vote { return func() float64 { return v } }

// Combiner merges votes into one score.
type Combiner interface {
	Combine(votes []Vote) (float64, error)
}

func checkArity(arity int, votes []Vote) error {
	if arity != 0 && len(votes) != arity {
		return fmt.Errorf("%w: want %d, got %d", ErrArity, arity, len(votes))
	}
	return nil
}

func eval(i int, v Vote) (float64, error) {
	x := v()
	if math.IsNaN(x) || x < Min || x > Max {
		return 0, &DomainError{Index: i, Value: x}
	}
	return x, nil
}

const weightTolerance = 1e-9

// Linear is a weighted sum. Its arity is the number of weights.
type Linear struct {
	weights []float64
}

// NewLinear fails unless every weight is in [0,1] and they sum to 1.
func NewLinear(weights ...float64) (*Linear, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no weights", ErrWeight)
	}
	for i, w := range weights {
		if math.IsNaN(w) || w < 0 || w > 1 {
			return nil, &DomainError{Index: i, Value: w}
		}
	}
	if sum := floats.Sum(weights); math.Abs(sum-1) > weightTolerance {
		return nil, fmt.Errorf("%w: got %v", ErrWeight, sum)
	}
	return &Linear{weights: append([]float64(nil), weights...)}, nil
}

func (l *Linear) Combine(votes []Vote) (float64, error) {
	if err := checkArity(len(l.weights), votes); err != nil {
		return 0, err
	}
	values := make([]float64, len(votes))
	for i, v := range votes {
		x, err := eval(i, v)
		if err != nil {
			return 0, err
		}
		values[i] = x
	}
	return floats.Dot(l.weights, values), nil
}

// MaxOf returns the largest vote, stopping at the first Max.
type MaxOf struct {
	Arity int
}

func (c MaxOf) Combine(votes []Vote) (float64, error) {
	if err := checkArity(c.Arity, votes); err != nil {
		return 0, err
	}
	best := Min
	for i, v := range votes {
		x, err := eval(i, v)
		if err != nil {
			return 0, err
		}
		if x == Max {
			return Max, nil
		}
		best = math.Max(best, x)
	}
	return best, nil
}

// MinOf returns the smallest vote, stopping at the first Min.
type MinOf struct {
	Arity int
}

func (c MinOf) Combine(votes []Vote) (float64, error) {
	if err := checkArity(c.Arity, votes); err != nil {
		return 0, err
	}
	least := Max
	for i, v := range votes {
		x, err := eval(i, v)
		if err != nil {
			return 0, err
		}
		if x == Min {
			return Min, nil
		}
		least = math.Min(least, x)
	}
	return least, nil
}

// Multiplicative returns the product of the votes, stopping at the first Min.
type Multiplicative struct {
	Arity int
}

func (c Multiplicative) Combine(votes []Vote) (float64, error) {
	if err := checkArity(c.Arity, votes); err != nil {
		return 0, err
	}
	product := Max
	for i, v := range votes {
		x, err := eval(i, v)
		if err != nil {
			return 0, err
		}
		if x == Min {
			return Min, nil
		}
		product *= x
	}
	return product, nil
}
