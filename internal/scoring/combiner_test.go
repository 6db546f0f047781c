package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLinearRejectsBadWeights(t *testing.T) {
	_, err := NewLinear(0.5, 0.6)
	require.ErrorIs(t, err, ErrWeight)

	_, err = NewLinear()
	require.ErrorIs(t, err, ErrWeight)

	_, err = NewLinear(1.5, -0.5)
	require.ErrorIs(t, err, ErrDomain)
}

func TestLinearCombine(t *testing.T) {
	l, err := NewLinear(0.25, 0.75)
	require.NoError(t, err)

	got, err := l.Combine([]Vote{Const(1.0), Const(0.2)})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, got, 1e-9)

	_, err = l.Combine([]Vote{Const(1.0)})
	require.ErrorIs(t, err, ErrArity)
}

func TestMultiplicativeShortCircuitsOnMin(t *testing.T) {
	called := false
	got, err := Multiplicative{}.Combine([]Vote{Const(Min), func() float64 { called = true; return 0.9 }})
	require.NoError(t, err)
	assert.Equal(t, Min, got)
	assert.False(t, called)

	got, err = Multiplicative{}.Combine([]Vote{Const(0.5), Const(0.5)})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, got, 1e-9)
}

func TestMaxShortCircuitsOnMax(t *testing.T) {
	called := false
	got, err := MaxOf{}.Combine([]Vote{Const(0.2), Const(Max), func() float64 { called = true; return 0.1 }})
	require.NoError(t, err)
	assert.Equal(t, Max, got)
	assert.False(t, called)

	got, err = MaxOf{}.Combine([]Vote{Const(0.2), Const(0.7)})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got, 1e-9)
}

func TestMinShortCircuitsOnMin(t *testing.T) {
	called := false
	got, err := MinOf{}.Combine([]Vote{Const(0.4), Const(Min), func() float64 { called = true; return 2 }})
	require.NoError(t, err)
	assert.Equal(t, Min, got)
	assert.False(t, called)
}

func TestDomainError(t *testing.T) {
	_, err := MaxOf{}.Combine([]Vote{Const(0.3), Const(1.2)})
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 1, de.Index)
	assert.Equal(t, 1.2, de.Value)
	assert.ErrorIs(t, err, ErrDomain)
}

func TestArityChecked(t *testing.T) {
	_, err := MinOf{Arity: 2}.Combine([]Vote{Const(0.3)})
	require.ErrorIs(t, err, ErrArity)
	_, err = Multiplicative{Arity: 1}.Combine([]Vote{Const(0.3)})
	require.NoError(t, err)
}

func TestCombinersStayInRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.Float64Range(0, 1), 1, 8).Draw(rt, "values")
		votes := make([]Vote, len(values))
		for i, v := range values {
			votes[i] = Const(v)
		}
		for _, c := range []Combiner{MaxOf{}, MinOf{}, Multiplicative{}} {
			got, err := c.Combine(votes)
			if err != nil {
				rt.Fatalf("%T: %v", c, err)
			}
			if got < Min || got > Max {
				rt.Fatalf("%T returned %v", c, got)
			}
		}
	})
}
