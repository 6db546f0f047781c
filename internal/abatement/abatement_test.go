package abatement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignals(t *testing.T) {
	assert.False(t, Never{}.IsAbatementRequired())

	var f Flag
	assert.False(t, f.IsAbatementRequired())
	f.Set(true)
	assert.True(t, f.IsAbatementRequired())

	calls := 0
	fn := Func(func() bool { calls++; return false })
	assert.False(t, fn.IsAbatementRequired())
	assert.Equal(t, 1, calls)

	assert.True(t, Any{Never{}, nil, &f}.IsAbatementRequired())
	f.Set(false)
	assert.False(t, Any{Never{}, &f}.IsAbatementRequired())
}
