package actfn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonotone(t *testing.T) {
	for _, name := range Names() {
		f, err := Lookup(name)
		require.NoError(t, err)
		prev := f.Apply(-10)
		for x := -10.0; x <= 10; x += 0.25 {
			y := f.Apply(x)
			assert.GreaterOrEqual(t, y, prev, "%s not monotone at %v", name, x)
			assert.GreaterOrEqual(t, f.Derivative(x), 0.0)
			prev = y
		}
	}
}

func TestValues(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid.Apply(0), 1e-12)
	assert.Equal(t, 0.0, RectifiedTanh.Apply(-3))
	assert.InDelta(t, 0.7615941559, RectifiedTanh.Apply(1), 1e-9)
	assert.Equal(t, 0.0, ReLU.Apply(-1))
	assert.Equal(t, 2.5, ReLU.Apply(2.5))
	assert.Equal(t, -4.0, Identity.Apply(-4))
}

func TestLookup(t *testing.T) {
	f, err := Lookup("")
	require.NoError(t, err)
	assert.Equal(t, Default.Name, f.Name)

	f, err = Lookup("ReLU")
	require.NoError(t, err)
	assert.Equal(t, "relu", f.Name)

	_, err = Lookup("softplus")
	assert.ErrorContains(t, err, "unknown activation function")
}
