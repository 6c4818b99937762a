package interpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMemoizesConjunctions(t *testing.T) {
	l := New()
	a := l.NewPrimitive("a")
	b := l.NewPrimitive("b")
	c := l.NewPrimitive("c")

	ab := l.Add(false, a, b)
	ba := l.Add(false, b, a)
	require.Same(t, ab, ba)
	assert.Equal(t, Conjunction, ab.Kind())
	assert.Equal(t, []int{0, 1}, ab.Prims())

	abc1 := l.Add(false, ab, c)
	abc2 := l.Add(false, a, l.Add(false, b, c))
	assert.Same(t, abc1, abc2)

	assert.Same(t, a, l.Add(false, a, l.Bottom()))
	assert.Same(t, ab, l.Add(false, ab, a))
	assert.Same(t, abc1, l.Conjoin(c, b, a))
}

func TestContains(t *testing.T) {
	l := New()
	a := l.NewPrimitive("a")
	b := l.NewPrimitive("b")
	ab := l.Add(false, a, b)

	assert.True(t, ab.Contains(a))
	assert.True(t, ab.Contains(l.Bottom()))
	assert.False(t, a.Contains(ab))
	assert.True(t, a.Contains(a))
}

func TestConflictSymmetry(t *testing.T) {
	l := New()
	opts := []*Option{l.NewPrimitive("a"), l.NewPrimitive("b"), l.NewPrimitive("c")}
	l.Add(true, opts[0], opts[1])
	bc := l.Add(false, opts[1], opts[2])
	l.Add(true, bc, opts[0])

	all := append(opts, bc, l.Bottom())
	for _, x := range all {
		for _, y := range all {
			assert.Equal(t, l.Conflicts(x, y), l.Conflicts(y, x), "%v %v", x, y)
			if l.Conflicts(x, y) {
				assert.False(t, l.Compatible(x, y), "%v %v", x, y)
			}
			assert.Equal(t, l.Compatible(x, y), l.Compatible(y, x), "%v %v", x, y)
		}
	}
}

func TestCompatible(t *testing.T) {
	l := New()
	a := l.NewPrimitive("a")
	b := l.NewPrimitive("b")
	c := l.NewPrimitive("c")
	d := l.NewPrimitive("d")

	assert.True(t, l.Compatible(a, b))
	l.Add(true, a, b)
	assert.False(t, l.Compatible(a, b))

	// the conflict is inherited by options containing its sides
	ac := l.Add(false, a, c)
	bd := l.Add(false, b, d)
	assert.False(t, l.Compatible(ac, bd))
	assert.False(t, l.Conflicts(ac, bd))
	assert.True(t, l.Compatible(ac, d))

	// a conflict spanning both arguments is found through the reduced lists
	cd := l.Add(false, c, d)
	e := l.NewPrimitive("e")
	l.Add(true, cd, e)
	assert.True(t, l.Compatible(c, d))
	de := l.Add(false, d, e)
	assert.False(t, l.Conflicts(c, de))
	assert.False(t, l.Compatible(c, de))
}

func TestCompatibleCacheInvalidatedByNewConflict(t *testing.T) {
	l := New()
	a := l.NewPrimitive("a")
	b := l.NewPrimitive("b")
	ab := l.Add(false, a, b)
	c := l.NewPrimitive("c")

	assert.True(t, l.Compatible(ab, c))
	l.Add(true, b, c)
	assert.False(t, l.Compatible(ab, c))
}

func TestBottomCompatibleWithEverything(t *testing.T) {
	l := New()
	a := l.NewPrimitive("a")
	l.Add(true, a, l.Bottom())
	assert.True(t, l.Compatible(l.Bottom(), a))
	assert.False(t, l.Conflicts(l.Bottom(), a))
	assert.Empty(t, l.ConflictList())
	assert.Equal(t, Bottom, l.Bottom().Kind())
}

func TestDuplicateConflictRegisteredOnce(t *testing.T) {
	l := New()
	a := l.NewPrimitive("a")
	b := l.NewPrimitive("b")
	l.Add(true, a, b)
	l.Add(true, b, a)
	assert.Len(t, l.ConflictList(), 1)
}
