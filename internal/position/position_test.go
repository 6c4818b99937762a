package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Position
		cmp  Comparator
		want bool
	}{
		{"lt true", 1, 2, LT, true},
		{"lt false", 2, 2, LT, false},
		{"le equal", 2, 2, LE, true},
		{"eq", 3, 3, EQ, true},
		{"eq false", 3, 4, EQ, false},
		{"ge", 5, 4, GE, true},
		{"gt false", 4, 4, GT, false},
		{"any", 9, 1, ANY, true},
		{"open left", Open, 4, GT, true},
		{"open right", 4, Open, LT, true},
		{"both open eq", Open, Open, EQ, false},
		{"both open le", Open, Open, LE, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b, tt.cmp))
		})
	}
}

func TestComparatorInverse(t *testing.T) {
	for _, c := range []Comparator{ANY, LT, LE, EQ, GE, GT} {
		for _, a := range []Position{1, 2, 3} {
			for _, b := range []Position{1, 2, 3} {
				assert.Equal(t, Compare(a, b, c), Compare(b, a, c.Inverse()), "%v %s %v", a, c, b)
			}
		}
	}
}

func TestRange(t *testing.T) {
	r := NewRange(2, 6)
	assert.Equal(t, 4, r.Len())
	assert.True(t, r.Contains(NewRange(3, 5)))
	assert.False(t, r.Contains(NewRange(1, 5)))
	assert.True(t, r.Overlaps(NewRange(5, 9)))
	assert.False(t, r.Overlaps(NewRange(6, 9)))
	assert.Equal(t, -1, OpenRange().Len())
	assert.Equal(t, "[2,6)", r.String())

	assert.Panics(t, func() { NewRange(5, 1) })
}

func TestSpan(t *testing.T) {
	assert.Equal(t, NewRange(1, 9), Span(NewRange(4, 9), NewRange(1, 2), NewRange(3, 5)))
	assert.Equal(t, Range{Begin: 3, End: Open}, Span(Range{Begin: 3, End: Open}))
	assert.Equal(t, OpenRange(), Span())
}
