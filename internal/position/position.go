// Package position provides document offsets and ranges with the comparison
// operators used when relations between activations are checked.
package position

import (
	"fmt"
	"math"
)

// Position is an offset into a document. Open marks an unbounded position.
type Position int

// Open is the unbounded sentinel position.
const Open Position = math.MinInt

// IsOpen reports whether the position is unbounded.
func (p Position) IsOpen() bool {
	return p == Open
}

func (p Position) String() string {
	if p.IsOpen() {
		return "open"
	}
	return fmt.Sprintf("%d", int(p))
}

// Comparator is one of the relational operators between two positions.
type Comparator int

const (
	// ANY always holds.
	ANY Comparator = iota
	LT
	LE
	EQ
	GE
	GT
)

var comparatorNames = map[Comparator]string{
	ANY: "any",
	LT:  "<",
	LE:  "<=",
	EQ:  "=",
	GE:  ">=",
	GT:  ">",
}

func (c Comparator) String() string {
	if s, ok := comparatorNames[c]; ok {
		return s
	}
	return fmt.Sprintf("comparator(%d)", int(c))
}

// Inverse returns the comparator that holds for (b, a) whenever c holds for (a, b).
func (c Comparator) Inverse() Comparator {
	switch c {
	case LT:
		return GT
	case LE:
		return GE
	case GE:
		return LE
	case GT:
		return LT
	default:
		return c
	}
}

// Compare evaluates a <cmp> b. An open position satisfies every comparator,
// except that two open positions are never reported as equal.
func Compare(a, b Position, cmp Comparator) bool {
	if cmp == ANY {
		return true
	}
	if a.IsOpen() || b.IsOpen() {
		return !(cmp == EQ && a.IsOpen() && b.IsOpen())
	}
	switch cmp {
	case LT:
		return a < b
	case LE:
		return a <= b
	case EQ:
		return a == b
	case GE:
		return a >= b
	case GT:
		return a > b
	}
	return false
}

// Range is a half-open span [Begin, End) of a document.
type Range struct {
	Begin Position
	End   Position
}

// NewRange builds a range and panics if begin > end for bounded positions.
func NewRange(begin, end int) Range {
	r := Range{Begin: Position(begin), End: Position(end)}
	if !r.Valid() {
		panic(fmt.Sprintf("position: invalid range [%d,%d)", begin, end))
	}
	return r
}

// OpenRange returns a range unbounded on both sides.
func OpenRange() Range {
	return Range{Begin: Open, End: Open}
}

// Valid reports whether begin <= end or either side is open.
func (r Range) Valid() bool {
	if r.Begin.IsOpen() || r.End.IsOpen() {
		return true
	}
	return r.Begin <= r.End
}

// Len returns the range length, or -1 for ranges with an open side.
func (r Range) Len() int {
	if r.Begin.IsOpen() || r.End.IsOpen() {
		return -1
	}
	return int(r.End - r.Begin)
}

// Contains reports whether o lies within r.
func (r Range) Contains(o Range) bool {
	return Compare(r.Begin, o.Begin, LE) && Compare(r.End, o.End, GE)
}

// Overlaps reports whether the ranges share at least one offset.
func (r Range) Overlaps(o Range) bool {
	return Compare(r.Begin, o.End, LT) && Compare(o.Begin, r.End, LT)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s,%s)", r.Begin, r.End)
}

// Span returns the smallest range covering all bounded endpoints of rs.
// Open endpoints are ignored unless every endpoint on that side is open.
func Span(rs ...Range) Range {
	out := OpenRange()
	for _, r := range rs {
		if !r.Begin.IsOpen() && (out.Begin.IsOpen() || r.Begin < out.Begin) {
			out.Begin = r.Begin
		}
		if !r.End.IsOpen() && (out.End.IsOpen() || r.End > out.End) {
			out.End = r.End
		}
	}
	return out
}

// Less orders ranges by begin then end; open positions sort first.
func Less(a, b Range) bool {
	if a.Begin != b.Begin {
		return a.Begin < b.Begin
	}
	return a.End < b.End
}
