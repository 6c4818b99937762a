// Package relation implements the predicates used to decide whether two
// activations may be linked: positional relations over ranges, relational id
// offsets, and ancestry relations over activation derivations.
package relation

import (
	"fmt"
	"sort"
	"strings"

	"patternlattice/internal/position"
)

// Lineage exposes the derivation history of an activation.
type Lineage interface {
	LineageID() uint64
	// HasAncestor reports whether id appears anywhere in the derivation,
	// including the activation itself.
	HasAncestor(id uint64) bool
	Ancestors() []uint64
}

// Endpoint is one side of a relation test.
type Endpoint struct {
	Range   position.Range
	RID     int
	HasRID  bool
	Lineage Lineage
}

// Relation is an immutable predicate over two endpoints.
type Relation interface {
	Test(a, b Endpoint) bool
	// Inverse holds for (b, a) exactly when the receiver holds for (a, b).
	Inverse() Relation
	Key() string
}

// RangeRelation compares the four endpoint pairs of two ranges.
type RangeRelation struct {
	BeginBegin position.Comparator
	BeginEnd   position.Comparator
	EndBegin   position.Comparator
	EndEnd     position.Comparator
}

var (
	Any              Relation = RangeRelation{}
	Equals           Relation = RangeRelation{BeginBegin: position.EQ, EndEnd: position.EQ}
	BeginEquals      Relation = RangeRelation{BeginBegin: position.EQ}
	EndEquals        Relation = RangeRelation{EndEnd: position.EQ}
	BeginToEndEquals Relation = RangeRelation{BeginEnd: position.EQ}
	EndToBeginEquals Relation = RangeRelation{EndBegin: position.EQ}
	Contains         Relation = RangeRelation{BeginBegin: position.LE, EndEnd: position.GE}
	ContainedIn      Relation = RangeRelation{BeginBegin: position.GE, EndEnd: position.LE}
	Overlaps         Relation = RangeRelation{BeginEnd: position.LT, EndBegin: position.GT}
)

var named = map[string]Relation{
	"ANY":                 Any,
	"EQUALS":              Equals,
	"BEGIN_EQUALS":        BeginEquals,
	"END_EQUALS":          EndEquals,
	"BEGIN_TO_END_EQUALS": BeginToEndEquals,
	"END_TO_BEGIN_EQUALS": EndToBeginEquals,
	"CONTAINS":            Contains,
	"CONTAINED_IN":        ContainedIn,
	"OVERLAPS":            Overlaps,
}

// Named returns a range relation by its conventional name.
func Named(name string) (Relation, error) {
	r, ok := named[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("unknown relation %q", name)
	}
	return r, nil
}

func (r RangeRelation) Test(a, b Endpoint) bool {
	return position.Compare(a.Range.Begin, b.Range.Begin, r.BeginBegin) &&
		position.Compare(a.Range.Begin, b.Range.End, r.BeginEnd) &&
		position.Compare(a.Range.End, b.Range.Begin, r.EndBegin) &&
		position.Compare(a.Range.End, b.Range.End, r.EndEnd)
}

func (r RangeRelation) Inverse() Relation {
	return RangeRelation{
		BeginBegin: r.BeginBegin.Inverse(),
		BeginEnd:   r.EndBegin.Inverse(),
		EndBegin:   r.BeginEnd.Inverse(),
		EndEnd:     r.EndEnd.Inverse(),
	}
}

func (r RangeRelation) Key() string {
	return fmt.Sprintf("r(%s,%s,%s,%s)", r.BeginBegin, r.BeginEnd, r.EndBegin, r.EndEnd)
}

// RIDOffset holds when b.RID - a.RID == Offset. Endpoints without a
// relational id never satisfy it.
type RIDOffset struct {
	Offset int
}

func (r RIDOffset) Test(a, b Endpoint) bool {
	if !a.HasRID || !b.HasRID {
		return false
	}
	return b.RID-a.RID == r.Offset
}

func (r RIDOffset) Inverse() Relation { return RIDOffset{Offset: -r.Offset} }

func (r RIDOffset) Key() string { return fmt.Sprintf("rid(%d)", r.Offset) }

// Ancestor holds when a appears in the derivation of b.
type Ancestor struct {
	// Descendant flips the direction: b appears in the derivation of a.
	Descendant bool
}

func (r Ancestor) Test(a, b Endpoint) bool {
	if a.Lineage == nil || b.Lineage == nil {
		return false
	}
	if r.Descendant {
		return a.Lineage.HasAncestor(b.Lineage.LineageID())
	}
	return b.Lineage.HasAncestor(a.Lineage.LineageID())
}

func (r Ancestor) Inverse() Relation { return Ancestor{Descendant: !r.Descendant} }

func (r Ancestor) Key() string {
	if r.Descendant {
		return "descendant"
	}
	return "ancestor"
}

// CommonAncestor holds when both derivations share at least one activation.
type CommonAncestor struct{}

func (CommonAncestor) Test(a, b Endpoint) bool {
	if a.Lineage == nil || b.Lineage == nil {
		return false
	}
	for _, id := range a.Lineage.Ancestors() {
		if b.Lineage.HasAncestor(id) {
			return true
		}
	}
	return false
}

func (r CommonAncestor) Inverse() Relation { return r }

func (CommonAncestor) Key() string { return "common-ancestor" }

// Conjunction holds when every member holds.
type Conjunction []Relation

// All combines relations with logical AND. Nil members are dropped and a
// single member is returned unwrapped.
func All(rs ...Relation) Relation {
	var out Conjunction
	for _, r := range rs {
		switch v := r.(type) {
		case nil:
		case Conjunction:
			out = append(out, v...)
		default:
			out = append(out, v)
		}
	}
	switch len(out) {
	case 0:
		return Any
	case 1:
		return out[0]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (c Conjunction) Test(a, b Endpoint) bool {
	for _, r := range c {
		if !r.Test(a, b) {
			return false
		}
	}
	return true
}

func (c Conjunction) Inverse() Relation {
	inv := make([]Relation, len(c))
	for i, r := range c {
		inv[i] = r.Inverse()
	}
	return All(inv...)
}

func (c Conjunction) Key() string {
	keys := make([]string, len(c))
	for i, r := range c {
		keys[i] = r.Key()
	}
	return "and(" + strings.Join(keys, ",") + ")"
}
