// Package interpr maintains the per-document interpretation lattice: the
// primitive choices an interpretation search can make, their memoized
// conjunctions, and the conflicts that make some combinations impossible.
//
// A Lattice is owned by one document and is not safe for concurrent use.
package interpr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind distinguishes the three option variants.
type Kind int

const (
	Bottom Kind = iota
	Primitive
	Conjunction
)

func (k Kind) String() string {
	switch k {
	case Bottom:
		return "bottom"
	case Primitive:
		return "primitive"
	case Conjunction:
		return "conjunction"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Option is a node of the interpretation lattice. Its meaning is the
// conjunction of the primitive choices listed in Prims.
type Option struct {
	id    int
	kind  Kind
	label string
	// sorted primitive indices; empty for bottom
	prims []int

	conflicts map[int]*Option

	reduced    []int
	reducedGen int
}

// ID returns the option's identifier within its lattice.
func (o *Option) ID() int { return o.id }

// Kind returns the option variant.
func (o *Option) Kind() Kind { return o.kind }

// Label returns the label given to a primitive, or a derived label.
func (o *Option) Label() string { return o.label }

// Prims returns the sorted primitive indices the option is built from.
func (o *Option) Prims() []int {
	return append([]int(nil), o.prims...)
}

// Prim returns the primitive index of a primitive option, or -1.
func (o *Option) Prim() int {
	if o.kind != Primitive {
		return -1
	}
	return o.prims[0]
}

// IsBottom reports whether o is the bottom option.
func (o *Option) IsBottom() bool { return o.kind == Bottom }

func (o *Option) String() string {
	return fmt.Sprintf("%s#%d%v", o.kind, o.id, o.prims)
}

// hasPrim reports whether primitive p is part of o.
func (o *Option) hasPrim(p int) bool {
	i := sort.SearchInts(o.prims, p)
	return i < len(o.prims) && o.prims[i] == p
}

// Contains reports whether o subsumes other, i.e. every primitive of other
// is also a primitive of o. Every option contains bottom.
func (o *Option) Contains(other *Option) bool {
	if len(other.prims) > len(o.prims) {
		return false
	}
	for _, p := range other.prims {
		if !o.hasPrim(p) {
			return false
		}
	}
	return true
}

func mergePrims(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func primKey(prims []int) string {
	var sb strings.Builder
	for i, p := range prims {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(strconv.Itoa(p))
	}
	return sb.String()
}
