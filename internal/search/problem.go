// Package search resolves mutually exclusive activation choices with a
// branch-and-bound walk over the undecided primitive options of a document.
//
// The search works on an index-based Problem: activations and primitives
// are addressed by position in their slices, and every edge is an index.
// The engine lowers a document into a Problem, runs the search, and commits
// the Result back onto its activations.
package search

import "fmt"

// Link feeds the value of activation From into an activation's weighted sum.
type Link struct {
	From      int
	Weight    float64
	Recurrent bool
}

// Activation is one candidate activation of the problem.
type Activation struct {
	Label string
	Bias  float64
	// Fn must be monotone non-decreasing. Nil means identity.
	Fn func(float64) float64
	// Fixed activations carry an externally supplied value and no inputs.
	Fixed      bool
	FixedValue float64
	// Option lists every primitive that must be selected for the
	// activation to be active, Own included.
	Option []int
	// Own is the primitive created for this activation, or -1.
	Own    int
	Inputs []Link
}

// Conflict forbids selecting all of Prims together.
type Conflict struct {
	Prims []int
}

// Problem is the search input for one document.
type Problem struct {
	PrimLabels  []string
	Activations []Activation
	Conflicts   []Conflict
}

// NumPrims returns the number of primitives.
func (p *Problem) NumPrims() int { return len(p.PrimLabels) }

// Validate checks that every index is in range.
func (p *Problem) Validate() error {
	n := len(p.Activations)
	np := p.NumPrims()
	for i, a := range p.Activations {
		if a.Own >= np || a.Own < -1 {
			return fmt.Errorf("activation %d (%s): own primitive %d out of range", i, a.Label, a.Own)
		}
		for _, q := range a.Option {
			if q < 0 || q >= np {
				return fmt.Errorf("activation %d (%s): option primitive %d out of range", i, a.Label, q)
			}
		}
		if a.Fixed && len(a.Inputs) > 0 {
			return fmt.Errorf("activation %d (%s): fixed activations take no inputs", i, a.Label)
		}
		for _, l := range a.Inputs {
			if l.From < 0 || l.From >= n {
				return fmt.Errorf("activation %d (%s): input %d out of range", i, a.Label, l.From)
			}
		}
	}
	for i, c := range p.Conflicts {
		if len(c.Prims) == 0 {
			return fmt.Errorf("conflict %d is empty", i)
		}
		for _, q := range c.Prims {
			if q < 0 || q >= np {
				return fmt.Errorf("conflict %d: primitive %d out of range", i, q)
			}
		}
	}
	return nil
}

// index holds the derived adjacency the search needs.
type index struct {
	outputs     [][]int
	byPrim      [][]int // activations whose option contains the primitive
	enablers    [][]int // primitives that must be selected before a primitive is decidable
	dependents  [][]int // primitives whose enablers contain the primitive
	conflictsOf [][]int
	closure     [][]int // sorted activations a decision on the primitive can change
}

func buildIndex(p *Problem) *index {
	n := len(p.Activations)
	np := p.NumPrims()
	ix := &index{
		outputs:     make([][]int, n),
		byPrim:      make([][]int, np),
		enablers:    make([][]int, np),
		dependents:  make([][]int, np),
		conflictsOf: make([][]int, np),
		closure:     make([][]int, np),
	}
	for i, a := range p.Activations {
		for _, l := range a.Inputs {
			ix.outputs[l.From] = append(ix.outputs[l.From], i)
		}
		for _, q := range a.Option {
			ix.byPrim[q] = append(ix.byPrim[q], i)
		}
		if a.Own >= 0 && ix.enablers[a.Own] == nil {
			en := []int{}
			for _, q := range a.Option {
				if q != a.Own {
					en = append(en, q)
				}
			}
			ix.enablers[a.Own] = en
		}
	}
	for q, en := range ix.enablers {
		for _, e := range en {
			ix.dependents[e] = append(ix.dependents[e], q)
		}
	}
	for ci, c := range p.Conflicts {
		for _, q := range uniq(c.Prims) {
			ix.conflictsOf[q] = append(ix.conflictsOf[q], ci)
		}
	}
	for q := 0; q < np; q++ {
		ix.closure[q] = ix.forward(ix.byPrim[q])
	}
	return ix
}

// forward returns the sorted set of activations reachable from seeds
// through output links, seeds included.
func (ix *index) forward(seeds []int) []int {
	seen := make(map[int]struct{}, len(seeds))
	stack := append([]int(nil), seeds...)
	for len(stack) > 0 {
		a := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		stack = append(stack, ix.outputs[a]...)
	}
	return sortedKeys(seen)
}

func uniq(xs []int) []int {
	seen := make(map[int]struct{}, len(xs))
	out := make([]int, 0, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}
