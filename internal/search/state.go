package search

import (
	"math"
	"sort"
)

// Decision is the status of a primitive in the current branch.
type Decision int8

const (
	Undecided Decision = iota
	Selected
	Excluded
)

func (d Decision) String() string {
	switch d {
	case Selected:
		return "selected"
	case Excluded:
		return "excluded"
	}
	return "undecided"
}

type activity int8

const (
	impossible activity = iota
	possible
	definite
)

// undo restores one primitive or one activation to its previous state.
type undo struct {
	prim int // -1 for activation records, unsettledMark for evaluations that did not settle
	dec  Decision

	act                    int
	v, vU, vL              float64
	net, contrib, contribU float64
}

// state is the mutable evaluation state shared by every search node. Each
// node records what it changed so backtracking restores exactly that.
type state struct {
	p   *Problem
	ix  *index
	cfg Config

	prims []Decision

	v, vU, vL []float64
	net       []float64
	contrib   []float64
	contribU  []float64

	score float64
	upper float64
	// unsettled counts the evaluations behind the current values that hit
	// the iteration limit before settling.
	unsettled int
}

const unsettledMark = -2

func newState(p *Problem, ix *index, cfg Config) *state {
	n := len(p.Activations)
	return &state{
		p:        p,
		ix:       ix,
		cfg:      cfg,
		prims:    make([]Decision, p.NumPrims()),
		v:        make([]float64, n),
		vU:       make([]float64, n),
		vL:       make([]float64, n),
		net:      make([]float64, n),
		contrib:  make([]float64, n),
		contribU: make([]float64, n),
	}
}

func (s *state) activity(a int) activity {
	out := definite
	for _, q := range s.p.Activations[a].Option {
		switch s.prims[q] {
		case Excluded:
			return impossible
		case Undecided:
			out = possible
		}
	}
	return out
}

func apply(fn func(float64) float64, x float64) float64 {
	if fn == nil {
		return x
	}
	return fn(x)
}

// sums returns the weighted input sum under the current values together
// with its interval bounds.
func (s *state) sums(a int) (sum, sumU, sumL float64) {
	act := &s.p.Activations[a]
	sum, sumU, sumL = act.Bias, act.Bias, act.Bias
	for _, l := range act.Inputs {
		sum += l.Weight * s.v[l.From]
		if l.Weight >= 0 {
			sumU += l.Weight * s.vU[l.From]
			sumL += l.Weight * s.vL[l.From]
		} else {
			sumU += l.Weight * s.vL[l.From]
			sumL += l.Weight * s.vU[l.From]
		}
	}
	return sum, sumU, sumL
}

func (s *state) values(a int) (v, vU, vL float64) {
	act := &s.p.Activations[a]
	st := s.activity(a)
	if st == impossible {
		return 0, 0, 0
	}
	var f, fU, fL float64
	if act.Fixed {
		f, fU, fL = act.FixedValue, act.FixedValue, act.FixedValue
	} else {
		sum, sumU, sumL := s.sums(a)
		f, fU, fL = apply(act.Fn, sum), apply(act.Fn, sumU), apply(act.Fn, sumL)
	}
	fU, fL = math.Min(fU, boundLimit), math.Max(fL, -boundLimit)
	if st == definite {
		return f, fU, fL
	}
	return 0, math.Max(0, fU), math.Min(0, fL)
}

// boundLimit caps interval bounds so that unbounded activation functions on
// recurrent cycles cannot drive them to infinity.
const boundLimit = 1e12

func (s *state) contributions(a int) (net, contrib, contribU float64) {
	act := &s.p.Activations[a]
	var netU float64
	if act.Fixed {
		net, netU = act.FixedValue, act.FixedValue
	} else {
		net, netU, _ = s.sums(a)
	}
	switch s.activity(a) {
	case definite:
		return net, net, netU
	case possible:
		return net, 0, math.Max(0, netU)
	}
	return net, 0, 0
}

// setPrim changes a primitive and appends the undo record to mod.
func (s *state) setPrim(q int, d Decision, mod *[]undo) {
	*mod = append(*mod, undo{prim: q, dec: s.prims[q]})
	s.prims[q] = d
}

// evaluate recomputes the activations in set (sorted ascending) from zero
// until the values settle, holding every other activation fixed, and keeps
// the running score and upper bound in step. It reports false when the
// values still moved after MaxEvalIterations rounds.
func (s *state) evaluate(set []int, mod *[]undo) (settled bool) {
	for _, a := range set {
		*mod = append(*mod, undo{
			prim: -1, act: a,
			v: s.v[a], vU: s.vU[a], vL: s.vL[a],
			net: s.net[a], contrib: s.contrib[a], contribU: s.contribU[a],
		})
		s.v[a], s.vU[a], s.vL[a] = 0, 0, 0
	}
	limit := s.cfg.MaxEvalIterations
	if limit <= 0 {
		limit = 1
	}
	for i := 0; i < limit && !settled; i++ {
		delta := 0.0
		for _, a := range set {
			v, vU, vL := s.values(a)
			delta = math.Max(delta, math.Abs(v-s.v[a]))
			delta = math.Max(delta, math.Abs(vU-s.vU[a]))
			delta = math.Max(delta, math.Abs(vL-s.vL[a]))
			s.v[a], s.vU[a], s.vL[a] = v, vU, vL
		}
		settled = delta <= s.cfg.Tolerance
	}
	if !settled {
		*mod = append(*mod, undo{prim: unsettledMark})
		s.unsettled++
	}
	for _, a := range set {
		net, c, cU := s.contributions(a)
		s.score += c - s.contrib[a]
		s.upper += cU - s.contribU[a]
		s.net[a], s.contrib[a], s.contribU[a] = net, c, cU
	}
	return settled
}

// rollback undoes mod in reverse order.
func (s *state) rollback(mod []undo) {
	for i := len(mod) - 1; i >= 0; i-- {
		u := mod[i]
		if u.prim == unsettledMark {
			s.unsettled--
			continue
		}
		if u.prim >= 0 {
			s.prims[u.prim] = u.dec
			continue
		}
		a := u.act
		s.score += u.contrib - s.contrib[a]
		s.upper += u.contribU - s.contribU[a]
		s.v[a], s.vU[a], s.vL[a] = u.v, u.vU, u.vL
		s.net[a], s.contrib[a], s.contribU[a] = u.net, u.contrib, u.contribU
	}
}

// propagate applies the consequences of the primitives in changed: conflicts
// with a single undecided primitive left exclude it, and primitives whose
// enablers were excluded are excluded as well. It returns every primitive
// touched and false if a conflict became fully selected.
func (s *state) propagate(changed []int, mod *[]undo) ([]int, bool) {
	touched := append([]int(nil), changed...)
	queue := append([]int(nil), changed...)
	for len(queue) > 0 {
		q := queue[0]
		queue = queue[1:]
		if s.prims[q] == Excluded {
			for _, d := range s.ix.dependents[q] {
				if s.prims[d] == Undecided {
					s.setPrim(d, Excluded, mod)
					touched = append(touched, d)
					queue = append(queue, d)
				}
			}
			continue
		}
		for _, ci := range s.ix.conflictsOf[q] {
			last, open, satisfied := -1, 0, false
			for _, r := range s.p.Conflicts[ci].Prims {
				switch s.prims[r] {
				case Excluded:
					satisfied = true
				case Undecided:
					open++
					last = r
				}
				if satisfied {
					break
				}
			}
			if satisfied {
				continue
			}
			switch open {
			case 0:
				return touched, false
			case 1:
				s.setPrim(last, Excluded, mod)
				touched = append(touched, last)
				queue = append(queue, last)
			}
		}
	}
	return touched, true
}

// closureOf merges the precomputed closures of prims.
func (s *state) closureOf(prims []int) []int {
	if len(prims) == 1 {
		return s.ix.closure[prims[0]]
	}
	seen := make(map[int]struct{})
	for _, q := range prims {
		for _, a := range s.ix.closure[q] {
			seen[a] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// enabled reports whether q is undecided and all its enablers are selected.
func (s *state) enabled(q int) bool {
	if s.prims[q] != Undecided {
		return false
	}
	for _, e := range s.ix.enablers[q] {
		if s.prims[e] != Selected {
			return false
		}
	}
	return true
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
