package search

import "math"

// Leaf summarizes one terminal node.
type Leaf struct {
	Score       float64
	Probability float64
	Selected    []int
}

// Result is the interpretation chosen by a search.
type Result struct {
	Mode Mode
	// Score is the best terminal score in best mode and the expected score
	// under the soft-max distribution in soft-max mode.
	Score float64
	// Decisions holds the best terminal node's decision per primitive.
	Decisions []Decision
	// Values and Nets hold per-activation values of the best terminal node
	// in best mode and probability weighted averages in soft-max mode.
	Values []float64
	Nets   []float64
	// Probability is the mass of terminal nodes in which the activation is
	// active. In best mode it is 1 or 0.
	Probability []float64
	// Active marks activations active in the best terminal node.
	Active []bool
	Leaves []Leaf

	Visited      int
	Pruned       int
	Terminals    int
	Rediscovered int
	// Unsettled counts the evaluations that hit the iteration limit before
	// their recurrent values reached a fixpoint.
	Unsettled int
	// Settled is false when the committed values rest on such an
	// evaluation: the best terminal node in best mode, any accumulated
	// terminal node in soft-max mode.
	Settled bool
}

// SelectedPrims lists the selected primitives of the best terminal node.
func (r *Result) SelectedPrims() []int {
	var out []int
	for q, d := range r.Decisions {
		if d == Selected {
			out = append(out, q)
		}
	}
	return out
}

type softMaxAcc struct {
	max    float64
	z      float64
	value  []float64
	net    []float64
	active []float64
	leaves    int
	unsettled int
	leafs     []Leaf
	zScore    float64
}

func newSoftMaxAcc(n int) *softMaxAcc {
	return &softMaxAcc{
		max:    math.Inf(-1),
		value:  make([]float64, n),
		net:    make([]float64, n),
		active: make([]float64, n),
	}
}

// add folds a terminal node into the running log-sum-exp accumulators,
// rescaling them whenever a new maximum appears.
func (a *softMaxAcc) add(score float64, st *state) {
	if score > a.max {
		scale := math.Exp(a.max - score)
		if a.leaves == 0 {
			scale = 0
		}
		a.z *= scale
		a.zScore *= scale
		for i := range a.value {
			a.value[i] *= scale
			a.net[i] *= scale
			a.active[i] *= scale
		}
		a.max = score
	}
	w := math.Exp(score - a.max)
	a.z += w
	a.zScore += w * score
	for i := range a.value {
		a.value[i] += w * st.v[i]
		if st.activity(i) == definite {
			a.active[i] += w
			a.net[i] += w * st.net[i]
		}
	}
	var sel []int
	for q, d := range st.prims {
		if d == Selected {
			sel = append(sel, q)
		}
	}
	a.leafs = append(a.leafs, Leaf{Score: score, Selected: sel})
	a.leaves++
	if st.unsettled > 0 {
		a.unsettled++
	}
}

func (s *Searcher) result() *Result {
	r := &Result{
		Mode:         s.cfg.Mode,
		Visited:      s.counter,
		Pruned:       s.pruned,
		Terminals:    s.leaves,
		Rediscovered: s.rediscovered,
		Unsettled:    s.unsettled,
		Settled:      true,
	}
	n := len(s.p.Activations)
	if s.best != nil {
		r.Score = s.best.score
		r.Settled = s.best.settled
		r.Decisions = s.best.prims
		r.Values = s.best.values
		r.Nets = s.best.nets
		r.Active = make([]bool, n)
		r.Probability = make([]float64, n)
		for i, act := range s.p.Activations {
			on := true
			for _, q := range act.Option {
				if s.best.prims[q] != Selected {
					on = false
					break
				}
			}
			r.Active[i] = on
			if on {
				r.Probability[i] = 1
			}
		}
	}
	if s.acc == nil || s.acc.z == 0 {
		return r
	}
	acc := s.acc
	r.Settled = acc.unsettled == 0
	r.Score = acc.zScore / acc.z
	r.Values = make([]float64, n)
	r.Nets = make([]float64, n)
	for i := 0; i < n; i++ {
		r.Values[i] = acc.value[i] / acc.z
		r.Probability[i] = acc.active[i] / acc.z
		if acc.active[i] > 0 {
			r.Nets[i] = acc.net[i] / acc.active[i]
		}
	}
	r.Leaves = make([]Leaf, len(acc.leafs))
	for i, l := range acc.leafs {
		l.Probability = math.Exp(l.Score-acc.max) / acc.z
		r.Leaves[i] = l
	}
	return r
}
