package search

import (
	"context"
	"fmt"
	"math"
)

// Mode selects what is accumulated at terminal search nodes.
type Mode int

const (
	// ModeBest keeps only the maximum scoring terminal node.
	ModeBest Mode = iota
	// ModeSoftMax weights every terminal node by exp(score).
	ModeSoftMax
)

func (m Mode) String() string {
	if m == ModeSoftMax {
		return "softmax"
	}
	return "best"
}

// ParseMode parses "best" or "softmax".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "best":
		return ModeBest, nil
	case "softmax", "soft_max", "soft-max":
		return ModeSoftMax, nil
	}
	return ModeBest, fmt.Errorf("unknown search mode %q", s)
}

// Config bounds and parameterizes a search.
type Config struct {
	Mode Mode
	// MaxNodes bounds the search node counter; exceeding it aborts the
	// search with an *ExhaustedError. Zero means unbounded.
	MaxNodes int
	// SoftMaxCutoff skips subtrees whose bound lies this far below the best
	// score in soft-max mode; their mass is at most exp(-SoftMaxCutoff).
	SoftMaxCutoff     float64
	Tolerance         float64
	MaxEvalIterations int
	DisablePruning    bool
}

// DefaultConfig returns the defaults used by the engine.
func DefaultConfig() Config {
	return Config{
		Mode:              ModeBest,
		MaxNodes:          100000,
		SoftMaxCutoff:     30,
		Tolerance:         1e-9,
		MaxEvalIterations: 50,
	}
}

// ExhaustedError reports that the search node counter passed its bound.
type ExhaustedError struct {
	Limit   int
	Visited int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("interpretation search exhausted: %d search nodes exceed limit %d", e.Visited, e.Limit)
}

// NodeState is the lifecycle state of a search node.
type NodeState int

const (
	// Open nodes still have undecided primitives to branch on.
	Open NodeState = iota
	// Expanded nodes have had both children explored.
	Expanded
	// Terminal nodes have no undecided primitives left.
	Terminal
	// Infeasible nodes selected a fully conflicting set and were abandoned.
	Infeasible
	// Pruned nodes were skipped because their bound could not win.
	Pruned
)

func (s NodeState) String() string {
	return [...]string{"open", "expanded", "terminal", "infeasible", "pruned"}[s]
}

// Node is one node of the search tree.
type Node struct {
	ID    int
	Depth int
	// Prim is the primitive decided on the way into this node, -1 at the root.
	Prim     int
	Selected bool
	State    NodeState

	// Open lists the primitives that were decidable when the node was
	// entered, most affecting first.
	Open []int
	// Modified holds exactly what this node changed, for backtracking.
	modified []undo
	// Delta is the score change caused by this node's decision.
	Delta float64
	// Bound is the optimistic score of the subtree below the node.
	Bound float64
}

// Modified returns the number of primitive and activation records the
// node changed.
func (n *Node) Modified() int { return len(n.modified) }

type frame struct {
	node  *Node
	prim  int
	phase int
}

// Searcher runs one search over a problem.
type Searcher struct {
	p   *Problem
	ix  *index
	cfg Config
	st  *state

	// counter is the search node id counter, exposed as Visited.
	counter      int
	steps        int
	pruned       int
	leaves       int
	rediscovered int
	unsettled    int
	rootOpen     map[int]struct{}

	best *leafSnapshot
	acc  *softMaxAcc
	// OnNode is called for every node entered; used for tracing.
	OnNode func(*Node)
}

type leafSnapshot struct {
	score   float64
	settled bool
	prims  []Decision
	values []float64
	nets   []float64
}

// New prepares a search over p.
func New(p *Problem, cfg Config) (*Searcher, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = normalize(p)
	ix := buildIndex(p)
	s := &Searcher{p: p, ix: ix, cfg: cfg, st: newState(p, ix, cfg)}
	if cfg.Mode == ModeSoftMax {
		s.acc = newSoftMaxAcc(len(p.Activations))
	}
	return s, nil
}

func normalize(p *Problem) *Problem {
	out := *p
	out.Conflicts = make([]Conflict, len(p.Conflicts))
	for i, c := range p.Conflicts {
		out.Conflicts[i] = Conflict{Prims: uniq(c.Prims)}
	}
	return &out
}

// Run searches p with cfg and returns the committed interpretation.
func Run(ctx context.Context, p *Problem, cfg Config) (*Result, error) {
	s, err := New(p, cfg)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx)
}

// Visited returns the current value of the search node id counter.
func (s *Searcher) Visited() int { return s.counter }

func (s *Searcher) newNode(parent *Node, prim int, selected bool) (*Node, error) {
	s.counter++
	if s.cfg.MaxNodes > 0 && s.counter > s.cfg.MaxNodes {
		return nil, &ExhaustedError{Limit: s.cfg.MaxNodes, Visited: s.counter}
	}
	n := &Node{ID: s.counter, Prim: prim, Selected: selected}
	if parent != nil {
		n.Depth = parent.Depth + 1
	}
	return n, nil
}

// Run executes the search. The tree is walked with an explicit stack; each
// frame's node owns its undo list so leaving a branch restores exactly the
// activations it touched.
func (s *Searcher) Run(ctx context.Context) (*Result, error) {
	root, err := s.newNode(nil, -1, false)
	if err != nil {
		return nil, err
	}
	all := make([]int, s.p.NumPrims())
	for q := range all {
		all[q] = q
	}
	if _, ok := s.st.propagate(all, &root.modified); !ok {
		return nil, fmt.Errorf("root interpretation is infeasible")
	}
	every := make([]int, len(s.p.Activations))
	for a := range every {
		every[a] = a
	}
	s.evaluate(every, &root.modified)
	root.Bound = s.st.upper
	s.rootOpen = make(map[int]struct{})
	for q := 0; q < s.p.NumPrims(); q++ {
		if s.st.enabled(q) {
			s.rootOpen[q] = struct{}{}
		}
	}

	stack := []*frame{{node: root}}
	for len(stack) > 0 {
		s.steps++
		if s.steps%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		f := stack[len(stack)-1]
		switch f.phase {
		case 0:
			if s.OnNode != nil {
				s.OnNode(f.node)
			}
			f.node.Open = s.openPrims()
			if len(f.node.Open) == 0 {
				f.node.State = Terminal
				s.terminal()
				stack = s.pop(stack)
				continue
			}
			f.prim = f.node.Open[0]
			f.phase = 1
		case 1, 2:
			selected := f.phase == 1
			f.phase++
			child, err := s.newNode(f.node, f.prim, selected)
			if err != nil {
				return nil, err
			}
			if s.enter(child) {
				stack = append(stack, &frame{node: child})
			}
		default:
			f.node.State = Expanded
			stack = s.pop(stack)
		}
	}
	return s.result(), nil
}

func (s *Searcher) pop(stack []*frame) []*frame {
	f := stack[len(stack)-1]
	s.st.rollback(f.node.modified)
	f.node.modified = nil
	return stack[:len(stack)-1]
}

// enter applies the child's decision. It returns false, with the state
// restored, when the child is infeasible or pruned.
func (s *Searcher) enter(n *Node) bool {
	before := s.st.score
	d := Excluded
	if n.Selected {
		d = Selected
	}
	s.st.setPrim(n.Prim, d, &n.modified)
	touched, ok := s.st.propagate([]int{n.Prim}, &n.modified)
	if !ok {
		n.State = Infeasible
		s.st.rollback(n.modified)
		n.modified = nil
		return false
	}
	s.evaluate(s.st.closureOf(touched), &n.modified)
	n.Delta = s.st.score - before
	n.Bound = s.st.upper
	if s.prune(n.Bound) {
		n.State = Pruned
		s.pruned++
		s.st.rollback(n.modified)
		n.modified = nil
		return false
	}
	return true
}

func (s *Searcher) evaluate(set []int, mod *[]undo) {
	if !s.st.evaluate(set, mod) {
		s.unsettled++
	}
}

func (s *Searcher) prune(bound float64) bool {
	if s.cfg.DisablePruning {
		return false
	}
	if s.cfg.Mode == ModeSoftMax {
		return s.acc.leaves > 0 && bound < s.acc.max-s.cfg.SoftMaxCutoff
	}
	return s.best != nil && bound <= s.best.score+s.cfg.Tolerance
}

// openPrims returns the decidable primitives, most affecting first.
func (s *Searcher) openPrims() []int {
	var open []int
	for q := 0; q < s.p.NumPrims(); q++ {
		if s.st.enabled(q) {
			open = append(open, q)
		}
	}
	for i := 1; i < len(open); i++ {
		for j := i; j > 0 && s.weight(open[j]) > s.weight(open[j-1]); j-- {
			open[j], open[j-1] = open[j-1], open[j]
		}
	}
	for _, q := range open {
		if _, ok := s.rootOpen[q]; !ok {
			s.rootOpen[q] = struct{}{}
			s.rediscovered++
		}
	}
	return open
}

func (s *Searcher) weight(q int) int { return len(s.ix.closure[q]) }

func (s *Searcher) terminal() {
	s.leaves++
	score := s.st.score
	if s.acc != nil {
		s.acc.add(score, s.st)
	}
	if s.best == nil || score > s.best.score+s.cfg.Tolerance {
		s.best = &leafSnapshot{
			score:   score,
			settled: s.st.unsettled == 0,
			prims:  append([]Decision(nil), s.st.prims...),
			values: append([]float64(nil), s.st.v...),
			nets:   append([]float64(nil), s.st.net...),
		}
	}
}

// Evaluate scores one complete assignment of the primitives without
// searching. It reports false when the assignment selects a conflict.
// Settled is false when recurrent evaluation did not reach a fixpoint.
func Evaluate(p *Problem, selected []bool, cfg Config) (score float64, values []float64, ok, settled bool) {
	p = normalize(p)
	ix := buildIndex(p)
	st := newState(p, ix, cfg)
	for q := range st.prims {
		if q < len(selected) && selected[q] {
			st.prims[q] = Selected
		} else {
			st.prims[q] = Excluded
		}
	}
	for _, c := range p.Conflicts {
		all := true
		for _, q := range c.Prims {
			if st.prims[q] != Selected {
				all = false
				break
			}
		}
		if all {
			return math.Inf(-1), nil, false, true
		}
	}
	every := make([]int, len(p.Activations))
	for a := range every {
		every[a] = a
	}
	var mod []undo
	settled = st.evaluate(every, &mod)
	return st.score, st.v, true, settled
}
