package interpr

// Conflict is a registered mutual exclusion between two options.
type Conflict struct {
	A, B *Option
	// Union lists the primitives that may not all be selected together.
	Union []int
}

type pairKey struct{ lo, hi int }

type compatEntry struct {
	gen int
	ok  bool
}

// Lattice holds the options of one document.
type Lattice struct {
	bottom  *Option
	options []*Option
	prims   []*Option
	memo    map[string]*Option

	conflicts []Conflict
	byPrim    map[int][]int
	pairs     map[pairKey]struct{}

	gen    int
	compat map[pairKey]compatEntry
}

// New creates a lattice holding only the bottom option.
func New() *Lattice {
	l := &Lattice{
		memo:   make(map[string]*Option),
		byPrim: make(map[int][]int),
		pairs:  make(map[pairKey]struct{}),
		compat: make(map[pairKey]compatEntry),
	}
	l.bottom = l.register(&Option{kind: Bottom, label: "bottom"})
	l.memo[""] = l.bottom
	return l
}

func (l *Lattice) register(o *Option) *Option {
	o.id = len(l.options)
	o.conflicts = make(map[int]*Option)
	o.reducedGen = -1
	l.options = append(l.options, o)
	return o
}

// Bottom returns the option compatible with every other option.
func (l *Lattice) Bottom() *Option { return l.bottom }

// Option returns the option with the given id, or nil.
func (l *Lattice) Option(id int) *Option {
	if id < 0 || id >= len(l.options) {
		return nil
	}
	return l.options[id]
}

// Len returns the number of options, bottom included.
func (l *Lattice) Len() int { return len(l.options) }

// NewPrimitive creates a fresh free boolean choice.
func (l *Lattice) NewPrimitive(label string) *Option {
	p := len(l.prims)
	o := l.register(&Option{kind: Primitive, label: label, prims: []int{p}})
	l.prims = append(l.prims, o)
	l.memo[primKey(o.prims)] = o
	return o
}

// Primitives returns the primitive options indexed by primitive number.
func (l *Lattice) Primitives() []*Option {
	return append([]*Option(nil), l.prims...)
}

// Primitive returns the primitive option with index p, or nil.
func (l *Lattice) Primitive(p int) *Option {
	if p < 0 || p >= len(l.prims) {
		return nil
	}
	return l.prims[p]
}

// Add returns the memoized conjunction of a and b. When isConflict is set,
// a and b are additionally recorded as mutually exclusive in both
// directions. Conflicts involving bottom are ignored since bottom must stay
// compatible with everything.
func (l *Lattice) Add(isConflict bool, a, b *Option) *Option {
	if isConflict && a != b && !a.IsBottom() && !b.IsBottom() {
		l.addConflict(a, b)
	}
	return l.conjoin(a, b)
}

func (l *Lattice) conjoin(a, b *Option) *Option {
	switch {
	case a.Contains(b):
		return a
	case b.Contains(a):
		return b
	}
	prims := mergePrims(a.prims, b.prims)
	key := primKey(prims)
	if o, ok := l.memo[key]; ok {
		return o
	}
	o := l.register(&Option{kind: Conjunction, label: a.label + "&" + b.label, prims: prims})
	l.memo[key] = o
	return o
}

// Conjoin folds Add without conflicts over opts, starting from bottom.
func (l *Lattice) Conjoin(opts ...*Option) *Option {
	out := l.bottom
	for _, o := range opts {
		out = l.conjoin(out, o)
	}
	return out
}

func (l *Lattice) addConflict(a, b *Option) {
	k := orderedKey(a.id, b.id)
	if _, ok := l.pairs[k]; ok {
		return
	}
	l.pairs[k] = struct{}{}
	a.conflicts[b.id] = b
	b.conflicts[a.id] = a

	idx := len(l.conflicts)
	c := Conflict{A: a, B: b, Union: mergePrims(a.prims, b.prims)}
	l.conflicts = append(l.conflicts, c)
	for _, p := range c.Union {
		l.byPrim[p] = append(l.byPrim[p], idx)
	}
	l.gen++
}

func orderedKey(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Conflicts reports whether a and b were registered as mutually exclusive.
func (l *Lattice) Conflicts(a, b *Option) bool {
	_, ok := a.conflicts[b.id]
	return ok
}

// ConflictList returns every registered conflict in registration order.
func (l *Lattice) ConflictList() []Conflict {
	return append([]Conflict(nil), l.conflicts...)
}

// reducedConflicts returns the indices of conflicts touching any primitive
// of o. The list is cached on o until a new conflict is registered.
func (l *Lattice) reducedConflicts(o *Option) []int {
	if o.reducedGen == l.gen {
		return o.reduced
	}
	seen := make(map[int]struct{})
	var out []int
	for _, p := range o.prims {
		for _, ci := range l.byPrim[p] {
			if _, ok := seen[ci]; ok {
				continue
			}
			seen[ci] = struct{}{}
			out = append(out, ci)
		}
	}
	o.reduced = out
	o.reducedGen = l.gen
	return out
}

// Compatible reports whether a and b can hold together: they do not
// conflict directly and their combined primitives cover no registered
// conflict. Results are cached per pair until the conflict set changes.
func (l *Lattice) Compatible(a, b *Option) bool {
	if a.IsBottom() || b.IsBottom() {
		return true
	}
	if l.Conflicts(a, b) {
		return false
	}
	k := orderedKey(a.id, b.id)
	if e, ok := l.compat[k]; ok && e.gen == l.gen {
		return e.ok
	}
	ok := l.compatible(a, b)
	l.compat[k] = compatEntry{gen: l.gen, ok: ok}
	return ok
}

func (l *Lattice) compatible(a, b *Option) bool {
	union := &Option{prims: mergePrims(a.prims, b.prims)}
	for _, list := range [][]int{l.reducedConflicts(a), l.reducedConflicts(b)} {
		for _, ci := range list {
			c := l.conflicts[ci]
			if union.Contains(&Option{prims: c.Union}) {
				return false
			}
		}
	}
	return true
}

// Close drops every option and conflict.
func (l *Lattice) Close() {
	l.options = nil
	l.prims = nil
	l.memo = nil
	l.conflicts = nil
	l.byPrim = nil
	l.pairs = nil
	l.compat = nil
}
