package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"patternlattice/internal/relation"
)

// Kind distinguishes the three lattice node variants.
type Kind int

const (
	// InputKind nodes lift the activations of one neuron into the lattice.
	InputKind Kind = iota
	// AndKind nodes extend a parent conjunction by one more input.
	AndKind
	// OrKind nodes collect the conjunctions of one neuron.
	OrKind
)

func (k Kind) String() string {
	switch k {
	case InputKind:
		return "input"
	case AndKind:
		return "and"
	case OrKind:
		return "or"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SlotRelation is a relation an added input must satisfy with one of the
// slots already matched by the parent. It is tested as Rel(slot, added).
type SlotRelation struct {
	Slot int
	Rel  relation.Relation
}

// Refinement identifies how an and-node extends its parent: the input node
// of the added slot and its relations to earlier slots.
type Refinement struct {
	Input int
	Rels  []SlotRelation
}

// Key is the memoization key of the refinement below a given parent.
func (r Refinement) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "i%d", r.Input)
	for _, sr := range r.Rels {
		fmt.Fprintf(&b, ";%d:%s", sr.Slot, sr.Rel.Key())
	}
	return b.String()
}

// orParent binds the slots of a conjunction node to the synapses of the
// neuron owning an or-node.
type orParent struct {
	Node     int   `json:"node"`
	Synapses []int `json:"synapses"`
}

func (p orParent) key() string {
	return fmt.Sprintf("%d:%v", p.Node, p.Synapses)
}

type inputKey struct {
	neuron    int
	ridOffset int
	hasRID    bool
	mapping   relation.Mapping
}

func (k inputKey) String() string {
	rid := "-"
	if k.hasRID {
		rid = fmt.Sprint(k.ridOffset)
	}
	return fmt.Sprintf("in(n%d,rid=%s,%s)", k.neuron, rid, k.mapping)
}

// nodeData is the structural part of a node. It is dropped while the node
// is suspended and rebuilt from the suspension hook on access.
type nodeData struct {
	// input nodes
	Neuron    int
	RIDOffset int
	HasRID    bool
	Mapping   relation.Mapping

	// and nodes
	Parent     int
	Refinement Refinement

	// Slots lists the input node of every slot in slot order.
	Slots []int

	// or nodes; Neuron is the owner
	Parents []orParent

	Children map[string]int // refinement key -> and node
	AsInput  []int          // and nodes whose refinement adds this node
	Ors      []int          // or nodes with a parent entry for this node

	Discovered bool
}

// Node is a vertex of the shared lattice.
type Node struct {
	ID   int
	Kind Kind
	key  string

	mu      sync.Mutex
	data    *nodeData
	storeID string
	threads map[uint64]*threadState

	frequency atomic.Int64
	live      atomic.Int64
}

// threadState holds the activations of one document at one node.
type threadState struct {
	acts map[string]*NodeActivation
	list []*NodeActivation
}

func newNode(id int, kind Kind, key string, data *nodeData) *Node {
	if data.Children == nil {
		data.Children = make(map[string]int)
	}
	return &Node{ID: id, Kind: kind, key: key, data: data, threads: make(map[uint64]*threadState)}
}

// Key returns the structural key identifying the node across suspension.
func (n *Node) Key() string { return n.key }

// Frequency returns the number of distinct activations counted in training.
func (n *Node) Frequency() int64 { return n.frequency.Load() }

// Live returns the number of activations held across all open documents.
func (n *Node) Live() int64 { return n.live.Load() }

// Suspended reports whether the structural data is evicted.
func (n *Node) Suspended() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.data == nil
}

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d", n.Kind, n.ID)
}

func (n *Node) lookup(doc uint64, key string) *NodeActivation {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ts, ok := n.threads[doc]; ok {
		return ts.acts[key]
	}
	return nil
}

func (n *Node) register(doc uint64, a *NodeActivation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ts, ok := n.threads[doc]
	if !ok {
		ts = &threadState{acts: make(map[string]*NodeActivation)}
		n.threads[doc] = ts
	}
	ts.acts[a.key] = a
	ts.list = append(ts.list, a)
	n.live.Add(1)
}

func (n *Node) unregister(doc uint64, a *NodeActivation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ts, ok := n.threads[doc]
	if !ok || ts.acts[a.key] != a {
		return
	}
	delete(ts.acts, a.key)
	for i, x := range ts.list {
		if x == a {
			ts.list = append(ts.list[:i], ts.list[i+1:]...)
			break
		}
	}
	n.live.Add(-1)
}

// activations returns a snapshot of the document's activations at n in
// creation order.
func (n *Node) activations(doc uint64) []*NodeActivation {
	n.mu.Lock()
	defer n.mu.Unlock()
	ts, ok := n.threads[doc]
	if !ok {
		return nil
	}
	return append([]*NodeActivation(nil), ts.list...)
}

// dropThread releases all state of one document.
func (n *Node) dropThread(doc uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ts, ok := n.threads[doc]; ok {
		n.live.Add(-int64(len(ts.acts)))
		delete(n.threads, doc)
	}
}

func sortedChildren(m map[string]int) []int {
	out := make([]int, 0, len(m))
	for _, id := range m {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func removeInt(xs []int, x int) []int {
	for i, v := range xs {
		if v == x {
			return append(xs[:i], xs[i+1:]...)
		}
	}
	return xs
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
