package engine

import (
	"fmt"
	"sort"

	"patternlattice/internal/interpr"
	"patternlattice/internal/position"
	"patternlattice/internal/relation"
)

// NodeActivation instantiates a lattice node for one document at a range,
// relational id and interpretation option.
type NodeActivation struct {
	ID     uint64
	Node   *Node
	Range  position.Range
	RID    int
	HasRID bool
	Option *interpr.Option

	// Slots holds the neuron activations matched by the node, in slot order.
	Slots []*Activation

	// Inputs are the activations this one was derived from: the parent and
	// the added input for and-nodes, every derivation for or-nodes.
	Inputs  []*NodeActivation
	Outputs []*NodeActivation
	Removed bool

	key string
	act *Activation
}

func (na *NodeActivation) String() string {
	return fmt.Sprintf("%s%s@%s", na.Node, na.Range, na.Option)
}

// Activation returns the neuron activation owned by an or-node activation.
func (na *NodeActivation) Activation() *Activation { return na.act }

// derivation is one way an or-node activation was reached: the conjunction
// activation and the synapse bound to each of its slots.
type derivation struct {
	from     *NodeActivation
	synapses []int
}

// Activation is a neuron activation of one document.
type Activation struct {
	ID     uint64
	Neuron *Neuron
	Doc    *Document
	Range  position.Range
	RID    int
	HasRID bool

	// Option is the interpretation under which the activation exists. For
	// neurons taking part in choices it includes Own.
	Option *interpr.Option
	// Own is the primitive choice created for this activation, or nil.
	Own *interpr.Option

	Fixed      bool
	FixedValue float64

	// Committed state, set by Document.Process.
	Value       float64
	Net         float64
	Probability float64
	Selected    bool
	Final       bool

	Removed bool

	key         string
	inputOption *interpr.Option
	orAct       *NodeActivation
	derivations []derivation
	inputActs   []*NodeActivation
	ancestors   map[uint64]struct{}
}

func (a *Activation) String() string {
	return fmt.Sprintf("%s%s", a.Neuron.Label, a.Range)
}

// LineageID identifies the activation in ancestry relations.
func (a *Activation) LineageID() uint64 { return a.ID }

// HasAncestor reports whether id is the activation or part of its derivation.
func (a *Activation) HasAncestor(id uint64) bool {
	_, ok := a.ancestors[id]
	return ok
}

// Ancestors lists the activation and its derivation in ascending id order.
func (a *Activation) Ancestors() []uint64 {
	out := make([]uint64, 0, len(a.ancestors))
	for id := range a.ancestors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Derivations returns the number of live conjunctions this activation was
// reached through.
func (a *Activation) Derivations() int { return len(a.derivations) }

func (a *Activation) endpoint() relation.Endpoint {
	return relation.Endpoint{Range: a.Range, RID: a.RID, HasRID: a.HasRID, Lineage: a}
}

func (a *Activation) dropDerivation(from *NodeActivation) {
	kept := a.derivations[:0]
	for _, d := range a.derivations {
		if d.from != from {
			kept = append(kept, d)
		}
	}
	a.derivations = kept
}

func activationKey(r position.Range, rid int, hasRID bool, opt *interpr.Option) string {
	if !hasRID {
		return fmt.Sprintf("%s|-|%d", r, opt.ID())
	}
	return fmt.Sprintf("%s|%d|%d", r, rid, opt.ID())
}

func nodeActivationKey(r position.Range, rid int, hasRID bool, opt *interpr.Option, slots []*Activation) string {
	key := activationKey(r, rid, hasRID, opt)
	for _, s := range slots {
		key += fmt.Sprintf("|%d", s.ID)
	}
	return key
}
