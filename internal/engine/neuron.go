package engine

import (
	"fmt"
	"iter"
	"sync"

	"patternlattice/internal/actfn"
	"patternlattice/internal/relation"
)

// Synapse connects an input neuron to an output neuron.
type Synapse struct {
	ID        int
	Input     *Neuron
	Output    *Neuron
	Weight    float64
	Recurrent bool
	// Identity synapses require their input to share derivation ancestry
	// with the other identity inputs of the same conjunction.
	Identity bool
	// Mapping selects which endpoints of the input range become endpoints of
	// the output range.
	Mapping relation.Mapping

	RIDOffset    int
	HasRIDOffset bool

	// relations to other synapses of the same output, keyed by synapse id
	// and tested as rel(this input, other input)
	relations map[int]relation.Relation
}

func (s *Synapse) String() string {
	return fmt.Sprintf("%s->%s(%g)", s.Input.Label, s.Output.Label, s.Weight)
}

// Relation returns the declared relation from this synapse's input to the
// input of other, or nil.
func (s *Synapse) Relation(other int) relation.Relation {
	return s.relations[other]
}

// Neuron is a threshold unit. Non-input neurons own exactly one or-node
// collecting the conjunctions that can make them fire.
type Neuron struct {
	ID    int
	Label string
	Bias  float64
	Fn    actfn.Func

	input    bool
	orNode   int
	synapses []*Synapse // ascending id
	outputs  []*Synapse
	feeds    []int // input nodes reading this neuron

	mu        sync.Mutex
	threads   map[uint64]*neuronThread
	statistic any
}

type neuronThread struct {
	acts map[string]*Activation
	list []*Activation
}

func newNeuron(id int, label string, bias float64, fn actfn.Func, input bool) *Neuron {
	return &Neuron{
		ID:      id,
		Label:   label,
		Bias:    bias,
		Fn:      fn,
		input:   input,
		orNode:  -1,
		threads: make(map[uint64]*neuronThread),
	}
}

func (n *Neuron) String() string { return n.Label }

// IsInput reports whether the neuron accepts external input.
func (n *Neuron) IsInput() bool { return n.input }

// Synapses returns the input synapses in id order.
func (n *Neuron) Synapses() []*Synapse {
	return append([]*Synapse(nil), n.synapses...)
}

// Synapse returns the input synapse with the given id, or nil.
func (n *Neuron) Synapse(id int) *Synapse {
	for _, s := range n.synapses {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Statistic returns the accumulator built by the statistics hook, or nil.
func (n *Neuron) Statistic() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statistic
}

// choice reports whether activations of the neuron depend on an
// interpretation decision: any negative or recurrent input makes them
// optional.
func (n *Neuron) choice() bool {
	for _, s := range n.synapses {
		if s.Recurrent || s.Weight < 0 {
			return true
		}
	}
	return false
}

func (n *Neuron) lookup(doc uint64, key string) *Activation {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.threads[doc]; ok {
		return t.acts[key]
	}
	return nil
}

func (n *Neuron) register(doc uint64, a *Activation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.threads[doc]
	if !ok {
		t = &neuronThread{acts: make(map[string]*Activation)}
		n.threads[doc] = t
	}
	t.acts[a.key] = a
	t.list = append(t.list, a)
}

func (n *Neuron) unregister(doc uint64, a *Activation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.threads[doc]
	if !ok || t.acts[a.key] != a {
		return
	}
	delete(t.acts, a.key)
	for i, x := range t.list {
		if x == a {
			t.list = append(t.list[:i], t.list[i+1:]...)
			break
		}
	}
}

func (n *Neuron) snapshot(doc uint64) []*Activation {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.threads[doc]; ok {
		return append([]*Activation(nil), t.list...)
	}
	return nil
}

func (n *Neuron) dropThread(doc uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.threads, doc)
}

// Activations yields the live activations of the neuron in doc in creation
// order. With onlyFinal set only activations that survived the committed
// interpretation are yielded. The sequence works on a snapshot taken when
// iteration starts and does not observe later changes.
func (n *Neuron) Activations(doc *Document, onlyFinal bool) iter.Seq[*Activation] {
	return func(yield func(*Activation) bool) {
		for _, a := range n.snapshot(doc.ID) {
			if a.Removed || (onlyFinal && !a.Final) {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}
