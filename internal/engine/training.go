package engine

import (
	"fmt"
	"sort"

	"patternlattice/internal/logging"
	"patternlattice/internal/position"
	"patternlattice/internal/relation"
)

// discover grows speculative conjunctions from adjacent final activations
// of a committed document. Pairs are created on first sight; a discovered
// conjunction is widened by one more adjacent input only once it has been
// seen MinFrequency times and is narrower than DiscoveryMaxLevel.
func (m *Model) discover(d *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Err(); err != nil {
		return err
	}
	var finals []*Activation
	for _, a := range d.acts {
		if a.Final && !a.Removed && a.Range.Len() >= 0 {
			finals = append(finals, a)
		}
	}
	sort.SliceStable(finals, func(i, j int) bool { return position.Less(finals[i].Range, finals[j].Range) })
	next := func(x *Activation) []*Activation {
		var out []*Activation
		for _, y := range finals {
			if y != x && y.Range.Begin == x.Range.End {
				out = append(out, y)
			}
		}
		return out
	}

	created := 0
	grow := func(parent *Node, slots int, y *Activation) error {
		in, err := m.inputNode(inputKey{neuron: y.Neuron.ID, mapping: relation.None})
		if err != nil {
			return err
		}
		before := len(m.nodes)
		c, err := m.child(parent, Refinement{
			Input: in.ID,
			Rels:  []SlotRelation{{Slot: slots - 1, Rel: relation.EndToBeginEquals}},
		})
		if err != nil {
			return err
		}
		if len(m.nodes) > before {
			created++
			c.data.Discovered = true
		}
		return nil
	}

	for _, x := range finals {
		in, err := m.inputNode(inputKey{neuron: x.Neuron.ID, mapping: relation.None})
		if err != nil {
			return err
		}
		for _, y := range next(x) {
			if err := grow(in, 1, y); err != nil {
				return err
			}
		}
	}

	level := m.cfg.DiscoveryMaxLevel
	minFreq := int64(m.cfg.MinFrequency)
	for _, n := range d.nodes {
		if n.Kind != AndKind {
			continue
		}
		data, err := m.dataOf(n)
		if err != nil {
			return err
		}
		if !data.Discovered || n.Frequency() < minFreq || len(data.Slots) >= level {
			continue
		}
		for _, na := range n.activations(d.ID) {
			if na.Removed {
				continue
			}
			last := na.Slots[len(na.Slots)-1]
			if !last.Final {
				continue
			}
			for _, y := range next(last) {
				if err := grow(n, len(data.Slots), y); err != nil {
					return err
				}
			}
		}
	}
	if created > 0 {
		logging.Lattice("Discovery on %s created %d conjunctions", d.Name, created)
	}
	return nil
}

// Prune removes lattice nodes that carry no activations, have no
// dependents, and are not frequent discovered patterns. It repeats until
// nothing more can be removed and returns the number of nodes removed.
// Suspended nodes are left alone; the parents and inputs of a removed node
// are reloaded to detach it.
func (m *Model) Prune() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Err(); err != nil {
		return 0, err
	}
	minFreq := int64(m.cfg.MinFrequency)
	total := 0
	for {
		removed := 0
		for id, n := range m.nodes {
			if n == nil || n.Kind == OrKind || n.Live() > 0 {
				continue
			}
			n.mu.Lock()
			data := n.data
			n.mu.Unlock()
			if data == nil {
				continue
			}
			if len(data.Children) > 0 || len(data.Ors) > 0 || len(data.AsInput) > 0 {
				continue
			}
			if data.Discovered && n.Frequency() >= minFreq {
				continue
			}
			if err := m.unlink(n, data); err != nil {
				if total+removed > 0 {
					m.metrics.NodesPruned(total + removed)
				}
				return total + removed, err
			}
			m.nodes[id] = nil
			removed++
		}
		if removed == 0 {
			break
		}
		total += removed
	}
	if total > 0 {
		m.metrics.NodesPruned(total)
		logging.Lattice("Pruned %d lattice nodes", total)
	}
	return total, nil
}

// unlink detaches a node from the structure pointing at it. Suspended
// parents and inputs are reloaded so their stored records cannot keep the
// detached node reachable.
func (m *Model) unlink(n *Node, data *nodeData) error {
	switch n.Kind {
	case InputKind:
		k := inputKey{neuron: data.Neuron, ridOffset: data.RIDOffset, hasRID: data.HasRID, mapping: data.Mapping}
		delete(m.inputNodes, k)
		src := m.neurons[data.Neuron]
		src.feeds = removeInt(src.feeds, n.ID)
	case AndKind:
		if p := m.node(data.Parent); p != nil {
			pdata, err := m.dataOf(p)
			if err != nil {
				return fmt.Errorf("unlink %s from parent: %w", n, err)
			}
			p.mu.Lock()
			delete(pdata.Children, data.Refinement.Key())
			p.mu.Unlock()
		}
		if in := m.node(data.Refinement.Input); in != nil {
			indata, err := m.dataOf(in)
			if err != nil {
				return fmt.Errorf("unlink %s from input: %w", n, err)
			}
			in.mu.Lock()
			indata.AsInput = removeInt(indata.AsInput, n.ID)
			in.mu.Unlock()
		}
	}
	delete(m.canon, n.key)
	logging.LatticeDebug("Node %s pruned", n)
	return nil
}
