package engine

import (
	"fmt"
	"sort"

	"patternlattice/internal/logging"
)

// minimalSets decomposes a neuron's threshold into the conjunctions that
// can make it fire. Positive recurrent weights are counted as if their
// source were active, so the lattice over-approximates and the search
// decides the exact value.
//
// Inputs whose absence alone keeps the neuron below threshold are required
// and appear in every set. When the required inputs suffice on their own
// they form the single set: skewed weights give few, narrow conjunctions.
// Otherwise every minimal combination of the optional inputs is listed:
// balanced weights give one full chain or wide overlapping sets.
//
// A neuron that can never fire yields no sets.
func (m *Model) minimalSets(n *Neuron) ([][]*Synapse, error) {
	var pos []*Synapse
	base := n.Bias
	for _, s := range n.synapses {
		switch {
		case s.Weight <= 0:
		case s.Recurrent:
			base += s.Weight
		default:
			pos = append(pos, s)
		}
	}
	if len(pos) == 0 {
		return nil, ErrNoPositiveInput
	}
	sort.SliceStable(pos, func(i, j int) bool {
		if pos[i].Weight != pos[j].Weight {
			return pos[i].Weight > pos[j].Weight
		}
		return pos[i].ID < pos[j].ID
	})
	total := 0.0
	for _, s := range pos {
		total += s.Weight
	}
	if base+total <= 0 {
		logging.ConverterWarn("Neuron %s can never fire: bias %g, positive input %g", n.Label, base, total)
		return nil, nil
	}

	var required, optional []*Synapse
	reqSum := 0.0
	for _, s := range pos {
		if total-s.Weight+base <= 0 {
			required = append(required, s)
			reqSum += s.Weight
		} else {
			optional = append(optional, s)
		}
	}
	limit := m.cfg.Converter.MaxMinimalSets
	var sets [][]*Synapse
	overflow := false
	if len(required) > 0 && base+reqSum > 0 {
		sets = [][]*Synapse{required}
	} else {
		sets, overflow = enumerate(required, optional, base+reqSum, limit)
	}

	arity := m.cfg.Converter.MaxConjunctionArity
	for _, set := range sets {
		if arity > 0 && len(set) > arity {
			overflow = true
			break
		}
	}
	if overflow {
		logging.ConverterWarn("Neuron %s: decomposition exceeds limits (arity %d, sets %d), using the full chain",
			n.Label, arity, limit)
		return [][]*Synapse{pos}, nil
	}
	return sets, nil
}

// enumerate lists every minimal non-empty subset of optional (sorted by
// descending weight) whose weights lift start above zero, each prefixed by
// required. It stops with overflow set once more than limit sets exist.
func enumerate(required, optional []*Synapse, start float64, limit int) (sets [][]*Synapse, overflow bool) {
	suffix := make([]float64, len(optional)+1)
	for i := len(optional) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + optional[i].Weight
	}
	var picked []*Synapse
	var walk func(from int, sum float64)
	walk = func(from int, sum float64) {
		for i := from; i < len(optional) && !overflow; i++ {
			if sum+suffix[i] <= 0 {
				return
			}
			next := sum + optional[i].Weight
			picked = append(picked, optional[i])
			if next > 0 {
				set := append(append([]*Synapse(nil), required...), picked...)
				sets = append(sets, set)
				if limit > 0 && len(sets) > limit {
					overflow = true
				}
			} else {
				walk(i+1, next)
			}
			picked = picked[:len(picked)-1]
		}
	}
	walk(0, start)
	return sets, overflow
}

// convert rewrites the or-node of n to match its current minimal sets.
// Conjunction nodes no longer referenced stay in the lattice until pruned,
// so unaffected shared structure is reused.
func (m *Model) convert(n *Neuron) error {
	sets, err := m.minimalSets(n)
	if err != nil {
		return fmt.Errorf("neuron %s: %w", n.Label, err)
	}
	return m.convertSets(n, sets)
}

// convertSets rewrites the or-node of n to the given minimal sets.
func (m *Model) convertSets(n *Neuron, sets [][]*Synapse) error {
	if n.orNode < 0 {
		or, err := m.addNode(OrKind, fmt.Sprintf("or(n%d)", n.ID), &nodeData{Neuron: n.ID})
		if err != nil {
			return err
		}
		n.orNode = or.ID
	}
	or := m.nodes[n.orNode]
	odata, err := m.dataOf(or)
	if err != nil {
		return err
	}

	var parents []orParent
	seen := make(map[string]bool)
	for _, set := range sets {
		node, bound, err := m.chain(set)
		if err != nil {
			return err
		}
		p := orParent{Node: node.ID, Synapses: bound}
		if !seen[p.key()] {
			seen[p.key()] = true
			parents = append(parents, p)
		}
	}

	old := make(map[string]orParent, len(odata.Parents))
	for _, p := range odata.Parents {
		old[p.key()] = p
	}
	added, removed := 0, 0
	for _, p := range parents {
		if _, ok := old[p.key()]; ok {
			continue
		}
		added++
		pdata, err := m.dataOf(m.nodes[p.Node])
		if err != nil {
			return err
		}
		if !containsInt(pdata.Ors, or.ID) {
			pdata.Ors = append(pdata.Ors, or.ID)
		}
	}
	stillUsed := make(map[int]bool)
	for _, p := range parents {
		stillUsed[p.Node] = true
	}
	for k, p := range old {
		if seen[k] {
			continue
		}
		removed++
		if stillUsed[p.Node] {
			continue
		}
		if pn := m.node(p.Node); pn != nil {
			pdata, err := m.dataOf(pn)
			if err != nil {
				return err
			}
			pdata.Ors = removeInt(pdata.Ors, or.ID)
		}
	}
	odata.Parents = parents
	m.metrics.ConverterEdges(added, removed)
	logging.ConverterDebug("Neuron %s converted: %d conjunctions (+%d -%d)", n.Label, len(parents), added, removed)
	return nil
}
