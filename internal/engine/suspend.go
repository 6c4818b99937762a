package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"patternlattice/internal/logging"
	"patternlattice/internal/relation"
)

// SuspensionHook stores evicted node structure. The payload is opaque to
// the hook.
type SuspensionHook interface {
	Store(ctx context.Context, id string, data []byte) error
	Retrieve(ctx context.Context, id string) ([]byte, error)
	NewID() string
}

type slotRecord struct {
	Slot int    `json:"slot"`
	Rel  string `json:"rel"`
}

// nodeRecord is the suspended form of an input or and-node. Relations are
// stored by key and resolved against the model's relation registry.
type nodeRecord struct {
	Kind       Kind             `json:"kind"`
	Neuron     int              `json:"neuron,omitempty"`
	RIDOffset  int              `json:"rid_offset,omitempty"`
	HasRID     bool             `json:"has_rid,omitempty"`
	Mapping    relation.Mapping `json:"mapping,omitempty"`
	Parent     int              `json:"parent,omitempty"`
	Input      int              `json:"input,omitempty"`
	Rels       []slotRecord     `json:"rels,omitempty"`
	Slots      []int            `json:"slots"`
	Children   map[string]int   `json:"children,omitempty"`
	AsInput    []int            `json:"as_input,omitempty"`
	Ors        []int            `json:"ors,omitempty"`
	Discovered bool             `json:"discovered,omitempty"`
}

func encodeNode(n *Node) ([]byte, error) {
	d := n.data
	rec := nodeRecord{
		Kind:       n.Kind,
		Neuron:     d.Neuron,
		RIDOffset:  d.RIDOffset,
		HasRID:     d.HasRID,
		Mapping:    d.Mapping,
		Parent:     d.Parent,
		Input:      d.Refinement.Input,
		Slots:      d.Slots,
		Children:   d.Children,
		AsInput:    d.AsInput,
		Ors:        d.Ors,
		Discovered: d.Discovered,
	}
	for _, sr := range d.Refinement.Rels {
		rec.Rels = append(rec.Rels, slotRecord{Slot: sr.Slot, Rel: sr.Rel.Key()})
	}
	return json.Marshal(rec)
}

// SuspendIdle evicts the structure of every input and and-node without
// live activations through the suspension hook. On a hook failure the
// node stays in memory and the *SuspensionError is returned together with
// the number of nodes already suspended.
func (m *Model) SuspendIdle(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Err(); err != nil {
		return 0, err
	}
	if m.hook == nil {
		return 0, nil
	}
	count := 0
	for _, n := range m.nodes {
		if n == nil || n.Kind == OrKind || n.Live() > 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}
		ok, err := m.suspend(ctx, n)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	if count > 0 {
		logging.Store("Suspended %d idle lattice nodes", count)
	}
	return count, nil
}

func (m *Model) suspend(ctx context.Context, n *Node) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.data == nil {
		return false, nil
	}
	payload, err := encodeNode(n)
	if err != nil {
		return false, &SuspensionError{NodeID: n.ID, Op: "store", Err: err}
	}
	id := n.storeID
	if id == "" {
		id = m.hook.NewID()
	}
	err = m.hook.Store(ctx, id, payload)
	m.metrics.Suspension("store", err)
	if err != nil {
		logging.StoreError("Suspending node %s failed: %v", n, err)
		return false, &SuspensionError{NodeID: n.ID, Op: "store", Err: err}
	}
	n.storeID = id
	n.data = nil
	return true, nil
}

// dataOf returns the node's structure, reloading it through the hook when
// the node is suspended. The caller holds the model lock.
func (m *Model) dataOf(n *Node) (*nodeData, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.data != nil {
		return n.data, nil
	}
	if m.hook == nil || n.storeID == "" {
		return nil, m.fail(&LatticeCorruptionError{Key: n.key, Existing: n.ID, Created: -1})
	}
	payload, err := m.hook.Retrieve(context.Background(), n.storeID)
	m.metrics.Suspension("retrieve", err)
	if err != nil {
		return nil, &SuspensionError{NodeID: n.ID, Op: "retrieve", Err: err}
	}
	var rec nodeRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, &SuspensionError{NodeID: n.ID, Op: "decode", Err: err}
	}
	data, key, err := m.decodeNode(n, rec)
	if err != nil {
		return nil, err
	}
	if rec.Kind != n.Kind || key != n.key {
		return nil, m.fail(&LatticeCorruptionError{Key: n.key, Existing: n.ID, Created: -1})
	}
	n.data = data
	if n.threads == nil {
		n.threads = make(map[uint64]*threadState)
	}
	logging.StoreDebug("Node %s reloaded", n)
	return data, nil
}

// decodeNode rebuilds node structure from rec and recomputes its key.
func (m *Model) decodeNode(n *Node, rec nodeRecord) (*nodeData, string, error) {
	data := &nodeData{
		Neuron:     rec.Neuron,
		RIDOffset:  rec.RIDOffset,
		HasRID:     rec.HasRID,
		Mapping:    rec.Mapping,
		Parent:     rec.Parent,
		Slots:      rec.Slots,
		Children:   rec.Children,
		AsInput:    rec.AsInput,
		Ors:        rec.Ors,
		Discovered: rec.Discovered,
	}
	if data.Children == nil {
		data.Children = make(map[string]int)
	}
	switch rec.Kind {
	case InputKind:
		k := inputKey{neuron: rec.Neuron, ridOffset: rec.RIDOffset, hasRID: rec.HasRID, mapping: rec.Mapping}
		return data, k.String(), nil
	case AndKind:
		ref := Refinement{Input: rec.Input}
		for _, sr := range rec.Rels {
			rel, ok := m.relations[sr.Rel]
			if !ok {
				return nil, "", m.fail(&LatticeCorruptionError{Key: n.key, Existing: n.ID, Created: -1})
			}
			ref.Rels = append(ref.Rels, SlotRelation{Slot: sr.Slot, Rel: rel})
		}
		data.Refinement = ref
		parent := m.node(rec.Parent)
		if parent == nil {
			return nil, "", m.fail(&LatticeCorruptionError{Key: n.key, Existing: n.ID, Created: -1})
		}
		return data, parent.key + "/" + ref.Key(), nil
	}
	return nil, "", fmt.Errorf("node %d: cannot restore %s node", n.ID, rec.Kind)
}
