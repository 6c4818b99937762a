// Package engine implements the shared pattern lattice and the per-document
// propagation, conflict registration and commit cycle built on top of it.
//
// A Model owns the lattice. Structural edits (adding neurons and synapses,
// converter rewrites, discovery, pruning and suspension) take the model's
// write lock. Documents propagate under the read lock and keep their
// activations in per-document thread state on the nodes and neurons, so
// independent documents can be processed in parallel.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"patternlattice/internal/actfn"
	"patternlattice/internal/config"
	"patternlattice/internal/interpr"
	"patternlattice/internal/logging"
	"patternlattice/internal/metrics"
	"patternlattice/internal/relation"
	"patternlattice/internal/search"
)

// StatsHook receives every committed final activation. The accumulator is
// created once per neuron and is opaque to the engine.
type StatsHook interface {
	NewAccumulator(n *Neuron) any
	Observe(acc any, a *Activation)
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithSuspensionHook enables node eviction through h.
func WithSuspensionHook(h SuspensionHook) ModelOption {
	return func(m *Model) { m.hook = h }
}

// WithStatsHook registers the statistics hook.
func WithStatsHook(h StatsHook) ModelOption {
	return func(m *Model) { m.stats = h }
}

// WithMetrics records engine metrics on mt.
func WithMetrics(mt *metrics.Metrics) ModelOption {
	return func(m *Model) { m.metrics = mt }
}

// Model is the shared lattice with its neurons.
type Model struct {
	mu        sync.RWMutex
	cfg       config.EngineConfig
	searchCfg search.Config

	neurons []*Neuron
	byLabel map[string]*Neuron

	nodes      []*Node // nil once pruned
	canon      map[string]int
	inputNodes map[inputKey]int
	relations  map[string]relation.Relation

	nextSynapse int
	nextDoc     atomic.Uint64
	nextAct     atomic.Uint64

	hook    SuspensionHook
	stats   StatsHook
	metrics *metrics.Metrics

	errMu sync.Mutex
	err   error
}

// New creates an empty model.
func New(cfg config.EngineConfig, opts ...ModelOption) (*Model, error) {
	mode, err := search.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	m := &Model{
		cfg: cfg,
		searchCfg: search.Config{
			Mode:              mode,
			MaxNodes:          cfg.MaxSearchNodes,
			SoftMaxCutoff:     cfg.SoftMaxCutoff,
			Tolerance:         cfg.Tolerance,
			MaxEvalIterations: cfg.MaxEvalIterations,
		},
		byLabel:    make(map[string]*Neuron),
		canon:      make(map[string]int),
		inputNodes: make(map[inputKey]int),
		relations:  make(map[string]relation.Relation),
	}
	for _, opt := range opts {
		opt(m)
	}
	logging.Boot("Model created: mode=%s max_search_nodes=%d training=%v", mode, cfg.MaxSearchNodes, cfg.Training)
	return m, nil
}

// Config returns the engine configuration.
func (m *Model) Config() config.EngineConfig { return m.cfg }

// Err returns the corruption error that disabled the model, or nil.
func (m *Model) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

// fail records the first corruption and returns err.
func (m *Model) fail(err error) error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	if m.err == nil {
		m.err = err
		logging.LatticeError("Model disabled: %v", err)
	}
	return err
}

// NewDocument opens a document. An empty name gets a random one.
func (m *Model) NewDocument(name string) *Document {
	if name == "" {
		name = uuid.NewString()
	}
	d := &Document{
		ID:      m.nextDoc.Add(1),
		Name:    name,
		model:   m,
		lattice: interpr.New(),
		nodes:   make(map[int]*Node),
		touched: make(map[int]*Neuron),
	}
	logging.DocumentDebug("Document %s opened (id=%d)", d.Name, d.ID)
	return d
}

// Neuron returns the neuron with the given label, or nil.
func (m *Model) Neuron(label string) *Neuron {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byLabel[label]
}

// NodeCount returns the number of live lattice nodes.
func (m *Model) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.nodes {
		if n != nil {
			count++
		}
	}
	return count
}

// Node returns the node with the given id, reloading it if it is suspended.
func (m *Model) Node(id int) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.Err(); err != nil {
		return nil, err
	}
	n := m.node(id)
	if n == nil {
		return nil, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	if _, err := m.dataOf(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (m *Model) node(id int) *Node {
	if id < 0 || id >= len(m.nodes) {
		return nil
	}
	return m.nodes[id]
}

// AddInputNeuron registers a neuron that receives external input.
func (m *Model) AddInputNeuron(label string) (*Neuron, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Err(); err != nil {
		return nil, err
	}
	if _, ok := m.byLabel[label]; ok {
		return nil, fmt.Errorf("%q: %w", label, ErrDuplicateNeuron)
	}
	n := newNeuron(len(m.neurons), label, 0, actfn.Identity, true)
	m.neurons = append(m.neurons, n)
	m.byLabel[label] = n
	return n, nil
}

// SynapseSpec describes one input of a neuron.
type SynapseSpec struct {
	Input     string
	Weight    float64
	Recurrent bool
	Identity  bool
	Mapping   relation.Mapping
	// RIDOffset binds the output's relational id to the input's: input rid
	// minus offset. Nil leaves the synapse without relational id.
	RIDOffset *int
}

// SynapseRelation constrains the inputs of two synapses of a NeuronSpec,
// addressed by their index in Synapses, as Rel(From input, To input).
type SynapseRelation struct {
	From, To int
	Rel      relation.Relation
}

// NeuronSpec describes a neuron with its inputs.
type NeuronSpec struct {
	Label     string
	Bias      float64
	ActFn     string
	Synapses  []SynapseSpec
	Relations []SynapseRelation
}

// AddNeuron registers a neuron, its synapses and the lattice structure its
// conjunctions need. Recurrent synapses may only name existing neurons;
// synapses back from neurons created later are added with AddSynapse.
func (m *Model) AddNeuron(spec NeuronSpec) (*Neuron, error) {
	fn, err := actfn.Lookup(spec.ActFn)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Err(); err != nil {
		return nil, err
	}
	if _, ok := m.byLabel[spec.Label]; ok {
		return nil, fmt.Errorf("%q: %w", spec.Label, ErrDuplicateNeuron)
	}
	n := newNeuron(len(m.neurons), spec.Label, spec.Bias, fn, false)
	syns := make([]*Synapse, len(spec.Synapses))
	for i, ss := range spec.Synapses {
		if ss.Input == spec.Label {
			if !ss.Recurrent {
				return nil, fmt.Errorf("%s -> %s: %w", ss.Input, spec.Label, ErrFeedforwardCycle)
			}
			syns[i] = m.newSynapse(n, n, ss)
			continue
		}
		in, ok := m.byLabel[ss.Input]
		if !ok {
			return nil, fmt.Errorf("synapse %d of %s: %q: %w", i, spec.Label, ss.Input, ErrUnknownNeuron)
		}
		syns[i] = m.newSynapse(in, n, ss)
	}
	for _, r := range spec.Relations {
		if r.From < 0 || r.From >= len(syns) || r.To < 0 || r.To >= len(syns) || r.From == r.To {
			return nil, fmt.Errorf("neuron %s: relation %d->%d out of range", spec.Label, r.From, r.To)
		}
		syns[r.From].relations[syns[r.To].ID] = r.Rel
	}
	n.synapses = syns
	sets, err := m.minimalSets(n)
	if err != nil {
		return nil, fmt.Errorf("neuron %s: %w", spec.Label, err)
	}

	m.neurons = append(m.neurons, n)
	m.byLabel[n.Label] = n
	for _, s := range syns {
		s.Input.outputs = append(s.Input.outputs, s)
	}
	if err := m.convertSets(n, sets); err != nil {
		return nil, err
	}
	logging.Lattice("Neuron %s added: bias=%g synapses=%d", n.Label, n.Bias, len(syns))
	return n, nil
}

func (m *Model) newSynapse(in, out *Neuron, ss SynapseSpec) *Synapse {
	s := &Synapse{
		ID:        m.nextSynapse,
		Input:     in,
		Output:    out,
		Weight:    ss.Weight,
		Recurrent: ss.Recurrent,
		Identity:  ss.Identity,
		Mapping:   ss.Mapping,
		relations: make(map[int]relation.Relation),
	}
	if ss.RIDOffset != nil {
		s.RIDOffset, s.HasRIDOffset = *ss.RIDOffset, true
	}
	m.nextSynapse++
	return s
}

// AddSynapse adds an input synapse to an existing neuron and rewrites its
// conjunctions. Open documents keep the structure they were built on.
func (m *Model) AddSynapse(output string, ss SynapseSpec) (*Synapse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Err(); err != nil {
		return nil, err
	}
	out, ok := m.byLabel[output]
	if !ok {
		return nil, fmt.Errorf("%q: %w", output, ErrUnknownNeuron)
	}
	if out.input {
		return nil, fmt.Errorf("input neuron %s takes no synapses", output)
	}
	in, ok := m.byLabel[ss.Input]
	if !ok {
		return nil, fmt.Errorf("%q: %w", ss.Input, ErrUnknownNeuron)
	}
	if !ss.Recurrent && reaches(out, in) {
		return nil, fmt.Errorf("%s -> %s: %w", in.Label, out.Label, ErrFeedforwardCycle)
	}
	s := m.newSynapse(in, out, ss)
	out.synapses = append(out.synapses, s)
	in.outputs = append(in.outputs, s)
	if err := m.convert(out); err != nil {
		return nil, err
	}
	logging.LatticeDebug("Synapse %s added", s)
	return s, nil
}

// reaches reports whether to is reachable from from over non-recurrent
// synapses, from itself included.
func reaches(from, to *Neuron) bool {
	seen := map[int]bool{}
	stack := []*Neuron{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		for _, s := range n.outputs {
			if !s.Recurrent {
				stack = append(stack, s.Output)
			}
		}
	}
	return false
}

// UpdateSynapseWeight adds delta to a synapse weight and rewrites the
// output neuron's conjunctions. Deltas smaller than the configured tolerance
// are rejected with a *BelowToleranceError and leave the weight unchanged.
func (m *Model) UpdateSynapseWeight(output string, synapseID int, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Err(); err != nil {
		return err
	}
	out, ok := m.byLabel[output]
	if !ok {
		return fmt.Errorf("%q: %w", output, ErrUnknownNeuron)
	}
	s := out.Synapse(synapseID)
	if s == nil {
		return fmt.Errorf("neuron %s has no synapse %d", output, synapseID)
	}
	if mag := abs(delta); mag < m.cfg.Tolerance || mag == 0 {
		return &BelowToleranceError{Element: s.String(), Magnitude: mag, Tolerance: m.cfg.Tolerance}
	}
	old := s.Weight
	s.Weight += delta
	sets, err := m.minimalSets(out)
	if err != nil {
		s.Weight = old
		return fmt.Errorf("synapse %s: %w", s, err)
	}
	return m.convertSets(out, sets)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// addNode appends a node and claims its structural key.
func (m *Model) addNode(kind Kind, key string, data *nodeData) (*Node, error) {
	id := len(m.nodes)
	if existing, ok := m.canon[key]; ok {
		return nil, m.fail(&LatticeCorruptionError{Key: key, Existing: existing, Created: id})
	}
	n := newNode(id, kind, key, data)
	m.nodes = append(m.nodes, n)
	m.canon[key] = id
	m.metrics.NodeCreated(kind.String())
	logging.LatticeDebug("Node %s created: %s", n, key)
	return n, nil
}

// inputNode returns the input node for k, creating it on first use.
func (m *Model) inputNode(k inputKey) (*Node, error) {
	if id, ok := m.inputNodes[k]; ok {
		return m.nodes[id], nil
	}
	n, err := m.addNode(InputKind, k.String(), &nodeData{
		Neuron:    k.neuron,
		RIDOffset: k.ridOffset,
		HasRID:    k.hasRID,
		Mapping:   k.mapping,
	})
	if err != nil {
		return nil, err
	}
	n.data.Slots = []int{n.ID}
	m.inputNodes[k] = n.ID
	src := m.neurons[k.neuron]
	src.feeds = append(src.feeds, n.ID)
	return n, nil
}

func synapseInputKey(s *Synapse) inputKey {
	return inputKey{neuron: s.Input.ID, ridOffset: s.RIDOffset, hasRID: s.HasRIDOffset, mapping: s.Mapping}
}

// child returns the and-node refining parent by ref, creating it on first
// use. Children are memoized per parent, so every insertion path reaching
// the same conjunction ends at the same node.
func (m *Model) child(parent *Node, ref Refinement) (*Node, error) {
	pdata, err := m.dataOf(parent)
	if err != nil {
		return nil, err
	}
	rk := ref.Key()
	if id, ok := pdata.Children[rk]; ok {
		if c := m.node(id); c != nil {
			return c, nil
		}
		logging.LatticeWarn("Node %s: dropping stale child %d at %s", parent, id, rk)
		delete(pdata.Children, rk)
		if cid, ok := m.canon[parent.key+"/"+rk]; ok && m.node(cid) == nil {
			delete(m.canon, parent.key+"/"+rk)
		}
	}
	in := m.node(ref.Input)
	if in == nil || in.Kind != InputKind {
		return nil, fmt.Errorf("refinement input %d is not an input node", ref.Input)
	}
	indata, err := m.dataOf(in)
	if err != nil {
		return nil, err
	}
	slots := append(append([]int(nil), pdata.Slots...), ref.Input)
	n, err := m.addNode(AndKind, parent.key+"/"+rk, &nodeData{
		Parent:     parent.ID,
		Refinement: ref,
		Slots:      slots,
	})
	if err != nil {
		return nil, err
	}
	for _, sr := range ref.Rels {
		m.relations[sr.Rel.Key()] = sr.Rel
	}
	pdata.Children[rk] = n.ID
	indata.AsInput = append(indata.AsInput, n.ID)
	return n, nil
}

// pairRelation combines every constraint between the inputs of a and b,
// oriented as rel(a input, b input). It returns nil when none applies.
func pairRelation(a, b *Synapse) relation.Relation {
	var rs []relation.Relation
	if r := a.relations[b.ID]; r != nil {
		rs = append(rs, r)
	}
	if r := b.relations[a.ID]; r != nil {
		rs = append(rs, r.Inverse())
	}
	if a.HasRIDOffset && b.HasRIDOffset {
		rs = append(rs, relation.RIDOffset{Offset: b.RIDOffset - a.RIDOffset})
	}
	if a.Identity && b.Identity {
		rs = append(rs, relation.CommonAncestor{})
	}
	if len(rs) == 0 {
		return nil
	}
	return relation.All(rs...)
}

// chain builds the conjunction node for a set of synapses. Slots are laid
// out in canonical order so that equal input sets share their prefixes
// across neurons. It returns the node and the synapse bound to each slot.
func (m *Model) chain(set []*Synapse) (*Node, []int, error) {
	type slot struct {
		syn  *Synapse
		node *Node
	}
	slots := make([]slot, len(set))
	for i, s := range set {
		in, err := m.inputNode(synapseInputKey(s))
		if err != nil {
			return nil, nil, err
		}
		slots[i] = slot{syn: s, node: in}
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].node.ID != slots[j].node.ID {
			return slots[i].node.ID < slots[j].node.ID
		}
		return slots[i].syn.ID < slots[j].syn.ID
	})
	cur := slots[0].node
	bound := []int{slots[0].syn.ID}
	for i := 1; i < len(slots); i++ {
		ref := Refinement{Input: slots[i].node.ID}
		for j := 0; j < i; j++ {
			if r := pairRelation(slots[j].syn, slots[i].syn); r != nil {
				ref.Rels = append(ref.Rels, SlotRelation{Slot: j, Rel: r})
			}
		}
		next, err := m.child(cur, ref)
		if err != nil {
			return nil, nil, err
		}
		cur = next
		bound = append(bound, slots[i].syn.ID)
	}
	return cur, bound, nil
}

// NodeInfo is a read-only view of a node's structure.
type NodeInfo struct {
	ID         int
	Kind       Kind
	Key        string
	Neuron     string
	Parent     int
	Slots      []int
	Children   []int
	Ors        []int
	Parents    []int
	Discovered bool
	Frequency  int64
	Live       int64
}

// Describe returns the structure of node id, reloading it if suspended.
func (m *Model) Describe(id int) (NodeInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.node(id)
	if n == nil {
		return NodeInfo{}, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	data, err := m.dataOf(n)
	if err != nil {
		return NodeInfo{}, err
	}
	info := NodeInfo{
		ID:         n.ID,
		Kind:       n.Kind,
		Key:        n.key,
		Parent:     -1,
		Slots:      append([]int(nil), data.Slots...),
		Children:   sortedChildren(data.Children),
		Ors:        append([]int(nil), data.Ors...),
		Discovered: data.Discovered,
		Frequency:  n.Frequency(),
		Live:       n.Live(),
	}
	switch n.Kind {
	case InputKind, OrKind:
		info.Neuron = m.neurons[data.Neuron].Label
	case AndKind:
		info.Parent = data.Parent
	}
	for _, p := range data.Parents {
		info.Parents = append(info.Parents, p.Node)
	}
	return info, nil
}

// OrNode returns the id of the neuron's or-node.
func (m *Model) OrNode(label string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byLabel[label]
	if !ok {
		return -1, fmt.Errorf("%q: %w", label, ErrUnknownNeuron)
	}
	if n.orNode < 0 {
		return -1, errors.New("input neurons have no or-node")
	}
	return n.orNode, nil
}
