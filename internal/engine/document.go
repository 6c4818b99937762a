package engine

import (
	"fmt"
	"sync"

	"patternlattice/internal/interpr"
	"patternlattice/internal/logging"
	"patternlattice/internal/position"
)

// Status is the lifecycle state of a document.
type Status int

const (
	StatusOpen Status = iota
	StatusCommitted
	StatusFailed
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCommitted:
		return "committed"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Input is one external input event.
type Input struct {
	Range  position.Range
	RID    int
	HasRID bool
	// Value is the fixed activation value; zero means 1.
	Value float64
	// Hint places the input under an interpretation option of the
	// document's lattice. Nil means bottom.
	Hint *interpr.Option
}

// Document is one unit of processing: its inputs, the activations derived
// from them and the interpretation lattice over their choices. A document
// is used by one goroutine at a time; its methods serialize on an internal
// mutex.
type Document struct {
	ID   uint64
	Name string

	model   *Model
	mu      sync.Mutex
	status  Status
	lattice *interpr.Lattice
	acts    []*Activation
	nodes   map[int]*Node
	touched map[int]*Neuron
	queue   []*NodeActivation
	result  *Result
}

// Status returns the document's lifecycle state.
func (d *Document) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Lattice returns the document's interpretation lattice, for building
// input hints. It must not be used concurrently with document methods.
func (d *Document) Lattice() *interpr.Lattice { return d.lattice }

// Model returns the model the document propagates over.
func (d *Document) Model() *Model { return d.model }

func (d *Document) writable() error {
	switch d.status {
	case StatusClosed:
		return ErrDocumentClosed
	case StatusCommitted, StatusFailed:
		return ErrDocumentCommitted
	}
	return nil
}

// Activations returns the document's live activations in creation order.
func (d *Document) Activations(onlyFinal bool) []*Activation {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Activation
	for _, a := range d.acts {
		if a.Removed || (onlyFinal && !a.Final) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// AddInput activates an input neuron and propagates the activation through
// the lattice. Adding an equal input twice returns the existing activation.
func (d *Document) AddInput(label string, in Input) (*Activation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return nil, err
	}
	m := d.model
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.Err(); err != nil {
		return nil, err
	}
	n, ok := m.byLabel[label]
	if !ok {
		return nil, fmt.Errorf("%q: %w", label, ErrUnknownNeuron)
	}
	if !n.input {
		return nil, fmt.Errorf("%q: %w", label, ErrNotInputNeuron)
	}
	if !in.Range.Valid() {
		return nil, fmt.Errorf("input %s: invalid range %s", label, in.Range)
	}
	value := in.Value
	if value == 0 {
		value = 1
	}
	opt := in.Hint
	if opt == nil {
		opt = d.lattice.Bottom()
	}
	key := activationKey(in.Range, in.RID, in.HasRID, opt)
	if a := n.lookup(d.ID, key); a != nil {
		return a, nil
	}
	a := &Activation{
		ID:          m.nextAct.Add(1),
		Neuron:      n,
		Doc:         d,
		Range:       in.Range,
		RID:         in.RID,
		HasRID:      in.HasRID,
		Option:      opt,
		Fixed:       true,
		FixedValue:  value,
		key:         key,
		inputOption: opt,
	}
	a.ancestors = map[uint64]struct{}{a.ID: {}}
	d.registerActivation(a)
	if err := d.feed(a); err != nil {
		return nil, err
	}
	if err := d.drain(); err != nil {
		return nil, err
	}
	return a, nil
}

// RemoveInput withdraws every input activation of the neuron at the range
// and relational id of in, with everything derived only from them. It
// returns the number of inputs removed.
func (d *Document) RemoveInput(label string, in Input) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return 0, err
	}
	m := d.model
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byLabel[label]
	if !ok {
		return 0, fmt.Errorf("%q: %w", label, ErrUnknownNeuron)
	}
	removed := 0
	for _, a := range n.snapshot(d.ID) {
		if a.Removed || a.Range != in.Range || a.HasRID != in.HasRID || (a.HasRID && a.RID != in.RID) {
			continue
		}
		d.removeActivation(a)
		removed++
	}
	logging.DocumentDebug("Document %s: removed %d inputs of %s at %s", d.Name, removed, label, in.Range)
	return removed, nil
}

func (d *Document) registerActivation(a *Activation) {
	a.Neuron.register(d.ID, a)
	d.touched[a.Neuron.ID] = a.Neuron
	d.acts = append(d.acts, a)
}

// feed lifts a neuron activation into every input node reading its neuron.
func (d *Document) feed(a *Activation) error {
	m := d.model
	for _, id := range a.Neuron.feeds {
		n := m.node(id)
		if n == nil {
			continue
		}
		if _, _, err := d.liftInput(n, a); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) liftInput(n *Node, a *Activation) (*NodeActivation, bool, error) {
	data, err := d.model.dataOf(n)
	if err != nil {
		return nil, false, err
	}
	if data.HasRID && !a.HasRID {
		return nil, false, nil
	}
	r := position.OpenRange()
	data.Mapping.Apply(&r, a.Range)
	rid := 0
	if data.HasRID {
		rid = a.RID - data.RIDOffset
	}
	na, created := d.addNodeActivation(n, r, rid, data.HasRID, a.Option, []*Activation{a}, nil)
	if created {
		a.inputActs = append(a.inputActs, na)
	}
	return na, created, nil
}

// addNodeActivation returns the activation of n with the given key fields,
// creating and queueing it for extension when it is new.
func (d *Document) addNodeActivation(n *Node, r position.Range, rid int, hasRID bool, opt *interpr.Option, slots []*Activation, inputs []*NodeActivation) (*NodeActivation, bool) {
	key := nodeActivationKey(r, rid, hasRID, opt, slots)
	if na := n.lookup(d.ID, key); na != nil {
		return na, false
	}
	m := d.model
	na := &NodeActivation{
		ID:     m.nextAct.Add(1),
		Node:   n,
		Range:  r,
		RID:    rid,
		HasRID: hasRID,
		Option: opt,
		Slots:  slots,
		Inputs: inputs,
		key:    key,
	}
	for _, in := range inputs {
		in.Outputs = append(in.Outputs, na)
	}
	n.register(d.ID, na)
	d.nodes[n.ID] = n
	if m.cfg.Training {
		n.frequency.Add(1)
	}
	d.queue = append(d.queue, na)
	return na, true
}

// drain extends queued node activations until the lattice is saturated.
func (d *Document) drain() error {
	for len(d.queue) > 0 {
		na := d.queue[0]
		d.queue = d.queue[1:]
		if na.Removed {
			continue
		}
		if err := d.extend(na); err != nil {
			d.queue = nil
			return err
		}
	}
	return nil
}

// extend combines na with every partner it can be joined with: as a parent
// into its children, as the added input into and-nodes refining other
// parents, and into the or-nodes it feeds.
func (d *Document) extend(na *NodeActivation) error {
	m := d.model
	data, err := m.dataOf(na.Node)
	if err != nil {
		return err
	}
	for _, cid := range sortedChildren(data.Children) {
		c := m.node(cid)
		if c == nil {
			continue
		}
		cdata, err := m.dataOf(c)
		if err != nil {
			return err
		}
		partner := m.node(cdata.Refinement.Input)
		if partner == nil {
			continue
		}
		for _, y := range partner.activations(d.ID) {
			if !y.Removed {
				d.combine(c, cdata, na, y)
			}
		}
	}
	for _, cid := range data.AsInput {
		c := m.node(cid)
		if c == nil {
			continue
		}
		cdata, err := m.dataOf(c)
		if err != nil {
			return err
		}
		parent := m.node(cdata.Parent)
		if parent == nil {
			continue
		}
		for _, x := range parent.activations(d.ID) {
			if !x.Removed {
				d.combine(c, cdata, x, na)
			}
		}
	}
	for _, oid := range data.Ors {
		or := m.node(oid)
		if or == nil {
			continue
		}
		odata, err := m.dataOf(or)
		if err != nil {
			return err
		}
		for _, p := range odata.Parents {
			if p.Node == na.Node.ID {
				if err := d.orActivation(or, odata, na, p.Synapses); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// combine joins parent activation x with input-node activation y at and-node
// c. A failed relation or an incompatible interpretation creates nothing.
func (d *Document) combine(c *Node, cdata *nodeData, x, y *NodeActivation) (*NodeActivation, bool) {
	ya := y.Slots[0]
	for _, s := range x.Slots {
		if s == ya {
			return nil, false
		}
	}
	for _, sr := range cdata.Refinement.Rels {
		if sr.Slot >= len(x.Slots) || !sr.Rel.Test(x.Slots[sr.Slot].endpoint(), ya.endpoint()) {
			return nil, false
		}
	}
	if !d.lattice.Compatible(x.Option, y.Option) {
		return nil, false
	}
	r := x.Range
	if !y.Range.Begin.IsOpen() {
		r.Begin = y.Range.Begin
	}
	if !y.Range.End.IsOpen() {
		r.End = y.Range.End
	}
	if !r.Valid() {
		return nil, false
	}
	rid, hasRID := x.RID, x.HasRID
	if !hasRID {
		rid, hasRID = y.RID, y.HasRID
	}
	opt := d.lattice.Conjoin(x.Option, y.Option)
	slots := append(append([]*Activation(nil), x.Slots...), ya)
	return d.addNodeActivation(c, r, rid, hasRID, opt, slots, []*NodeActivation{x, y})
}

// orActivation records the neuron activation reached through conjunction
// activation from. Equal activations reached through other conjunctions
// gain an alternate derivation instead of a duplicate.
func (d *Document) orActivation(or *Node, odata *nodeData, from *NodeActivation, synapses []int) error {
	m := d.model
	n := m.neurons[odata.Neuron]
	r := from.Range
	if r.Begin.IsOpen() || r.End.IsOpen() {
		rs := make([]position.Range, len(from.Slots))
		for i, s := range from.Slots {
			rs[i] = s.Range
		}
		span := position.Span(rs...)
		if r.Begin.IsOpen() {
			r.Begin = span.Begin
		}
		if r.End.IsOpen() {
			r.End = span.End
		}
		if !r.Valid() {
			return nil
		}
	}
	key := activationKey(r, from.RID, from.HasRID, from.Option)
	if na := or.lookup(d.ID, key); na != nil {
		a := na.act
		for _, dv := range a.derivations {
			if dv.from == from {
				return nil
			}
		}
		a.derivations = append(a.derivations, derivation{from: from, synapses: synapses})
		na.Inputs = append(na.Inputs, from)
		from.Outputs = append(from.Outputs, na)
		a.addAncestors(from)
		return nil
	}

	na := &NodeActivation{
		ID:     m.nextAct.Add(1),
		Node:   or,
		Range:  r,
		RID:    from.RID,
		HasRID: from.HasRID,
		Option: from.Option,
		Slots:  from.Slots,
		Inputs: []*NodeActivation{from},
		key:    key,
	}
	a := &Activation{
		ID:          na.ID,
		Neuron:      n,
		Doc:         d,
		Range:       r,
		RID:         from.RID,
		HasRID:      from.HasRID,
		Option:      from.Option,
		key:         key,
		inputOption: from.Option,
		orAct:       na,
		derivations: []derivation{{from: from, synapses: synapses}},
		ancestors:   map[uint64]struct{}{na.ID: {}},
	}
	a.addAncestors(from)
	if n.choice() {
		a.Own = d.lattice.NewPrimitive(fmt.Sprintf("%s%s", n.Label, r))
		a.Option = d.lattice.Add(false, from.Option, a.Own)
	}
	na.act = a
	from.Outputs = append(from.Outputs, na)
	or.register(d.ID, na)
	d.nodes[or.ID] = or
	if m.cfg.Training {
		or.frequency.Add(1)
	}
	d.registerActivation(a)
	return d.feed(a)
}

func (a *Activation) addAncestors(from *NodeActivation) {
	for _, s := range from.Slots {
		for id := range s.ancestors {
			a.ancestors[id] = struct{}{}
		}
	}
}

func (a *Activation) recomputeAncestors() {
	a.ancestors = map[uint64]struct{}{a.ID: {}}
	for _, dv := range a.derivations {
		a.addAncestors(dv.from)
	}
}

// removeNodeAct removes na and cascades into every output derived only
// from it. Or-node activations survive while another derivation remains.
func (d *Document) removeNodeAct(na *NodeActivation) {
	if na.Removed {
		return
	}
	na.Removed = true
	na.Node.unregister(d.ID, na)
	for _, out := range na.Outputs {
		if out.Removed {
			continue
		}
		if out.Node.Kind == OrKind && out.act != nil {
			a := out.act
			a.dropDerivation(na)
			out.Inputs = removeNodeActivation(out.Inputs, na)
			if len(a.derivations) == 0 {
				d.removeActivation(a)
			} else {
				a.recomputeAncestors()
			}
			continue
		}
		d.removeNodeAct(out)
	}
}

// removeActivation removes a neuron activation with its or-node activation
// and the input-node activations lifted from it.
func (d *Document) removeActivation(a *Activation) {
	if a.Removed {
		return
	}
	a.Removed = true
	a.Neuron.unregister(d.ID, a)
	if na := a.orAct; na != nil && !na.Removed {
		na.Removed = true
		na.Node.unregister(d.ID, na)
	}
	for _, ia := range a.inputActs {
		d.removeNodeAct(ia)
	}
}

func removeNodeActivation(xs []*NodeActivation, x *NodeActivation) []*NodeActivation {
	for i, v := range xs {
		if v == x {
			return append(xs[:i], xs[i+1:]...)
		}
	}
	return xs
}

// AddNodeActivation instantiates node for the given slot activations,
// validating every relation of its refinements. It returns the existing
// activation when an equal one is already present, and nil with false
// when a relation fails or the interpretations are incompatible. The new
// activation is extended through the lattice like a propagated one.
func (d *Document) AddNodeActivation(node *Node, slots []*Activation) (*NodeActivation, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writable(); err != nil {
		return nil, false, err
	}
	m := d.model
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.Err(); err != nil {
		return nil, false, err
	}
	for _, s := range slots {
		if s.Doc != d || s.Removed {
			return nil, false, fmt.Errorf("activation %s is not live in document %s", s, d.Name)
		}
	}
	na, created, err := d.instantiate(node, slots)
	if err != nil || na == nil {
		return nil, false, err
	}
	if err := d.drain(); err != nil {
		return nil, false, err
	}
	return na, created, nil
}

func (d *Document) instantiate(n *Node, slots []*Activation) (*NodeActivation, bool, error) {
	m := d.model
	data, err := m.dataOf(n)
	if err != nil {
		return nil, false, err
	}
	if len(slots) != len(data.Slots) {
		return nil, false, fmt.Errorf("node %s has %d slots, got %d activations", n, len(data.Slots), len(slots))
	}
	switch n.Kind {
	case InputKind:
		if slots[0].Neuron.ID != data.Neuron {
			return nil, false, nil
		}
		return d.liftInput(n, slots[0])
	case AndKind:
		parent := m.node(data.Parent)
		in := m.node(data.Refinement.Input)
		if parent == nil || in == nil {
			return nil, false, fmt.Errorf("node %s: %w", n, ErrUnknownNode)
		}
		x, _, err := d.instantiate(parent, slots[:len(slots)-1])
		if err != nil || x == nil {
			return nil, false, err
		}
		y, _, err := d.instantiate(in, slots[len(slots)-1:])
		if err != nil || y == nil {
			return nil, false, err
		}
		na, created := d.combine(n, data, x, y)
		return na, created, nil
	}
	return nil, false, fmt.Errorf("or-node %s is reached through propagation only", n)
}

// ClearActivations releases every activation of the document and reopens
// it with an empty interpretation lattice.
func (d *Document) ClearActivations() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusClosed {
		return ErrDocumentClosed
	}
	d.model.mu.RLock()
	d.release()
	d.model.mu.RUnlock()
	d.lattice = interpr.New()
	d.status = StatusOpen
	d.result = nil
	return nil
}

// Close releases the document. Further calls fail with ErrDocumentClosed.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusClosed {
		return nil
	}
	d.model.mu.RLock()
	d.release()
	d.model.mu.RUnlock()
	d.lattice.Close()
	d.status = StatusClosed
	logging.DocumentDebug("Document %s closed", d.Name)
	return nil
}

// release drops the document's thread state from every node and neuron.
func (d *Document) release() {
	for _, n := range d.nodes {
		n.dropThread(d.ID)
	}
	for _, n := range d.touched {
		n.dropThread(d.ID)
	}
	d.nodes = make(map[int]*Node)
	d.touched = make(map[int]*Neuron)
	d.acts = nil
	d.queue = nil
}
