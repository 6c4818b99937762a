package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"patternlattice/internal/interpr"
	"patternlattice/internal/logging"
	"patternlattice/internal/relation"
	"patternlattice/internal/search"
)

// Result is the committed interpretation of a document.
type Result struct {
	Doc    string
	Status Status
	// Err holds the reason a document failed. Per-document failures are
	// reported here and never returned by Process.
	Err   error
	Mode  search.Mode
	Score float64
	// Activations lists the final activations in creation order.
	Activations []*Activation
	// Selected lists the labels of the selected interpretation choices.
	Selected []string
	Visited  int
	Pruned   int
	// Unsettled counts search evaluations that hit the iteration limit in
	// branches that were not committed.
	Unsettled int
	Search    *search.Result
}

// lowered maps a search problem back onto the document.
type lowered struct {
	problem *search.Problem
	acts    []*Activation
	prims   []*interpr.Option
}

// Process resolves the document's interpretation choices and commits the
// result onto its activations. A search failure, including cancellation of
// ctx or recurrent values that never settle, marks the document failed and discards its activations; the
// returned error is reserved for shared-state failures. Processing a
// committed document again returns the earlier result.
func (d *Document) Process(ctx context.Context) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.status {
	case StatusClosed:
		return nil, ErrDocumentClosed
	case StatusCommitted, StatusFailed:
		return d.result, nil
	}
	m := d.model
	m.mu.RLock()
	if err := m.Err(); err != nil {
		m.mu.RUnlock()
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryDocument, "process "+d.Name)
	low, conflicts := d.lower()
	m.metrics.ConflictsRegistered(conflicts)

	start := time.Now()
	var res *search.Result
	err := ctx.Err()
	if err == nil {
		res, err = search.Run(ctx, low.problem, m.searchCfg)
	}
	m.metrics.SearchCompleted(m.searchCfg.Mode.String(), visitedOf(res, err), prunedOf(res), time.Since(start))
	if err == nil && !res.Settled {
		logging.SearchWarn("Document %s: %d evaluations did not settle within %d iterations",
			d.Name, res.Unsettled, m.searchCfg.MaxEvalIterations)
		err = &UnsettledError{Doc: d.Name, Iterations: m.searchCfg.MaxEvalIterations, Evaluations: res.Unsettled}
	}
	if err != nil {
		var ex *search.ExhaustedError
		if errors.As(err, &ex) {
			err = &SearchExhaustedError{Doc: d.Name, Limit: ex.Limit, Visited: ex.Visited}
		}
		logging.DocumentWarn("Document %s failed: %v", d.Name, err)
		d.release()
		m.mu.RUnlock()
		d.status = StatusFailed
		d.result = &Result{Doc: d.Name, Status: StatusFailed, Err: err, Mode: m.searchCfg.Mode, Visited: visitedOf(res, err)}
		m.metrics.DocumentProcessed(StatusFailed.String())
		timer.Stop()
		return d.result, nil
	}
	if res.Unsettled > 0 {
		logging.SearchDebug("Document %s: %d discarded branches did not settle", d.Name, res.Unsettled)
	}
	d.result = d.commit(low, res)
	d.status = StatusCommitted
	m.mu.RUnlock()
	m.metrics.DocumentProcessed(StatusCommitted.String())
	logging.Document("Document %s committed: score=%.4f final=%d visited=%d pruned=%d",
		d.Name, d.result.Score, len(d.result.Activations), res.Visited, res.Pruned)
	timer.Stop()

	if m.cfg.Training {
		if err := m.discover(d); err != nil {
			return d.result, err
		}
	}
	return d.result, nil
}

func visitedOf(res *search.Result, err error) int {
	if res != nil {
		return res.Visited
	}
	var ex *search.ExhaustedError
	if errors.As(err, &ex) {
		return ex.Visited
	}
	var se *SearchExhaustedError
	if errors.As(err, &se) {
		return se.Visited
	}
	return 0
}

func prunedOf(res *search.Result) int {
	if res == nil {
		return 0
	}
	return res.Pruned
}

// lower registers the conflicts caused by negative recurrent synapses and
// builds the search problem. It returns the number of conflicts added.
func (d *Document) lower() (*lowered, int) {
	var acts []*Activation
	for _, a := range d.acts {
		if !a.Removed {
			acts = append(acts, a)
		}
	}
	index := make(map[*Activation]int, len(acts))
	for i, a := range acts {
		index[a] = i
	}
	before := len(d.lattice.ConflictList())

	type linkKey struct{ from, synapse int }
	links := make([][]search.Link, len(acts))
	seen := make([]map[linkKey]bool, len(acts))
	addLink := func(t int, src *Activation, s *Synapse) {
		i, ok := index[src]
		if !ok {
			return
		}
		k := linkKey{i, s.ID}
		if seen[t] == nil {
			seen[t] = make(map[linkKey]bool)
		}
		if seen[t][k] {
			return
		}
		seen[t][k] = true
		links[t] = append(links[t], search.Link{From: i, Weight: s.Weight, Recurrent: s.Recurrent})
	}

	// Negative recurrent synapses become conflicts between the inhibitor's
	// interpretation and the target's own choice. Inhibitors active under
	// every interpretation are plain negative links.
	for ti, t := range acts {
		if t.Fixed || t.Own == nil {
			continue
		}
		for _, s := range t.Neuron.synapses {
			if !s.Recurrent || s.Weight >= 0 {
				continue
			}
			for _, src := range d.candidates(t, s) {
				switch {
				case src.Option.Contains(t.Own):
				case !src.Option.IsBottom():
					d.lattice.Add(true, src.Option, t.Own)
				default:
					addLink(ti, src, s)
				}
			}
		}
	}

	for ti, t := range acts {
		if t.Fixed {
			continue
		}
		bound := make(map[int]bool)
		for _, dv := range t.derivations {
			for slot, sid := range dv.synapses {
				s := t.Neuron.Synapse(sid)
				if s == nil || slot >= len(dv.from.Slots) {
					continue
				}
				bound[sid] = true
				addLink(ti, dv.from.Slots[slot], s)
			}
		}
		for _, s := range t.Neuron.synapses {
			if bound[s.ID] || (s.Recurrent && s.Weight < 0 && t.Own != nil) {
				continue
			}
			for _, src := range d.candidates(t, s) {
				if d.lattice.Compatible(src.Option, t.Option) {
					addLink(ti, src, s)
				}
			}
		}
	}

	low := &lowered{acts: acts, problem: &search.Problem{}}
	primIndex := make(map[int]int)
	usePrim := func(o *interpr.Option) []int {
		var out []int
		for _, p := range o.Prims() {
			q, ok := primIndex[p]
			if !ok {
				q = len(low.prims)
				primIndex[p] = q
				prim := d.lattice.Primitive(p)
				low.prims = append(low.prims, prim)
				low.problem.PrimLabels = append(low.problem.PrimLabels, prim.Label())
			}
			out = append(out, q)
		}
		return out
	}
	for i, a := range acts {
		sa := search.Activation{
			Label:  a.String(),
			Option: usePrim(a.Option),
			Own:    -1,
			Inputs: links[i],
		}
		if a.Own != nil {
			sa.Own = primIndex[a.Own.Prim()]
		}
		if a.Fixed {
			sa.Fixed, sa.FixedValue, sa.Inputs = true, a.FixedValue, nil
		} else {
			sa.Bias = a.Neuron.Bias
			sa.Fn = a.Neuron.Fn.Apply
		}
		low.problem.Activations = append(low.problem.Activations, sa)
	}
	conflicts := d.lattice.ConflictList()
	for _, c := range conflicts {
		prims := make([]int, 0, len(c.Union))
		ok := true
		for _, p := range c.Union {
			q, used := primIndex[p]
			if !used {
				// a choice no live activation depends on can always be excluded
				ok = false
				break
			}
			prims = append(prims, q)
		}
		if ok {
			low.problem.Conflicts = append(low.problem.Conflicts, search.Conflict{Prims: prims})
		}
	}
	added := len(conflicts) - before
	logging.SearchDebug("Document %s lowered: %d activations, %d choices, %d conflicts (%d new)",
		d.Name, len(acts), len(low.prims), len(low.problem.Conflicts), added)
	return low, added
}

// candidates lists the live activations of s's input neuron that may feed
// t through s. Unmapped synapses accept inputs contained in t's range.
func (d *Document) candidates(t *Activation, s *Synapse) []*Activation {
	rel := s.Mapping.OutputRelation()
	if rel == nil {
		rel = relation.ContainedIn
	}
	var out []*Activation
	for _, src := range s.Input.snapshot(d.ID) {
		if src.Removed {
			continue
		}
		if s.HasRIDOffset && (!src.HasRID || !t.HasRID || src.RID-s.RIDOffset != t.RID) {
			continue
		}
		if !rel.Test(src.endpoint(), t.endpoint()) {
			continue
		}
		out = append(out, src)
	}
	return out
}

// commit copies the search result onto the activations. In best mode the
// activations outside the chosen interpretation are removed.
func (d *Document) commit(low *lowered, res *search.Result) *Result {
	m := d.model
	out := &Result{
		Doc:     d.Name,
		Status:  StatusCommitted,
		Mode:    res.Mode,
		Score:   res.Score,
		Visited:   res.Visited,
		Pruned:    res.Pruned,
		Unsettled: res.Unsettled,
		Search:    res,
	}
	for i, a := range low.acts {
		if i < len(res.Values) {
			a.Value = res.Values[i]
			a.Net = res.Nets[i]
			a.Probability = res.Probability[i]
			a.Selected = res.Active[i]
		}
		a.Final = a.Selected && a.Value > 0
	}
	for _, q := range res.SelectedPrims() {
		out.Selected = append(out.Selected, low.prims[q].Label())
	}
	if res.Mode == search.ModeBest {
		for _, a := range low.acts {
			if !a.Selected && !a.Fixed {
				d.removeActivation(a)
			}
		}
	}
	for _, a := range low.acts {
		if a.Final && !a.Removed {
			out.Activations = append(out.Activations, a)
		}
	}
	if m.stats != nil {
		for _, a := range out.Activations {
			n := a.Neuron
			n.mu.Lock()
			if n.statistic == nil {
				n.statistic = m.stats.NewAccumulator(n)
			}
			acc := n.statistic
			n.mu.Unlock()
			m.stats.Observe(acc, a)
		}
	}
	return out
}

// Result returns the committed result, or nil while the document is open.
func (d *Document) Result() *Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result
}

func (r *Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", r.Doc, r.Status, r.Err)
	}
	return fmt.Sprintf("%s: %s score=%.4f final=%d", r.Doc, r.Status, r.Score, len(r.Activations))
}
