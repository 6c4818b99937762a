package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternlattice/internal/config"
	"patternlattice/internal/position"
	"patternlattice/internal/relation"
	"patternlattice/internal/search"
)

func testConfig() config.EngineConfig {
	return config.DefaultConfig().Engine
}

func newModel(t *testing.T, cfg config.EngineConfig, opts ...ModelOption) *Model {
	t.Helper()
	m, err := New(cfg, opts...)
	require.NoError(t, err)
	return m
}

func addInputs(t *testing.T, m *Model, labels ...string) {
	t.Helper()
	for _, l := range labels {
		_, err := m.AddInputNeuron(l)
		require.NoError(t, err)
	}
}

// feedText adds one input per rune, each rune labelling its input neuron.
func feedText(t *testing.T, d *Document, text string) {
	t.Helper()
	for i, r := range text {
		_, err := d.AddInput(string(r), Input{Range: position.NewRange(i, i+1)})
		require.NoError(t, err)
	}
}

// patternModel builds a neuron P matching b, c and d directly adjacent: P
// starts where b begins and ends where d ends.
func patternModel(t *testing.T, cfg config.EngineConfig, opts ...ModelOption) *Model {
	t.Helper()
	m := newModel(t, cfg, opts...)
	addInputs(t, m, "a", "b", "c", "d", "e")
	_, err := m.AddNeuron(NeuronSpec{
		Label: "P",
		Bias:  -25,
		Synapses: []SynapseSpec{
			{Input: "b", Weight: 10, Mapping: relation.Begin},
			{Input: "c", Weight: 10},
			{Input: "d", Weight: 10, Mapping: relation.End},
		},
		Relations: []SynapseRelation{
			{From: 0, To: 1, Rel: relation.EndToBeginEquals},
			{From: 1, To: 2, Rel: relation.EndToBeginEquals},
		},
	})
	require.NoError(t, err)
	return m
}

// mutexModel builds three excitatory neurons A, B and C with biases 3, 5
// and 2, each fed by its own input and suppressed through a recurrent
// negative synapse by an inhibitor I that all three feed.
func mutexModel(t *testing.T, cfg config.EngineConfig, opts ...ModelOption) *Model {
	t.Helper()
	m := newModel(t, cfg, opts...)
	addInputs(t, m, "inA", "inB", "inC")
	biases := map[string]float64{"A": 3, "B": 5, "C": 2}
	for _, l := range []string{"A", "B", "C"} {
		_, err := m.AddNeuron(NeuronSpec{
			Label:    l,
			Bias:     biases[l],
			Synapses: []SynapseSpec{{Input: "in" + l, Weight: 1, Mapping: relation.Direct}},
		})
		require.NoError(t, err)
	}
	_, err := m.AddNeuron(NeuronSpec{
		Label: "I",
		Bias:  -0.5,
		Synapses: []SynapseSpec{
			{Input: "A", Weight: 1, Mapping: relation.Direct},
			{Input: "B", Weight: 1, Mapping: relation.Direct},
			{Input: "C", Weight: 1, Mapping: relation.Direct},
		},
	})
	require.NoError(t, err)
	for _, l := range []string{"A", "B", "C"} {
		_, err := m.AddSynapse(l, SynapseSpec{Input: "I", Weight: -100, Recurrent: true, Mapping: relation.Direct})
		require.NoError(t, err)
	}
	return m
}

func feedMutex(t *testing.T, d *Document) {
	t.Helper()
	for _, l := range []string{"inA", "inB", "inC"} {
		_, err := d.AddInput(l, Input{Range: position.NewRange(0, 1)})
		require.NoError(t, err)
	}
}

func collect(n *Neuron, d *Document, onlyFinal bool) []*Activation {
	var out []*Activation
	for a := range n.Activations(d, onlyFinal) {
		out = append(out, a)
	}
	return out
}

func TestPatternConjunction(t *testing.T) {
	m := patternModel(t, testConfig())
	d := m.NewDocument("abcde")
	feedText(t, d, "abcde")

	res, err := d.Process(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, res.Status)

	acts := collect(m.Neuron("P"), d, true)
	require.Len(t, acts, 1)
	assert.Equal(t, position.NewRange(1, 4), acts[0].Range)
	assert.InDelta(t, 5.0, acts[0].Net, 1e-9)
	assert.True(t, acts[0].Final)
	assert.Equal(t, 1, acts[0].Derivations())
}

func TestPatternRequiresAdjacency(t *testing.T) {
	m := patternModel(t, testConfig())
	d := m.NewDocument("gap")
	_, err := d.AddInput("b", Input{Range: position.NewRange(0, 1)})
	require.NoError(t, err)
	_, err = d.AddInput("c", Input{Range: position.NewRange(2, 3)})
	require.NoError(t, err)
	_, err = d.AddInput("d", Input{Range: position.NewRange(3, 4)})
	require.NoError(t, err)

	assert.Empty(t, collect(m.Neuron("P"), d, false))
}

func TestMutualExclusionSelectsStrongest(t *testing.T) {
	m := mutexModel(t, testConfig())
	d := m.NewDocument("mutex")
	feedMutex(t, d)

	res, err := d.Process(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, res.Status)
	if diff := cmp.Diff([]string{"B[0,1)"}, res.Selected); diff != "" {
		t.Errorf("selected choices (-want +got):\n%s", diff)
	}
	assert.Empty(t, collect(m.Neuron("A"), d, true))
	assert.Len(t, collect(m.Neuron("B"), d, true), 1)
	assert.Empty(t, collect(m.Neuron("C"), d, true))
	assert.Len(t, collect(m.Neuron("I"), d, true), 1)
	assert.Greater(t, res.Score, 9.0)
}

func TestMutualExclusionSoftMax(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "softmax"
	m := mutexModel(t, cfg)
	d := m.NewDocument("mutex-softmax")
	feedMutex(t, d)

	res, err := d.Process(context.Background())
	require.NoError(t, err)
	require.Equal(t, search.ModeSoftMax, res.Mode)

	prob := map[string]float64{}
	for _, l := range []string{"A", "B", "C"} {
		acts := collect(m.Neuron(l), d, false)
		require.Len(t, acts, 1, l)
		prob[l] = acts[0].Probability
	}
	assert.Greater(t, prob["B"], prob["A"])
	assert.Greater(t, prob["A"], prob["C"])
	// the remaining mass belongs to the interpretation selecting none
	assert.InDelta(t, 1.0, prob["A"]+prob["B"]+prob["C"], 0.01)
	assert.LessOrEqual(t, prob["A"]+prob["B"]+prob["C"], 1.0+1e-9)
}

func TestSearchExhaustionFailsDocument(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSearchNodes = 1
	m := mutexModel(t, cfg)
	d := m.NewDocument("exhausted")
	feedMutex(t, d)

	res, err := d.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	var ex *SearchExhaustedError
	require.True(t, errors.As(res.Err, &ex))
	assert.Equal(t, 1, ex.Limit)
	assert.Equal(t, 2, ex.Visited)
	assert.Empty(t, d.Activations(false))

	again, err := d.Process(context.Background())
	require.NoError(t, err)
	assert.Same(t, res, again)

	_, err = d.AddInput("inA", Input{Range: position.NewRange(0, 1)})
	assert.ErrorIs(t, err, ErrDocumentCommitted)

	require.NoError(t, d.ClearActivations())
	assert.Equal(t, StatusOpen, d.Status())
	_, err = d.AddInput("inA", Input{Range: position.NewRange(0, 1)})
	assert.NoError(t, err)
	assert.NoError(t, m.Err())
}

func TestCancelledProcessFails(t *testing.T) {
	m := mutexModel(t, testConfig())
	d := m.NewDocument("cancelled")
	feedMutex(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestDocumentLifecycle(t *testing.T) {
	m := patternModel(t, testConfig())
	d := m.NewDocument("")
	assert.NotEmpty(t, d.Name)
	feedText(t, d, "abcde")
	_, err := d.Process(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.ClearActivations())
	assert.Empty(t, d.Activations(false))
	for _, n := range m.nodes {
		if n != nil {
			assert.Zero(t, n.Live(), "node %s keeps activations", n)
		}
	}

	feedText(t, d, "bcd")
	res, err := d.Process(context.Background())
	require.NoError(t, err)
	require.Len(t, collect(m.Neuron("P"), d, true), 1)
	assert.Equal(t, StatusCommitted, res.Status)

	require.NoError(t, d.Close())
	_, err = d.AddInput("a", Input{Range: position.NewRange(0, 1)})
	assert.ErrorIs(t, err, ErrDocumentClosed)
	_, err = d.Process(context.Background())
	assert.ErrorIs(t, err, ErrDocumentClosed)
	assert.ErrorIs(t, d.ClearActivations(), ErrDocumentClosed)
}

func TestAddInputErrors(t *testing.T) {
	m := patternModel(t, testConfig())
	d := m.NewDocument("errors")
	_, err := d.AddInput("zz", Input{Range: position.NewRange(0, 1)})
	assert.ErrorIs(t, err, ErrUnknownNeuron)
	_, err = d.AddInput("P", Input{Range: position.NewRange(0, 1)})
	assert.ErrorIs(t, err, ErrNotInputNeuron)
}

type countingStats struct {
	created int
}

type counter struct{ n int }

func (s *countingStats) NewAccumulator(*Neuron) any {
	s.created++
	return &counter{}
}

func (s *countingStats) Observe(acc any, _ *Activation) {
	acc.(*counter).n++
}

func TestStatsHookSeesFinalActivations(t *testing.T) {
	stats := &countingStats{}
	m := mutexModel(t, testConfig(), WithStatsHook(stats))
	for i := 0; i < 2; i++ {
		d := m.NewDocument("")
		feedMutex(t, d)
		_, err := d.Process(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 2, m.Neuron("B").Statistic().(*counter).n)
	assert.Equal(t, 2, m.Neuron("I").Statistic().(*counter).n)
	assert.Nil(t, m.Neuron("A").Statistic())
	// three inputs, B and I
	assert.Equal(t, 5, stats.created)
}

// loopModel builds X (bias 3) and Y (bias 5) excluding each other through an
// inhibitor, and R fed by X. With feedback set, R returns to X through a
// positive recurrent synapse of weight 4.
func loopModel(t *testing.T, fn string, feedback bool) *Model {
	t.Helper()
	m := newModel(t, testConfig())
	addInputs(t, m, "inX", "inY")
	for l, bias := range map[string]float64{"X": 3, "Y": 5} {
		_, err := m.AddNeuron(NeuronSpec{
			Label:    l,
			Bias:     bias,
			ActFn:    fn,
			Synapses: []SynapseSpec{{Input: "in" + l, Weight: 1, Mapping: relation.Direct}},
		})
		require.NoError(t, err)
	}
	_, err := m.AddNeuron(NeuronSpec{
		Label: "I",
		Bias:  -0.5,
		Synapses: []SynapseSpec{
			{Input: "X", Weight: 1, Mapping: relation.Direct},
			{Input: "Y", Weight: 1, Mapping: relation.Direct},
		},
	})
	require.NoError(t, err)
	for _, l := range []string{"X", "Y"} {
		_, err := m.AddSynapse(l, SynapseSpec{Input: "I", Weight: -100, Recurrent: true, Mapping: relation.Direct})
		require.NoError(t, err)
	}
	_, err = m.AddNeuron(NeuronSpec{
		Label:    "R",
		ActFn:    fn,
		Synapses: []SynapseSpec{{Input: "X", Weight: 1, Mapping: relation.Direct}},
	})
	require.NoError(t, err)
	if feedback {
		_, err = m.AddSynapse("X", SynapseSpec{Input: "R", Weight: 4, Recurrent: true, Mapping: relation.Direct})
		require.NoError(t, err)
	}
	return m
}

func processLoop(t *testing.T, m *Model) (*Document, *Result) {
	t.Helper()
	d := m.NewDocument("")
	for _, l := range []string{"inX", "inY"} {
		_, err := d.AddInput(l, Input{Range: position.NewRange(0, 1)})
		require.NoError(t, err)
	}
	res, err := d.Process(context.Background())
	require.NoError(t, err)
	return d, res
}

func TestPositiveRecurrentSynapseChangesSelection(t *testing.T) {
	// X side: X 4 + R tanh(4) + I 0.5, below Y side: Y 6 + I 0.5
	_, res := processLoop(t, loopModel(t, "", false))
	require.Equal(t, StatusCommitted, res.Status)
	assert.Empty(t, cmp.Diff([]string{"Y[0,1)"}, res.Selected))

	// the loop lifts X to 4 + 4 tanh(tanh(X)), about 7
	m := loopModel(t, "", true)
	d, res := processLoop(t, m)
	require.Equal(t, StatusCommitted, res.Status)
	assert.Empty(t, cmp.Diff([]string{"X[0,1)"}, res.Selected))
	x := collect(m.Neuron("X"), d, true)
	require.Len(t, x, 1)
	assert.InDelta(t, 4+4*math.Tanh(math.Tanh(x[0].Net)), x[0].Net, 1e-6)
	assert.Greater(t, x[0].Net, 6.5)
	assert.Len(t, collect(m.Neuron("R"), d, true), 1)
	assert.Empty(t, collect(m.Neuron("Y"), d, true))
	assert.Zero(t, res.Unsettled)
}

func TestUnsettledRecurrenceFailsDocument(t *testing.T) {
	m := loopModel(t, "identity", true)
	d, res := processLoop(t, m)
	assert.Equal(t, StatusFailed, res.Status)
	var ue *UnsettledError
	require.True(t, errors.As(res.Err, &ue))
	assert.Equal(t, 50, ue.Iterations)
	assert.Positive(t, ue.Evaluations)
	assert.Empty(t, d.Activations(false))
	assert.NoError(t, m.Err())
}
