package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"patternlattice/internal/config"
	"patternlattice/internal/logging"
	"patternlattice/internal/relation"
)

// conjunctionSizes returns the slot count of every conjunction feeding the
// neuron's or-node.
func conjunctionSizes(t *testing.T, m *Model, label string) []int {
	t.Helper()
	or, err := m.OrNode(label)
	require.NoError(t, err)
	info, err := m.Describe(or)
	require.NoError(t, err)
	var sizes []int
	for _, p := range info.Parents {
		pi, err := m.Describe(p)
		require.NoError(t, err)
		sizes = append(sizes, len(pi.Slots))
	}
	return sizes
}

func weightedNeuron(t *testing.T, m *Model, label string, bias float64, weights ...float64) *Neuron {
	t.Helper()
	spec := NeuronSpec{Label: label, Bias: bias}
	for i, w := range weights {
		in := fmt.Sprintf("%s%d", label, i)
		addInputs(t, m, in)
		spec.Synapses = append(spec.Synapses, SynapseSpec{Input: in, Weight: w, Mapping: relation.Direct})
	}
	n, err := m.AddNeuron(spec)
	require.NoError(t, err)
	return n
}

func TestConverterDecomposition(t *testing.T) {
	tests := []struct {
		name    string
		bias    float64
		weights []float64
		want    []int
	}{
		{"skewed weights need only the dominant input", -5, []float64{10, 1, 1, 1}, []int{1}},
		{"balanced weights form one full chain", -3.5, []float64{1, 1, 1, 1}, []int{4}},
		{"balanced weights with slack form overlapping triples", -2.5, []float64{1, 1, 1, 1}, []int{3, 3, 3, 3}},
		{"positive bias fires on any input", 0.5, []float64{1, 2}, []int{1, 1}},
		{"mixed required and optional", -9.5, []float64{8, 2, 2, 1, 1}, []int{2, 2, 3}},
		{"never fires", -100, []float64{1, 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newModel(t, testConfig())
			weightedNeuron(t, m, "N", tt.bias, tt.weights...)
			assert.ElementsMatch(t, tt.want, conjunctionSizes(t, m, "N"))
		})
	}
}

func TestConverterFallsBackToFullChain(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logging.SetBase(zap.New(core), logging.Settings{})
	t.Cleanup(func() { _ = logging.Initialize(logging.Settings{}) })

	cfg := testConfig()
	cfg.Converter = config.ConverterConfig{MaxConjunctionArity: 8, MaxMinimalSets: 2}
	m := newModel(t, cfg)
	weightedNeuron(t, m, "N", -2.5, 1, 1, 1, 1)
	assert.Equal(t, []int{4}, conjunctionSizes(t, m, "N"))

	cfg.Converter = config.ConverterConfig{MaxConjunctionArity: 2, MaxMinimalSets: 16}
	m = newModel(t, cfg)
	n := weightedNeuron(t, m, "N", -2.5, 1, 1, 1)
	assert.Equal(t, []int{3}, conjunctionSizes(t, m, "N"))
	assert.Equal(t, 2, logs.FilterMessageSnippet("using the full chain").Len())

	// one warning per rewrite
	require.NoError(t, m.UpdateSynapseWeight("N", n.Synapses()[0].ID, 0.1))
	assert.Equal(t, []int{3}, conjunctionSizes(t, m, "N"))
	assert.Equal(t, 3, logs.FilterMessageSnippet("using the full chain").Len())
}

func TestConverterRejectsNeuronWithoutPositiveInput(t *testing.T) {
	m := newModel(t, testConfig())
	addInputs(t, m, "x")
	_, err := m.AddNeuron(NeuronSpec{
		Label:    "N",
		Synapses: []SynapseSpec{{Input: "x", Weight: -1}},
	})
	assert.ErrorIs(t, err, ErrNoPositiveInput)
	assert.Nil(t, m.Neuron("N"))
}

func TestUpdateSynapseWeightRewritesConjunctions(t *testing.T) {
	m := newModel(t, testConfig())
	n := weightedNeuron(t, m, "N", -3.5, 10, 1, 1, 1)
	assert.Equal(t, []int{1}, conjunctionSizes(t, m, "N"))
	dominant := n.Synapses()[0]

	require.NoError(t, m.UpdateSynapseWeight("N", dominant.ID, -9))
	assert.InDelta(t, 1.0, dominant.Weight, 1e-12)
	assert.Equal(t, []int{4}, conjunctionSizes(t, m, "N"))

	// the old single-input conjunction is unreferenced and can be pruned
	before := m.NodeCount()
	pruned, err := m.Prune()
	require.NoError(t, err)
	assert.Zero(t, pruned, "every input node still starts a chain")
	assert.Equal(t, before, m.NodeCount())
}

func TestUpdateSynapseWeightBelowTolerance(t *testing.T) {
	m := newModel(t, testConfig())
	n := weightedNeuron(t, m, "N", -3.5, 10, 1, 1, 1)
	s := n.Synapses()[1]

	err := m.UpdateSynapseWeight("N", s.ID, 1e-12)
	var bt *BelowToleranceError
	require.True(t, errors.As(err, &bt))
	assert.Equal(t, 1e-9, bt.Tolerance)
	assert.Equal(t, 1.0, s.Weight)

	single := weightedNeuron(t, m, "M", -1, 5)
	err = m.UpdateSynapseWeight("M", single.Synapses()[0].ID, -20)
	assert.ErrorIs(t, err, ErrNoPositiveInput)
	assert.Equal(t, 5.0, single.Synapses()[0].Weight)
	assert.Equal(t, []int{1}, conjunctionSizes(t, m, "M"))
}

func TestFeedforwardCycleRejected(t *testing.T) {
	m := newModel(t, testConfig())
	addInputs(t, m, "x")
	_, err := m.AddNeuron(NeuronSpec{Label: "A", Synapses: []SynapseSpec{{Input: "x", Weight: 1}}})
	require.NoError(t, err)
	_, err = m.AddNeuron(NeuronSpec{Label: "B", Synapses: []SynapseSpec{{Input: "A", Weight: 1}}})
	require.NoError(t, err)

	_, err = m.AddSynapse("A", SynapseSpec{Input: "B", Weight: 1})
	assert.ErrorIs(t, err, ErrFeedforwardCycle)
	_, err = m.AddSynapse("A", SynapseSpec{Input: "B", Weight: 1, Recurrent: true})
	assert.NoError(t, err)
	_, err = m.AddNeuron(NeuronSpec{Label: "C", Synapses: []SynapseSpec{{Input: "C", Weight: 1}}})
	assert.ErrorIs(t, err, ErrFeedforwardCycle)
	_, err = m.AddNeuron(NeuronSpec{Label: "A", Synapses: []SynapseSpec{{Input: "x", Weight: 1}}})
	assert.ErrorIs(t, err, ErrDuplicateNeuron)
}
