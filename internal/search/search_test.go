package search

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mutualExclusion builds three choices A, B, C with biases 3, 5 and 2, each
// feeding its own inhibitor activation, pairwise exclusive.
//
//	none = 3, A = 3+13+8 = 24, B = 3+15+10 = 28, C = 3+12+7 = 22
func mutualExclusion() *Problem {
	return &Problem{
		PrimLabels: []string{"A", "B", "C"},
		Activations: []Activation{
			{Label: "inA", Fixed: true, FixedValue: 1, Own: -1},
			{Label: "inB", Fixed: true, FixedValue: 1, Own: -1},
			{Label: "inC", Fixed: true, FixedValue: 1, Own: -1},
			{Label: "A", Bias: 3, Own: 0, Option: []int{0}, Inputs: []Link{{From: 0, Weight: 10}}},
			{Label: "B", Bias: 5, Own: 1, Option: []int{1}, Inputs: []Link{{From: 1, Weight: 10}}},
			{Label: "C", Bias: 2, Own: 2, Option: []int{2}, Inputs: []Link{{From: 2, Weight: 10}}},
			{Label: "I@A", Bias: -5, Own: -1, Option: []int{0}, Inputs: []Link{{From: 3, Weight: 1}}},
			{Label: "I@B", Bias: -5, Own: -1, Option: []int{1}, Inputs: []Link{{From: 4, Weight: 1}}},
			{Label: "I@C", Bias: -5, Own: -1, Option: []int{2}, Inputs: []Link{{From: 5, Weight: 1}}},
		},
		Conflicts: []Conflict{{Prims: []int{0, 1}}, {Prims: []int{0, 2}}, {Prims: []int{1, 2}}},
	}
}

func TestBestModeSelectsHighestScore(t *testing.T) {
	res, err := Run(context.Background(), mutualExclusion(), DefaultConfig())
	require.NoError(t, err)

	assert.InDelta(t, 28.0, res.Score, 1e-9)
	assert.Empty(t, cmp.Diff([]int{1}, res.SelectedPrims()))
	assert.Equal(t, []bool{true, true, true, false, true, false, false, true, false}, res.Active)
	assert.InDelta(t, 15.0, res.Values[4], 1e-9)
	assert.Positive(t, res.Pruned, "the exclude-B subtree cannot beat 28")
}

func TestWithoutPruningVisitsEveryLeaf(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisablePruning = true
	res, err := Run(context.Background(), mutualExclusion(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Terminals)
	assert.Zero(t, res.Pruned)
	assert.InDelta(t, 28.0, res.Score, 1e-9)
}

func TestSoftMaxNormalization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeSoftMax
	res, err := Run(context.Background(), mutualExclusion(), cfg)
	require.NoError(t, err)
	require.Len(t, res.Leaves, 4)

	total := 0.0
	for _, l := range res.Leaves {
		total += l.Probability
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	z := math.Exp(3) + math.Exp(24) + math.Exp(28) + math.Exp(22)
	assert.InDelta(t, math.Exp(24)/z, res.Probability[3], 1e-9)
	assert.InDelta(t, math.Exp(28)/z, res.Probability[4], 1e-9)
	assert.InDelta(t, math.Exp(22)/z, res.Probability[5], 1e-9)

	// the alternatives of the inhibited choices plus the empty leaf cover all mass
	none := math.Exp(3) / z
	assert.InDelta(t, 1.0, res.Probability[3]+res.Probability[4]+res.Probability[5]+none, 1e-9)
	assert.InDelta(t, 1.0, res.Probability[0], 1e-9)

	// averaged value of B is its value weighted by its probability
	assert.InDelta(t, 15*math.Exp(28)/z, res.Values[4], 1e-9)
	assert.Empty(t, cmp.Diff([]int{1}, res.SelectedPrims()))
}

func TestSoftMaxCutoffSkipsNegligibleSubtrees(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeSoftMax
	cfg.SoftMaxCutoff = 1
	res, err := Run(context.Background(), mutualExclusion(), cfg)
	require.NoError(t, err)
	assert.Less(t, len(res.Leaves), 4)
	total := 0.0
	for _, l := range res.Leaves {
		total += l.Probability
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestSearchMatchesExhaustiveEnumeration(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 60; i++ {
		p := randomProblem(rng, false)
		want := bruteForce(t, p)

		res, err := Run(context.Background(), p, DefaultConfig())
		require.NoError(t, err)
		assert.True(t, res.Settled)
		assert.Zero(t, res.Unsettled)
		assert.InDelta(t, want, res.Score, 1e-6, "problem %d", i)

		selected := make([]bool, p.NumPrims())
		for _, q := range res.SelectedPrims() {
			selected[q] = true
		}
		got, _, ok, settled := Evaluate(p, selected, DefaultConfig())
		require.True(t, ok)
		assert.True(t, settled)
		assert.InDelta(t, res.Score, got, 1e-6, "problem %d", i)
	}
}

func TestHandComputedOptimum(t *testing.T) {
	// x and y support z; z only pays off if both are chosen, but x and w
	// exclude each other and w alone is worth more than x alone.
	p := &Problem{
		PrimLabels: []string{"x", "y", "w"},
		Activations: []Activation{
			{Label: "x", Bias: 1, Own: 0, Option: []int{0}},
			{Label: "y", Bias: -0.5, Own: 1, Option: []int{1}},
			{Label: "w", Bias: 2, Own: 2, Option: []int{2}},
			{Label: "z", Bias: -1, Own: -1, Option: []int{0, 1}, Inputs: []Link{{From: 0, Weight: 2}, {From: 1, Weight: 2}}},
		},
		Conflicts: []Conflict{{Prims: []int{0, 2}}},
	}
	// {x,y}: 1 - 0.5 + (-1+2-1) = 0.5 ; {w}: 2 ; {y,w}: 1.5 ; {x}: 1
	res, err := Run(context.Background(), p, DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Score, 1e-9)
	assert.Equal(t, []int{2}, res.SelectedPrims())
}

func TestRediscoveredPrimitives(t *testing.T) {
	// the second choice is only decidable once the first one is selected
	p := &Problem{
		PrimLabels: []string{"outer", "inner"},
		Activations: []Activation{
			{Label: "outer", Bias: 1, Own: 0, Option: []int{0}},
			{Label: "inner", Bias: 1, Own: 1, Option: []int{0, 1}, Inputs: []Link{{From: 0, Weight: 1}}},
		},
	}
	s, err := New(p, DefaultConfig())
	require.NoError(t, err)
	var opened [][]int
	s.OnNode = func(n *Node) { opened = append(opened, n.Open) }
	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rediscovered)
	assert.Equal(t, []int{0, 1}, res.SelectedPrims())
	assert.InDelta(t, 3.0, res.Score, 1e-9)
	assert.NotEmpty(t, opened)

	// backtracking restored the untouched state
	assert.InDelta(t, 0.0, s.st.score, 1e-9)
	assert.Equal(t, []Decision{Undecided, Undecided}, s.st.prims)
}

func TestExcludedEnablerExcludesDependents(t *testing.T) {
	p := &Problem{
		PrimLabels: []string{"outer", "inner"},
		Activations: []Activation{
			{Label: "outer", Bias: -1, Own: 0, Option: []int{0}},
			{Label: "inner", Bias: 5, Own: 1, Option: []int{0, 1}},
		},
	}
	// inner is worth 5 but needs outer (-1): selecting both wins
	res, err := Run(context.Background(), p, DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 4.0, res.Score, 1e-9)
	assert.Equal(t, []Decision{Selected, Selected}, res.Decisions)
}

func TestExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxNodes = 3
	cfg.DisablePruning = true
	_, err := Run(context.Background(), mutualExclusion(), cfg)
	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 3, ex.Limit)
	assert.Equal(t, 4, ex.Visited)
}

func TestCancellation(t *testing.T) {
	p := &Problem{}
	for q := 0; q < 10; q++ {
		p.PrimLabels = append(p.PrimLabels, "p")
		p.Activations = append(p.Activations, Activation{Bias: 1, Own: q, Option: []int{q}})
	}
	cfg := DefaultConfig()
	cfg.DisablePruning = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, p, cfg)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidate(t *testing.T) {
	p := &Problem{PrimLabels: []string{"a"}, Activations: []Activation{{Own: 3}}}
	assert.Error(t, p.Validate())
	p = &Problem{Activations: []Activation{{Own: -1, Inputs: []Link{{From: 4}}}}}
	assert.Error(t, p.Validate())
	p = &Problem{Activations: []Activation{{Own: -1, Fixed: true, Inputs: []Link{{From: 0}}}}}
	assert.Error(t, p.Validate())
	p = &Problem{PrimLabels: []string{"a"}, Conflicts: []Conflict{{Prims: []int{1}}}}
	assert.Error(t, p.Validate())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("softmax")
	require.NoError(t, err)
	assert.Equal(t, ModeSoftMax, m)
	_, err = ParseMode("greedy")
	assert.Error(t, err)
}

func rectifiedTanh(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Tanh(x)
}

// randomProblem links every activation to earlier ones. With loops set it
// adds positive recurrent back-links, bounding both ends with rectified tanh.
func randomProblem(rng *rand.Rand, loops bool) *Problem {
	p := &Problem{}
	nPrims := 1 + rng.Intn(6)
	for i := 0; i < 3; i++ {
		p.Activations = append(p.Activations, Activation{Fixed: true, FixedValue: rng.Float64() * 2, Own: -1})
	}
	owned := make([][]int, nPrims)
	for q := 0; q < nPrims; q++ {
		p.PrimLabels = append(p.PrimLabels, "p")
		option := []int{q}
		if q > 0 && rng.Intn(3) == 0 {
			// a nested choice carries its enabler's whole option
			option = append(append([]int(nil), owned[rng.Intn(q)]...), q)
		}
		owned[q] = option
		act := Activation{Bias: rng.NormFloat64(), Own: q, Option: option}
		if rng.Intn(2) == 0 {
			act.Fn = rectifiedTanh
		}
		n := len(p.Activations)
		for k := 0; k < 1+rng.Intn(3); k++ {
			act.Inputs = append(act.Inputs, Link{From: rng.Intn(n), Weight: rng.NormFloat64() * 3})
		}
		p.Activations = append(p.Activations, act)

		if rng.Intn(2) == 0 {
			from := len(p.Activations) - 1
			p.Activations = append(p.Activations, Activation{
				Bias:   rng.NormFloat64(),
				Own:    -1,
				Option: option,
				Inputs: []Link{{From: from, Weight: rng.NormFloat64() * 2}, {From: rng.Intn(from), Weight: rng.NormFloat64()}},
			})
		}
	}
	for k := 0; loops && k < 1+rng.Intn(3); k++ {
		to := 3 + rng.Intn(len(p.Activations)-3)
		from := to + rng.Intn(len(p.Activations)-to)
		p.Activations[to].Inputs = append(p.Activations[to].Inputs, Link{From: from, Weight: rng.Float64() * 2, Recurrent: true})
		p.Activations[to].Fn = rectifiedTanh
		p.Activations[from].Fn = rectifiedTanh
	}
	for k := 0; k < rng.Intn(nPrims+1); k++ {
		a, b := rng.Intn(nPrims), rng.Intn(nPrims)
		if a != b {
			p.Conflicts = append(p.Conflicts, Conflict{Prims: []int{a, b}})
		}
	}
	return p
}

func bruteForce(t *testing.T, p *Problem) float64 {
	t.Helper()
	best := math.Inf(-1)
	n := p.NumPrims()
	for mask := 0; mask < 1<<n; mask++ {
		sel := make([]bool, n)
		for q := 0; q < n; q++ {
			sel[q] = mask&(1<<q) != 0
		}
		score, _, ok, settled := Evaluate(p, sel, DefaultConfig())
		if ok && settled && score > best {
			best = score
		}
	}
	return best
}

func TestSearchMatchesExhaustiveEnumerationWithLoops(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	checked := 0
	for i := 0; i < 80; i++ {
		p := randomProblem(rng, true)
		res, err := Run(context.Background(), p, DefaultConfig())
		require.NoError(t, err)
		if !res.Settled {
			continue
		}
		checked++
		assert.InDelta(t, bruteForce(t, p), res.Score, 1e-6, "problem %d", i)

		selected := make([]bool, p.NumPrims())
		for _, q := range res.SelectedPrims() {
			selected[q] = true
		}
		got, _, ok, settled := Evaluate(p, selected, DefaultConfig())
		require.True(t, ok)
		assert.True(t, settled, "problem %d", i)
		assert.InDelta(t, res.Score, got, 1e-6, "problem %d", i)
	}
	assert.Positive(t, checked)
}

// loopChoice lets x and y exclude each other. x alone scores below y, but
// x feeds r which feeds back into x, lifting both above y.
func loopChoice(recurrent bool) *Problem {
	p := &Problem{
		PrimLabels: []string{"x", "y"},
		Activations: []Activation{
			{Label: "x", Bias: 0.5, Fn: rectifiedTanh, Own: 0, Option: []int{0}},
			{Label: "r", Fn: rectifiedTanh, Own: -1, Option: []int{0}, Inputs: []Link{{From: 0, Weight: 1}}},
			{Label: "y", Bias: 1, Fn: rectifiedTanh, Own: 1, Option: []int{1}},
		},
		Conflicts: []Conflict{{Prims: []int{0, 1}}},
	}
	if recurrent {
		p.Activations[0].Inputs = []Link{{From: 1, Weight: 2, Recurrent: true}}
	}
	return p
}

func TestRecurrentLoopChangesSelection(t *testing.T) {
	res, err := Run(context.Background(), loopChoice(false), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.SelectedPrims())
	// x = 0.5, r = tanh(0.5)
	_, _, _, settled := Evaluate(loopChoice(false), []bool{true, false}, DefaultConfig())
	assert.True(t, settled)

	res, err = Run(context.Background(), loopChoice(true), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.SelectedPrims())
	assert.True(t, res.Settled)
	// x settles where x = tanh(0.5 + 2 tanh(x))
	x := res.Values[0]
	assert.InDelta(t, math.Tanh(0.5+2*math.Tanh(x)), x, 1e-6)
	assert.InDelta(t, 0.5+2*res.Values[1]+res.Nets[1], res.Score, 1e-6)
	assert.Greater(t, res.Score, 2.5)
}

func TestDivergentLoopIsReported(t *testing.T) {
	p := &Problem{
		PrimLabels: []string{"x"},
		Activations: []Activation{
			{Label: "x", Bias: 1, Own: 0, Option: []int{0}, Inputs: []Link{{From: 1, Weight: 2, Recurrent: true}}},
			{Label: "r", Bias: 1, Own: -1, Option: []int{0}, Inputs: []Link{{From: 0, Weight: 2}}},
		},
	}
	res, err := Run(context.Background(), p, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.SelectedPrims())
	assert.False(t, res.Settled)
	assert.Positive(t, res.Unsettled)

	_, _, ok, settled := Evaluate(p, []bool{true}, DefaultConfig())
	assert.True(t, ok)
	assert.False(t, settled)

	// a bounded activation function lets the same loop settle
	p.Activations[0].Fn = rectifiedTanh
	p.Activations[1].Fn = rectifiedTanh
	res, err = Run(context.Background(), p, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Zero(t, res.Unsettled)
}
