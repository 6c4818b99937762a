package text

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternlattice/internal/config"
	"patternlattice/internal/engine"
	"patternlattice/internal/position"
	"patternlattice/internal/relation"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		name string
		tok  Tokenizer
		in   string
		want []Token
	}{
		{
			name: "characters",
			in:   "ab",
			want: []Token{
				{Label: "a", Range: position.NewRange(0, 1)},
				{Label: "b", Range: position.NewRange(1, 2)},
			},
		},
		{
			name: "runes not bytes",
			in:   "é!",
			want: []Token{
				{Label: "é", Range: position.NewRange(0, 1)},
				{Label: "!", Range: position.NewRange(1, 2)},
			},
		},
		{
			name: "words skip space",
			tok:  Tokenizer{Word: "W", SkipSpace: true},
			in:   "ab c",
			want: []Token{
				{Label: "a", Range: position.NewRange(0, 1)},
				{Label: "b", Range: position.NewRange(1, 2)},
				{Label: "c", Range: position.NewRange(3, 4)},
				{Label: "W", Range: position.NewRange(0, 2), RID: 0, HasRID: true},
				{Label: "W", Range: position.NewRange(3, 4), RID: 1, HasRID: true},
			},
		},
		{name: "empty", in: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.tok.Tokens(tt.in)); diff != "" {
				t.Errorf("tokens (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFeedMatchesWordSequence(t *testing.T) {
	m, err := engine.New(config.DefaultConfig().Engine)
	require.NoError(t, err)
	tok := Tokenizer{Word: "W", SkipSpace: true}
	added, err := tok.Alphabet(m, "the cat")
	require.NoError(t, err)
	// t h e c a W
	assert.Equal(t, 6, added)
	again, err := tok.Alphabet(m, "act")
	require.NoError(t, err)
	assert.Zero(t, again)

	// two consecutive words, the second one word after the first
	offset := 1
	_, err = m.AddNeuron(engine.NeuronSpec{
		Label: "PAIR",
		Bias:  -15,
		Synapses: []engine.SynapseSpec{
			{Input: "W", Weight: 10, Mapping: relation.Begin},
			{Input: "W", Weight: 10, Mapping: relation.End, RIDOffset: &offset},
		},
		Relations: []engine.SynapseRelation{{From: 0, To: 1, Rel: relation.RIDOffset{Offset: 1}}},
	})
	require.NoError(t, err)

	d := m.NewDocument("words")
	defer d.Close()
	n, err := tok.Feed(d, "the cat")
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	res, err := d.Process(context.Background())
	require.NoError(t, err)

	var spans []position.Range
	for _, a := range res.Activations {
		if a.Neuron.Label == "PAIR" {
			spans = append(spans, a.Range)
		}
	}
	assert.Equal(t, []position.Range{position.NewRange(0, 7)}, spans)

	_, err = tok.Feed(d, "dog")
	assert.ErrorIs(t, err, engine.ErrDocumentCommitted)
}
