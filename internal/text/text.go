// Package text turns plain text into document inputs: one input per
// character, labelled by the character itself, and optionally one input per
// word carrying the word's index as relational id.
package text

import (
	"fmt"
	"unicode"

	"patternlattice/internal/engine"
	"patternlattice/internal/logging"
	"patternlattice/internal/position"
)

// Token is one input to add to a document.
type Token struct {
	Label  string
	Range  position.Range
	RID    int
	HasRID bool
}

// Tokenizer splits text into tokens. Positions count runes.
type Tokenizer struct {
	// Word is the input neuron label for words; empty disables word tokens.
	Word string
	// SkipSpace drops whitespace characters.
	SkipSpace bool
}

// Tokens returns the character tokens of s followed by its word tokens.
func (t Tokenizer) Tokens(s string) []Token {
	var out, words []Token
	start, index := -1, 0
	i := 0
	for _, r := range s {
		space := unicode.IsSpace(r)
		if !space || !t.SkipSpace {
			out = append(out, Token{Label: string(r), Range: position.NewRange(i, i+1)})
		}
		switch {
		case space && start >= 0:
			words = append(words, Token{Label: t.Word, Range: position.NewRange(start, i), RID: index, HasRID: true})
			start = -1
			index++
		case !space && start < 0:
			start = i
		}
		i++
	}
	if start >= 0 {
		words = append(words, Token{Label: t.Word, Range: position.NewRange(start, i), RID: index, HasRID: true})
	}
	if t.Word == "" {
		return out
	}
	return append(out, words...)
}

// Alphabet registers an input neuron for every distinct label of s that the
// model does not know yet and returns the number added.
func (t Tokenizer) Alphabet(m *engine.Model, s string) (int, error) {
	added := 0
	for _, tok := range t.Tokens(s) {
		if m.Neuron(tok.Label) != nil {
			continue
		}
		if _, err := m.AddInputNeuron(tok.Label); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Feed adds every token of s to d and returns the number of inputs added.
func (t Tokenizer) Feed(d *engine.Document, s string) (int, error) {
	count := 0
	for _, tok := range t.Tokens(s) {
		_, err := d.AddInput(tok.Label, engine.Input{Range: tok.Range, RID: tok.RID, HasRID: tok.HasRID})
		if err != nil {
			return count, fmt.Errorf("token %q at %s: %w", tok.Label, tok.Range, err)
		}
		count++
	}
	logging.DocumentDebug("Document %s: fed %d tokens", d.Name, count)
	return count, nil
}
