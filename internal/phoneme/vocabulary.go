// Package phoneme maps phoneme symbols to acoustic model output indices and
// translates between phone-set notations.
package phoneme

import (
	"errors"
	"fmt"
)

// Symbol is an opaque phoneme token from a closed label set.
type Symbol string

// Labels commonly used by CTC models for the blank class and the word delimiter.
var (
	blankLabels         = []Symbol{"<pad>", "<blank>", "[PAD]", "_"}
	wordDelimiterLabels = []Symbol{"|", "<sep>"}
)

var ErrEmptyVocabulary = errors.New("vocabulary has no labels")

// Vocabulary is a bidirectional mapping between symbols and model output
// indices. It is immutable after construction and safe for concurrent reads.
type Vocabulary struct {
	labels []Symbol
	index  map[Symbol]int
}

// NewVocabulary builds a vocabulary from the model's label list, in output order.
func NewVocabulary(labels []string) (*Vocabulary, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyVocabulary
	}

	v := &Vocabulary{
		labels: make([]Symbol, len(labels)),
		index:  make(map[Symbol]int, len(labels)),
	}
	for i, l := range labels {
		s := Symbol(l)
		if _, dup := v.index[s]; dup {
			return nil, fmt.Errorf("duplicate label %q at index %d", l, i)
		}
		v.labels[i] = s
		v.index[s] = i
	}
	return v, nil
}

// IndexOf returns the output index of a symbol.
func (v *Vocabulary) IndexOf(s Symbol) (int, bool) {
	i, ok := v.index[s]
	return i, ok
}

// SymbolOf returns the symbol at an output index.
func (v *Vocabulary) SymbolOf(i int) (Symbol, bool) {
	if i < 0 || i >= len(v.labels) {
		return "", false
	}
	return v.labels[i], true
}

// Len returns the vocabulary size V.
func (v *Vocabulary) Len() int {
	return len(v.labels)
}

// Labels returns a copy of the labels in output order.
func (v *Vocabulary) Labels() []Symbol {
	out := make([]Symbol, len(v.labels))
	copy(out, v.labels)
	return out
}

// Blank returns the index of the CTC blank/pad label, if the vocabulary has one.
func (v *Vocabulary) Blank() (int, bool) {
	return v.first(blankLabels)
}

// WordDelimiter returns the index of the word delimiter label, if any.
func (v *Vocabulary) WordDelimiter() (int, bool) {
	return v.first(wordDelimiterLabels)
}

// IsSpecial reports whether index i is a blank, pad or delimiter label rather
// than a phoneme.
func (v *Vocabulary) IsSpecial(i int) bool {
	if b, ok := v.Blank(); ok && b == i {
		return true
	}
	if d, ok := v.WordDelimiter(); ok && d == i {
		return true
	}
	s, ok := v.SymbolOf(i)
	if !ok {
		return false
	}
	switch s {
	case "<s>", "</s>", "<unk>", "[UNK]":
		return true
	}
	return false
}

func (v *Vocabulary) first(candidates []Symbol) (int, bool) {
	for _, c := range candidates {
		if i, ok := v.index[c]; ok {
			return i, true
		}
	}
	return 0, false
}
