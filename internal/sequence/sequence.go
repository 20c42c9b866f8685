// Package sequence expands reference text into the ordered target phoneme
// sequence used by the forced aligner, keeping track of which word owns each
// phoneme.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"talky/internal/g2p"
	"talky/internal/phoneme"
	"talky/pkg/logger"

	"go.uber.org/zap"
)

var ErrNoVocabulary = errors.New("sequence builder requires a vocabulary")

// Word is one reference word and its resolvable phonemes. Phonemes may be
// empty; the word still keeps its position.
type Word struct {
	Text     string
	Phonemes []phoneme.Symbol
	Indices  []int // vocabulary index per phoneme
}

// DropReason says why a G2P symbol was left out of the sequence.
type DropReason int

const (
	// ReasonUnmapped: the symbol map has no target for the symbol.
	ReasonUnmapped DropReason = iota
	// ReasonNoIndex: the symbol translated but the vocabulary lacks it.
	ReasonNoIndex
)

func (r DropReason) String() string {
	switch r {
	case ReasonUnmapped:
		return "unmapped"
	case ReasonNoIndex:
		return "no-index"
	default:
		return "unknown"
	}
}

// Dropped records a G2P symbol excluded from the sequence. For ReasonNoIndex
// the Resolution carries the translated symbol.
type Dropped struct {
	Word       int
	Reason     DropReason
	Resolution phoneme.Resolution
}

func (d Dropped) String() string {
	if d.Reason == ReasonNoIndex {
		return fmt.Sprintf("no-index(%s)", d.Resolution)
	}
	return d.Resolution.String()
}

// Expected is the reference phoneme sequence grouped by word.
type Expected struct {
	Words   []Word
	Dropped []Dropped
}

// Len returns the flattened phoneme count N.
func (e *Expected) Len() int {
	n := 0
	for _, w := range e.Words {
		n += len(w.Phonemes)
	}
	return n
}

// Flatten returns the target symbols in order together with the owning word
// index and vocabulary index of each.
func (e *Expected) Flatten() (symbols []phoneme.Symbol, owners []int, indices []int) {
	n := e.Len()
	symbols = make([]phoneme.Symbol, 0, n)
	owners = make([]int, 0, n)
	indices = make([]int, 0, n)
	for wi, w := range e.Words {
		symbols = append(symbols, w.Phonemes...)
		indices = append(indices, w.Indices...)
		for range w.Phonemes {
			owners = append(owners, wi)
		}
	}
	return symbols, owners, indices
}

// Text returns the reference words joined by spaces.
func (e *Expected) Text() string {
	words := make([]string, len(e.Words))
	for i, w := range e.Words {
		words[i] = w.Text
	}
	return strings.Join(words, " ")
}

// PhonemeText returns the phonemes, space separated, for phoneme-level error
// rates.
func (e *Expected) PhonemeText() string {
	symbols, _, _ := e.Flatten()
	parts := make([]string, len(symbols))
	for i, s := range symbols {
		parts[i] = string(s)
	}
	return strings.Join(parts, " ")
}

// Builder turns words into an Expected sequence.
type Builder struct {
	Converter  g2p.Converter
	Vocabulary *phoneme.Vocabulary
	// Map translates G2P output into the vocabulary's notation. Nil means the
	// converter already speaks the vocabulary's notation.
	Map *phoneme.SymbolMap
}

// Build looks up every word in order. Symbols that cannot be resolved are
// left out and listed in Expected.Dropped.
func (b *Builder) Build(ctx context.Context, words []string) (*Expected, error) {
	if b.Vocabulary == nil {
		return nil, ErrNoVocabulary
	}

	exp := &Expected{Words: make([]Word, 0, len(words))}
	for wi, text := range words {
		raw, err := b.Converter.Phonemes(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %q to phonemes: %w", text, err)
		}

		w := Word{Text: text}
		for _, src := range raw {
			if isSeparator(src) {
				continue
			}

			res := phoneme.Translate(src, b.Map)
			sym, ok := res.Symbol()
			if !ok {
				exp.Dropped = append(exp.Dropped, Dropped{Word: wi, Reason: ReasonUnmapped, Resolution: res})
				continue
			}
			idx, ok := b.Vocabulary.IndexOf(sym)
			if !ok {
				exp.Dropped = append(exp.Dropped, Dropped{Word: wi, Reason: ReasonNoIndex, Resolution: res})
				continue
			}

			w.Phonemes = append(w.Phonemes, sym)
			w.Indices = append(w.Indices, idx)
		}
		exp.Words = append(exp.Words, w)
	}

	if len(exp.Dropped) > 0 {
		logger.Debug("Dropped unresolvable phonemes",
			zap.Int("dropped", len(exp.Dropped)),
			zap.Int("kept", exp.Len()))
	}

	return exp, nil
}

// Words splits reference text into lowercase words, trimming surrounding
// punctuation. Apostrophes inside words are kept.
func Words(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// isSeparator reports whether a G2P entry carries no phoneme, such as word
// gaps or punctuation.
func isSeparator(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
