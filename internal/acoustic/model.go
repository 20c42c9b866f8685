// Package acoustic talks to the acoustic model that turns 16 kHz mono audio
// into per-frame phoneme log-probabilities.
package acoustic

import (
	"context"
	"errors"
	"strings"

	"talky/internal/align"
	"talky/internal/phoneme"
)

// SampleRate is the only rate models accept.
const SampleRate = 16000

var (
	ErrNoAudio    = errors.New("no audio samples")
	ErrSampleRate = errors.New("audio must be resampled to 16 kHz")
)

// Decoding is one utterance as seen by the model.
type Decoding struct {
	Matrix *align.Matrix
	Text   string
}

// Model is an acoustic model. Implementations must be safe for concurrent use.
type Model interface {
	Vocabulary() *phoneme.Vocabulary
	// FrameSeconds is the duration covered by one matrix row.
	FrameSeconds() float64
	Decode(ctx context.Context, samples []float32, sampleRate int) (*Decoding, error)
}

// GreedyDecode takes the best class per frame, collapses repeats and drops
// blanks. Word delimiters are kept.
func GreedyDecode(m *align.Matrix, v *phoneme.Vocabulary) []phoneme.Symbol {
	blank, hasBlank := v.Blank()
	delim, hasDelim := v.WordDelimiter()

	var out []phoneme.Symbol
	prev := -1
	for t := 0; t < m.Frames(); t++ {
		best := m.Argmax(t)
		if best == prev {
			continue
		}
		prev = best

		if hasBlank && best == blank {
			continue
		}
		if (!hasDelim || best != delim) && v.IsSpecial(best) {
			continue
		}
		if s, ok := v.SymbolOf(best); ok {
			out = append(out, s)
		}
	}
	return out
}

// Transcript joins greedy symbols into text, with word delimiters becoming
// spaces, the way character vocabularies spell words.
func Transcript(symbols []phoneme.Symbol, v *phoneme.Vocabulary) string {
	delim := delimiterSymbol(v)

	var b strings.Builder
	for _, s := range symbols {
		if s == delim {
			b.WriteByte(' ')
			continue
		}
		b.WriteString(string(s))
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// PhonemeText joins greedy symbols with single spaces, skipping word
// delimiters, for phoneme error rates.
func PhonemeText(symbols []phoneme.Symbol, v *phoneme.Vocabulary) string {
	delim := delimiterSymbol(v)

	parts := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s != delim {
			parts = append(parts, string(s))
		}
	}
	return strings.Join(parts, " ")
}

func delimiterSymbol(v *phoneme.Vocabulary) phoneme.Symbol {
	if i, ok := v.WordDelimiter(); ok {
		s, _ := v.SymbolOf(i)
		return s
	}
	return ""
}
