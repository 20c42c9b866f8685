// Package gop computes goodness-of-pronunciation scores from a forced
// alignment.
package gop

import (
	"math"

	"talky/internal/align"
	"talky/internal/phoneme"
	"talky/internal/sequence"
)

// Sentinel is the score of a phoneme or word with nothing to average.
const Sentinel = 0.0

// PhonemeScore is the confidence of one target phoneme. Score is the mean,
// over its frames, of P(target) minus the best competing class probability,
// so it lies in [-1, 1].
type PhonemeScore struct {
	Symbol phoneme.Symbol `json:"symbol"`
	Word   int            `json:"word"`
	Frames []int          `json:"frames"`
	Score  float64        `json:"score"`
	Empty  bool           `json:"empty,omitempty"`
	Start  float64        `json:"start,omitempty"` // seconds
	End    float64        `json:"end,omitempty"`
}

type WordScore struct {
	Text     string         `json:"text"`
	Phonemes []PhonemeScore `json:"phonemes"`
	Score    float64        `json:"score"`
	Empty    bool           `json:"empty,omitempty"`
}

// Report groups phoneme scores by word in reference order. Every reference
// word appears, including words without phonemes.
type Report struct {
	Words    []WordScore    `json:"words"`
	Phonemes []PhonemeScore `json:"-"`
	Overall  float64        `json:"overall"`
}

type options struct {
	frameSeconds float64
	ignored      map[int]bool
}

type Option func(*options)

// WithFrameDuration sets the duration of one frame so phoneme scores carry
// start and end times.
func WithFrameDuration(seconds float64) Option {
	return func(o *options) {
		o.frameSeconds = seconds
	}
}

// WithIgnoredClasses excludes classes such as the CTC blank from the
// competitor set.
func WithIgnoredClasses(classes ...int) Option {
	return func(o *options) {
		for _, c := range classes {
			o.ignored[c] = true
		}
	}
}

// Score scores every phoneme of seq using the frames path assigns to it.
func Score(m *align.Matrix, seq *sequence.Expected, path align.Path, opts ...Option) Report {
	o := options{ignored: make(map[int]bool)}
	for _, opt := range opts {
		opt(&o)
	}

	symbols, owners, indices := seq.Flatten()
	byPhoneme := path.FramesByPhoneme(len(symbols))

	phonemes := make([]PhonemeScore, len(symbols))
	for n := range symbols {
		ps := PhonemeScore{
			Symbol: symbols[n],
			Word:   owners[n],
			Frames: byPhoneme[n],
		}
		if len(ps.Frames) == 0 {
			ps.Score = Sentinel
			ps.Empty = true
		} else {
			sum := 0.0
			for _, t := range ps.Frames {
				sum += margin(m, t, indices[n], o.ignored)
			}
			ps.Score = sum / float64(len(ps.Frames))
			if o.frameSeconds > 0 {
				ps.Start = float64(ps.Frames[0]) * o.frameSeconds
				ps.End = float64(ps.Frames[len(ps.Frames)-1]+1) * o.frameSeconds
			}
		}
		phonemes[n] = ps
	}

	words := make([]WordScore, len(seq.Words))
	for i, w := range seq.Words {
		words[i] = WordScore{Text: w.Text, Phonemes: []PhonemeScore{}}
	}
	for _, ps := range phonemes {
		words[ps.Word].Phonemes = append(words[ps.Word].Phonemes, ps)
	}
	for i := range words {
		words[i].Score, words[i].Empty = mean(words[i].Phonemes)
	}

	overall, _ := mean(phonemes)
	return Report{Words: words, Phonemes: phonemes, Overall: overall}
}

// margin returns P(target) minus the highest probability of any other
// non-ignored class at frame t.
func margin(m *align.Matrix, t, target int, ignored map[int]bool) float64 {
	best := math.Inf(-1)
	for v := 0; v < m.Vocab(); v++ {
		if v == target || ignored[v] {
			continue
		}
		best = math.Max(best, m.LogProb(t, v))
	}
	return m.Prob(t, target) - math.Exp(best)
}

// mean averages non-empty phoneme scores. It reports true when there were
// none and the sentinel was used.
func mean(ps []PhonemeScore) (float64, bool) {
	sum, n := 0.0, 0
	for _, p := range ps {
		if p.Empty {
			continue
		}
		sum += p.Score
		n++
	}
	if n == 0 {
		return Sentinel, true
	}
	return sum / float64(n), false
}
