package align

import (
	"errors"
	"fmt"
	"math"
)

// Forced alignment
//
// Every frame is assigned to exactly one target phoneme, in order, and every
// target phoneme receives at least one frame.
//
// Trellis (T+1)x(N+1):
//
//	trellis[0][0] = 0, all other cells start at -Inf
//	stay:    trellis[t+1][n]   <- trellis[t][n] + lp[t][target[n]]  (n < N)
//	advance: trellis[t+1][n+1] <- trellis[t][n] + lp[t][target[n]]  (n < N)
//
// Cells take the max of both candidates; exact ties go to advance. The best
// score is trellis[T][N]. The path is recovered by walking back from (T, N)
// and recomputing both candidates at each cell.
var (
	ErrAlignmentImpossible = errors.New("alignment impossible: fewer frames than target phonemes")
	ErrEmptyTarget         = errors.New("target phoneme sequence is empty")
	ErrNoPath              = errors.New("no alignment path with non-zero probability")
	ErrTargetOutOfRange    = errors.New("target index outside the matrix vocabulary")
)

// Step assigns one frame to one target phoneme position.
type Step struct {
	Frame   int
	Phoneme int
}

// Path holds one Step per frame in frame order. Phoneme positions are
// non-decreasing and run from 0 to N-1.
type Path []Step

// Segment is the half-open frame span [Start, End) of one target phoneme.
type Segment struct {
	Phoneme int
	Start   int
	End     int
}

// Len returns the number of frames in the segment.
func (s Segment) Len() int {
	return s.End - s.Start
}

// Segments collapses the path into one span per target phoneme, in order.
func (p Path) Segments() []Segment {
	var out []Segment
	for _, st := range p {
		if n := len(out); n > 0 && out[n-1].Phoneme == st.Phoneme {
			out[n-1].End = st.Frame + 1
			continue
		}
		out = append(out, Segment{Phoneme: st.Phoneme, Start: st.Frame, End: st.Frame + 1})
	}
	return out
}

// FramesByPhoneme groups frame indices by target position. The result has n
// entries; positions without frames get a nil slice.
func (p Path) FramesByPhoneme(n int) [][]int {
	out := make([][]int, n)
	for _, st := range p {
		if st.Phoneme >= 0 && st.Phoneme < n {
			out[st.Phoneme] = append(out[st.Phoneme], st.Frame)
		}
	}
	return out
}

// ForcedAlign returns the maximum-likelihood monotonic alignment of the
// matrix frames to targets, given as vocabulary indices, and its log score.
// No partial path is ever returned.
func ForcedAlign(m *Matrix, targets []int) (Path, float64, error) {
	T, N := m.Frames(), len(targets)
	if N == 0 {
		return nil, 0, ErrEmptyTarget
	}
	if T < N {
		return nil, 0, fmt.Errorf("%w: %d frames, %d phonemes", ErrAlignmentImpossible, T, N)
	}
	for n, v := range targets {
		if v < 0 || v >= m.Vocab() {
			return nil, 0, fmt.Errorf("%w: target %d is %d, vocabulary has %d", ErrTargetOutOfRange, n, v, m.Vocab())
		}
	}

	negInf := math.Inf(-1)
	trellis := make([][]float64, T+1)
	for t := range trellis {
		trellis[t] = make([]float64, N+1)
		for n := range trellis[t] {
			trellis[t][n] = negInf
		}
	}
	trellis[0][0] = 0

	for t := 0; t < T; t++ {
		for n := 0; n <= N; n++ {
			stay, adv := candidates(m, trellis, targets, t+1, n)
			if adv >= stay {
				trellis[t+1][n] = adv
			} else {
				trellis[t+1][n] = stay
			}
		}
	}

	score := trellis[T][N]
	if math.IsInf(score, -1) {
		return nil, 0, ErrNoPath
	}

	path := make(Path, T)
	n := N
	for t := T; t > 0; t-- {
		stay, adv := candidates(m, trellis, targets, t, n)
		if adv >= stay {
			n--
		}
		path[t-1] = Step{Frame: t - 1, Phoneme: n}
	}

	return path, score, nil
}

// candidates returns the stay and advance scores entering cell (t, n).
// Unavailable transitions are -Inf.
func candidates(m *Matrix, trellis [][]float64, targets []int, t, n int) (stay, adv float64) {
	stay, adv = math.Inf(-1), math.Inf(-1)
	if n < len(targets) {
		stay = trellis[t-1][n] + m.LogProb(t-1, targets[n])
	}
	if n >= 1 {
		adv = trellis[t-1][n-1] + m.LogProb(t-1, targets[n-1])
	}
	return stay, adv
}
