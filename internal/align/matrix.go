// Package align force-aligns per-frame phoneme log-probabilities against an
// ordered target phoneme sequence.
package align

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyMatrix   = errors.New("probability matrix has no frames")
	ErrRaggedMatrix  = errors.New("probability matrix rows differ in length")
	ErrInvalidMatrix = errors.New("probability matrix holds an invalid value")
)

// Matrix is a dense [T x V] table of per-frame log-probabilities. It is
// immutable after construction.
type Matrix struct {
	rows  [][]float64
	vocab int
}

// NewMatrix copies log-probabilities as produced by a log-softmax layer.
// Entries must be finite or -Inf.
func NewMatrix(logProbs [][]float64) (*Matrix, error) {
	if err := validateShape(logProbs); err != nil {
		return nil, err
	}

	rows := make([][]float64, len(logProbs))
	for t, row := range logProbs {
		rows[t] = make([]float64, len(row))
		for v, lp := range row {
			if math.IsNaN(lp) || math.IsInf(lp, 1) {
				return nil, fmt.Errorf("%w: %v at frame %d, class %d", ErrInvalidMatrix, lp, t, v)
			}
			rows[t][v] = lp
		}
	}
	return &Matrix{rows: rows, vocab: len(logProbs[0])}, nil
}

// FromProbabilities normalizes each row of non-negative weights to sum to one
// and stores its logarithm. Only relative magnitudes within a row matter.
func FromProbabilities(raw [][]float64) (*Matrix, error) {
	if err := validateShape(raw); err != nil {
		return nil, err
	}

	rows := make([][]float64, len(raw))
	for t, row := range raw {
		sum := 0.0
		for v, p := range row {
			if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
				return nil, fmt.Errorf("%w: %v at frame %d, class %d", ErrInvalidMatrix, p, t, v)
			}
			sum += p
		}
		if sum == 0 {
			return nil, fmt.Errorf("%w: frame %d sums to zero", ErrInvalidMatrix, t)
		}

		rows[t] = make([]float64, len(row))
		for v, p := range row {
			rows[t][v] = math.Log(p / sum)
		}
	}
	return &Matrix{rows: rows, vocab: len(raw[0])}, nil
}

// FromLogits applies a numerically stable log-softmax to each row.
func FromLogits(logits [][]float64) (*Matrix, error) {
	if err := validateShape(logits); err != nil {
		return nil, err
	}

	rows := make([][]float64, len(logits))
	for t, row := range logits {
		hi := math.Inf(-1)
		for v, x := range row {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("%w: %v at frame %d, class %d", ErrInvalidMatrix, x, t, v)
			}
			hi = math.Max(hi, x)
		}
		sum := 0.0
		for _, x := range row {
			sum += math.Exp(x - hi)
		}
		lse := hi + math.Log(sum)

		rows[t] = make([]float64, len(row))
		for v, x := range row {
			rows[t][v] = x - lse
		}
	}
	return &Matrix{rows: rows, vocab: len(logits[0])}, nil
}

func validateShape(rows [][]float64) error {
	if len(rows) == 0 {
		return ErrEmptyMatrix
	}
	v := len(rows[0])
	if v == 0 {
		return fmt.Errorf("%w: frame 0 is empty", ErrInvalidMatrix)
	}
	for t, row := range rows {
		if len(row) != v {
			return fmt.Errorf("%w: frame %d has %d classes, want %d", ErrRaggedMatrix, t, len(row), v)
		}
	}
	return nil
}

// Frames returns T.
func (m *Matrix) Frames() int {
	return len(m.rows)
}

// Vocab returns V.
func (m *Matrix) Vocab() int {
	return m.vocab
}

// LogProb returns log P(v | t).
func (m *Matrix) LogProb(t, v int) float64 {
	return m.rows[t][v]
}

// Prob returns P(v | t).
func (m *Matrix) Prob(t, v int) float64 {
	return math.Exp(m.rows[t][v])
}

// Argmax returns the most probable class at frame t. Ties go to the lower index.
func (m *Matrix) Argmax(t int) int {
	best := 0
	for v := 1; v < m.vocab; v++ {
		if m.rows[t][v] > m.rows[t][best] {
			best = v
		}
	}
	return best
}

// MeanMaxProbability averages the top class probability over all frames.
func (m *Matrix) MeanMaxProbability() float64 {
	sum := 0.0
	for t := range m.rows {
		sum += m.Prob(t, m.Argmax(t))
	}
	return sum / float64(len(m.rows))
}
