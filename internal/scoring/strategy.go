// Package scoring turns alignment confidence and text divergence into a
// single 0-100 score and a pass decision.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrUnknownStrategy = errors.New("unknown scoring strategy")

// Direction states which way a strategy's score improves.
type Direction int

const (
	HigherIsBetter Direction = iota
	LowerIsBetter
)

func (d Direction) String() string {
	if d == LowerIsBetter {
		return "lower_is_better"
	}
	return "higher_is_better"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Evidence collects the measurements a strategy may draw on.
type Evidence struct {
	Similarity float64 // character similarity ratio in [0, 1]
	Confidence float64 // mean top-class probability in [0, 1]
	ErrorRate  float64 // phoneme error rate, percent
}

// Strategy is one scoring policy. Strategies are not interchangeable: callers
// must read Direction before comparing scores produced by different ones.
type Strategy interface {
	Name() string
	Direction() Direction
	Score(ev Evidence) float64
	Passed(score float64) bool
}

const (
	CoarseName           = "coarse"
	PhonemePrecisionName = "phoneme"

	DefaultCoarseThreshold  = 80
	DefaultPhonemeThreshold = 70
)

// Coarse blends similarity and confidence: (0.6*similarity + 0.4*confidence)*100.
type Coarse struct {
	PassThreshold float64
}

func (Coarse) Name() string         { return CoarseName }
func (Coarse) Direction() Direction { return HigherIsBetter }

func (c Coarse) Score(ev Evidence) float64 {
	return clamp((ev.Similarity*0.6 + ev.Confidence*0.4) * 100)
}

// Passed reports score >= PassThreshold.
func (c Coarse) Passed(score float64) bool {
	return score >= c.PassThreshold
}

// PhonemePrecision scores by phoneme error rate; 0 is a perfect attempt.
type PhonemePrecision struct {
	PassThreshold float64
}

func (PhonemePrecision) Name() string         { return PhonemePrecisionName }
func (PhonemePrecision) Direction() Direction { return LowerIsBetter }

func (p PhonemePrecision) Score(ev Evidence) float64 {
	return clamp(ev.ErrorRate)
}

// Passed reports score < PassThreshold.
func (p PhonemePrecision) Passed(score float64) bool {
	return score < p.PassThreshold
}

// Thresholds configures pass thresholds per strategy. Zero values select the
// defaults.
type Thresholds struct {
	Coarse  float64
	Phoneme float64
}

// ParseStrategy resolves a strategy by name. There is no default strategy;
// an empty name is an error.
func ParseStrategy(name string, th Thresholds) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CoarseName:
		if th.Coarse == 0 {
			th.Coarse = DefaultCoarseThreshold
		}
		return Coarse{PassThreshold: th.Coarse}, nil
	case PhonemePrecisionName, "phoneme-precision", "phoneme_precision":
		if th.Phoneme == 0 {
			th.Phoneme = DefaultPhonemeThreshold
		}
		return PhonemePrecision{PassThreshold: th.Phoneme}, nil
	default:
		return nil, fmt.Errorf("%w: %q (want %q or %q)", ErrUnknownStrategy, name, CoarseName, PhonemePrecisionName)
	}
}

func clamp(score float64) float64 {
	return math.Max(0, math.Min(100, score))
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "higher_is_better":
		*d = HigherIsBetter
	case "lower_is_better":
		*d = LowerIsBetter
	default:
		return fmt.Errorf("unknown score direction %q", b)
	}
	return nil
}
