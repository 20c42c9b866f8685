package scoring

import (
	"context"
	"fmt"

	"talky/internal/feedback"
)

const (
	DefaultPassedMessage   = "Great job!"
	DefaultFallbackMessage = "Hmm, try again."
)

// Result is the terminal output of one scoring request.
type Result struct {
	Transcription string    `json:"transcription"`
	Reference     string    `json:"reference"`
	Score         float64   `json:"score"`
	Passed        bool      `json:"passed"`
	Feedback      string    `json:"feedback"`
	Strategy      string    `json:"strategy"`
	Direction     Direction `json:"direction"`
}

// Evaluate applies s to the evidence.
func Evaluate(s Strategy, ev Evidence, transcription, reference string) Result {
	score := s.Score(ev)
	return Result{
		Transcription: transcription,
		Reference:     reference,
		Score:         score,
		Passed:        s.Passed(score),
		Strategy:      s.Name(),
		Direction:     s.Direction(),
	}
}

// Trigger attaches feedback text to results. Passing results get a fixed
// message; failing ones ask the generator.
type Trigger struct {
	Generator       feedback.Generator
	PassedMessage   string
	FallbackMessage string
}

// Resolve fills r.Feedback. It never changes the score or pass flag. When the
// generator fails the result still carries the fallback text and the error is
// returned for logging.
func (t *Trigger) Resolve(ctx context.Context, r Result) (Result, error) {
	if r.Passed {
		r.Feedback = orDefault(t.PassedMessage, DefaultPassedMessage)
		return r, nil
	}

	r.Feedback = orDefault(t.FallbackMessage, DefaultFallbackMessage)
	if t.Generator == nil {
		return r, nil
	}

	text, err := t.Generator.Generate(ctx, r.Transcription, r.Reference)
	if err != nil {
		return r, fmt.Errorf("failed to generate feedback: %w", err)
	}
	if text != "" {
		r.Feedback = text
	}
	return r, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
