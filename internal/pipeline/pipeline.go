// Package pipeline scores one spoken attempt end to end: audio to acoustic
// model, forced alignment, goodness scores, text divergence and the composite
// result.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"talky/internal/acoustic"
	"talky/internal/align"
	"talky/internal/apperr"
	"talky/internal/audio"
	"talky/internal/divergence"
	"talky/internal/g2p"
	"talky/internal/gop"
	"talky/internal/observe"
	"talky/internal/phoneme"
	"talky/internal/scoring"
	"talky/internal/sequence"
	"talky/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWordHintThreshold is the Jaro-Winkler similarity below which an
// expected word is reported as missed.
const DefaultWordHintThreshold = 0.85

// ModelSource hands out the shared acoustic model.
type ModelSource interface {
	Acquire(ctx context.Context) (acoustic.Model, error)
}

// Request is one attempt to score.
type Request struct {
	Samples    []float32
	SampleRate int
	Reference  string
	Strategy   scoring.Strategy
}

// Outcome extends the composite result with the evidence behind it.
type Outcome struct {
	scoring.Result
	Words         []gop.WordScore `json:"words"`
	Overall       float64         `json:"overall"`
	Similarity    float64         `json:"similarity"`
	ErrorRate     float64         `json:"errorRate"`
	WordErrorRate float64         `json:"wordErrorRate"`
	Confidence    float64         `json:"confidence"`
	MissedWords   []string        `json:"missedWords"`
	Dropped       []string        `json:"dropped,omitempty"`

	// AlignmentError is set when forced alignment could not run and the
	// score rests on text divergence alone.
	AlignmentError string `json:"alignmentError,omitempty"`
	AlignErr       error  `json:"-"`
}

// Scorer wires the collaborators. Map may be nil when the G2P output is
// already in the model's notation. Trigger and Metrics are optional.
type Scorer struct {
	Models            ModelSource
	G2P               g2p.Converter
	Map               *phoneme.SymbolMap
	Trigger           *scoring.Trigger
	Metrics           *observe.Metrics
	WordHintThreshold float64
}

// Score runs the whole pipeline. Feedback failures never fail the call; the
// result then carries the fallback text.
func (s *Scorer) Score(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()

	if len(req.Samples) == 0 {
		return nil, apperr.Input("audio is empty", acoustic.ErrNoAudio)
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, apperr.Input("reference text is required", nil)
	}
	if req.Strategy == nil {
		return nil, apperr.Input("scoring strategy is required", scoring.ErrUnknownStrategy)
	}
	words := sequence.Words(req.Reference)
	if len(words) == 0 {
		return nil, apperr.Input("reference text has no words", nil)
	}

	clip, err := (&audio.Clip{Samples: req.Samples, SampleRate: req.SampleRate}).Normalize(acoustic.SampleRate)
	if err != nil {
		return nil, apperr.Input("invalid sample rate", err)
	}
	samples := clip.Samples

	model, err := s.Models.Acquire(ctx)
	if err != nil {
		return nil, apperr.External("acoustic model unavailable", err)
	}
	vocab := model.Vocabulary()

	var (
		decoding *acoustic.Decoding
		expected *sequence.Expected
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		decodeStart := time.Now()
		d, err := model.Decode(gctx, samples, acoustic.SampleRate)
		if err != nil {
			return apperr.External("acoustic model failed to decode audio", err)
		}
		s.metrics().DecodeDuration.Record(gctx, time.Since(decodeStart).Seconds())
		decoding = d
		return nil
	})
	g.Go(func() error {
		b := &sequence.Builder{Converter: s.G2P, Vocabulary: vocab, Map: s.Map}
		e, err := b.Build(gctx, words)
		if err != nil {
			return apperr.External("pronunciation lookup failed", err)
		}
		expected = e
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Outcome{}
	for _, d := range expected.Dropped {
		out.Dropped = append(out.Dropped, d.String())
		s.metrics().RecordDroppedPhoneme(ctx, d.Reason.String())
	}

	m := decoding.Matrix
	_, _, targets := expected.Flatten()

	var path align.Path
	if len(targets) == 0 {
		out.AlignErr = align.ErrEmptyTarget
	} else {
		path, _, out.AlignErr = align.ForcedAlign(m, targets)
	}
	if out.AlignErr != nil {
		out.AlignmentError = out.AlignErr.Error()
		s.metrics().RecordAlignmentFailure(ctx, alignmentReason(out.AlignErr))
		logger.Warn("Forced alignment unavailable, scoring on text divergence",
			zap.Error(out.AlignErr),
			zap.Int("frames", m.Frames()),
			zap.Int("phonemes", len(targets)))
	}

	opts := []gop.Option{gop.WithFrameDuration(model.FrameSeconds())}
	if blank, ok := vocab.Blank(); ok {
		opts = append(opts, gop.WithIgnoredClasses(blank))
	}
	report := gop.Score(m, expected, path, opts...)
	out.Words = report.Words
	out.Overall = report.Overall

	heard := acoustic.PhonemeText(acoustic.GreedyDecode(m, vocab), vocab)
	out.Similarity = divergence.SimilarityRatio(req.Reference, decoding.Text)
	out.ErrorRate = divergence.ErrorRate(expected.PhonemeText(), heard)
	out.WordErrorRate = divergence.ErrorRate(strings.Join(words, " "), strings.Join(sequence.Words(decoding.Text), " "))
	out.Confidence = m.MeanMaxProbability()
	out.MissedWords = divergence.MissedWords(req.Reference, decoding.Text, s.wordHintThreshold())
	if out.MissedWords == nil {
		out.MissedWords = []string{}
	}

	ev := scoring.Evidence{
		Similarity: out.Similarity,
		Confidence: out.Confidence,
		ErrorRate:  out.ErrorRate,
	}
	out.Result = scoring.Evaluate(req.Strategy, ev, decoding.Text, req.Reference)

	if s.Trigger != nil {
		var ferr error
		out.Result, ferr = s.Trigger.Resolve(ctx, out.Result)
		if ferr != nil {
			s.metrics().FeedbackErrors.Add(ctx, 1)
			logger.Warn("Feedback generation failed, using fallback", zap.Error(ferr))
		}
	}

	s.metrics().RecordAttempt(ctx, out.Strategy, out.Passed, time.Since(start).Seconds())
	logger.Info("Attempt scored",
		zap.String("strategy", out.Strategy),
		zap.Float64("score", out.Score),
		zap.Bool("passed", out.Passed),
		zap.Int("frames", m.Frames()),
		zap.Int("phonemes", len(targets)))

	return out, nil
}

func (s *Scorer) metrics() *observe.Metrics {
	if s.Metrics != nil {
		return s.Metrics
	}
	return observe.DefaultMetrics()
}

func (s *Scorer) wordHintThreshold() float64 {
	if s.WordHintThreshold > 0 {
		return s.WordHintThreshold
	}
	return DefaultWordHintThreshold
}

func alignmentReason(err error) string {
	switch {
	case errors.Is(err, align.ErrAlignmentImpossible):
		return "too_few_frames"
	case errors.Is(err, align.ErrEmptyTarget):
		return "no_phonemes"
	case errors.Is(err, align.ErrNoPath):
		return "no_path"
	case errors.Is(err, align.ErrTargetOutOfRange):
		return "out_of_range"
	default:
		return "other"
	}
}
